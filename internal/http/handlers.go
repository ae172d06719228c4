package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-pooling/internal/booking"
	"github.com/example/ride-pooling/internal/dispatch"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/reservation"
	"github.com/example/ride-pooling/internal/storage"
)

const maxBodyBytes = 1 << 20

// Deps are the services the HTTP layer fronts. Booking may be nil when no
// payment provider is configured; Ready may be nil.
type Deps struct {
	Matcher      *matcher.Service
	Configs      *matcher.ConfigStore
	Reservations *reservation.Coordinator
	Trips        storage.TripRepository
	Booking      *booking.Service
	WSReg        *dispatch.WSRegistry
	Ready        func(ctx context.Context) error
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/matches", s.handleFindMatches).Methods(http.MethodPost)
	api.HandleFunc("/trips", s.handleUpsertTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods(http.MethodGet)
	api.HandleFunc("/reservations", s.handleReserve).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{token}", s.handleGetReservation).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{token}/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{token}/release", s.handleRelease).Methods(http.MethodPost)
	if s.Booking != nil {
		api.HandleFunc("/bookings", s.handleBook).Methods(http.MethodPost)
	}
	api.HandleFunc("/match-config", s.handleGetMatchConfig).Methods(http.MethodGet)
	api.HandleFunc("/match-config", s.handlePutMatchConfig).Methods(http.MethodPut)

	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.WSReg != nil {
		s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleFindMatches(w http.ResponseWriter, r *http.Request) {
	var req models.RiderRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.Matcher.FindMatches(r.Context(), req, s.Configs.Load())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpsertTrip(w http.ResponseWriter, r *http.Request) {
	var t models.DriverTrip
	if !s.decode(w, r, &t) {
		return
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TripScheduled
	}
	if err := s.Trips.UpsertTrip(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	// an existing trip keeps its live seat count, so answer with what was stored
	stored, err := s.Trips.GetTrip(r.Context(), t.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Trips.GetTrip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type reserveRequest struct {
	DriverTripID string `json:"driver_trip_id"`
	Seats        int    `json:"seats"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !s.decode(w, r, &req) {
		return
	}
	tok, err := s.Reservations.Reserve(r.Context(), req.DriverTripID, req.Seats)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	tok, err := s.Reservations.Ledger.Get(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	tok, err := s.Reservations.Confirm(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	tok, err := s.Reservations.Release(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.Booking.Book(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type matchConfigView struct {
	Version int64 `json:"version"`
	matcher.ConfigParams
}

func (s *Server) handleGetMatchConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.Configs.Load()
	writeJSON(w, http.StatusOK, matchConfigView{Version: cfg.Version(), ConfigParams: cfg.Params()})
}

func (s *Server) handlePutMatchConfig(w http.ResponseWriter, r *http.Request) {
	var p matcher.ConfigParams
	if !s.decode(w, r, &p) {
		return
	}
	cfg, err := matcher.NewMatchConfig(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	installed := s.Configs.Swap(cfg)
	s.logger.Info("match_config_swapped", "version", installed.Version())
	writeJSON(w, http.StatusOK, matchConfigView{Version: installed.Version(), ConfigParams: installed.Params()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the failure response
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		// drain control frames until the driver goes away
		defer s.WSReg.Remove(id, conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *models.ConflictError
	switch {
	case errors.As(err, &ce):
		status := http.StatusConflict
		if ce.Kind == models.TripNotFound || ce.Kind == models.InvalidToken {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: ce.Error(), Kind: string(ce.Kind)})
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, matcher.ErrInvalidConfig):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, booking.ErrPaymentFailed):
		writeJSON(w, http.StatusPaymentRequired, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { return uuid.NewString() }
