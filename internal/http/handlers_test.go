package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pooling/internal/booking"
	"github.com/example/ride-pooling/internal/dispatch"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/payments"
	"github.com/example/ride-pooling/internal/reservation"
	"github.com/example/ride-pooling/internal/storage"
)

var departure = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC).UnixMilli()

type okPayments struct{}

func (okPayments) Hold(context.Context, payments.HoldRequest) (string, error) { return "pi_1", nil }
func (okPayments) Cancel(context.Context, string) error                       { return nil }

type testEnv struct {
	srv   *httptest.Server
	store *storage.MemoryStore
	ws    *dispatch.WSRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	ws := dispatch.NewWSRegistry()
	coord := &reservation.Coordinator{Seats: store, Ledger: reservation.NewMemoryLedger(), Events: ws, Logger: logger}
	s := NewServer(Deps{
		Matcher:      &matcher.Service{Trips: store, Events: ws, Logger: logger},
		Configs:      matcher.NewConfigStore(matcher.DefaultMatchConfig()),
		Reservations: coord,
		Trips:        store,
		Booking:      &booking.Service{Reservations: coord, Payments: okPayments{}, Logger: logger},
		WSReg:        ws,
		Ready:        func(context.Context) error { return nil },
	}, logger)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, ws: ws}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (e *testEnv) seedTrip(t *testing.T, id string, seats int) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/trips", models.DriverTrip{
		ID:              id,
		DriverID:        "driver-" + id,
		Departure:       models.Coordinate{Lat: -29.85, Lng: 31.02},
		Destination:     models.Coordinate{Lat: -29.80, Lng: 30.90},
		DepartureTimeMs: departure,
		TotalSeats:      seats,
		AvailableSeats:  seats,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func riderRequest() models.RiderRequest {
	return models.RiderRequest{
		Pickup:              models.Coordinate{Lat: -29.86, Lng: 31.03},
		Dropoff:             models.Coordinate{Lat: -29.81, Lng: 30.91},
		EarliestDepartureMs: departure - 15*60*1000,
		LatestDepartureMs:   departure + 15*60*1000,
		SeatsNeeded:         1,
	}
}

func TestFindMatchesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrip(t, "T1", 3)

	resp, body := env.do(t, http.MethodPost, "/api/v1/matches", riderRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out models.MatchResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "T1", out.Matches[0].DriverTripID)
	assert.Equal(t, models.MatchStats{CandidatesTotal: 1, CandidatesPassedFilters: 1}, out.Stats)
	assert.Equal(t, int64(1), out.ConfigVersion)
}

func TestFindMatchesRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	req := riderRequest()
	req.SeatsNeeded = 0
	resp, _ := env.do(t, http.MethodPost, "/api/v1/matches", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/matches", map[string]any{"pickup": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReservationLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrip(t, "T2", 1)

	resp, body := env.do(t, http.MethodPost, "/api/v1/reservations", reserveRequest{DriverTripID: "T2", Seats: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var tok models.ReservationToken
	require.NoError(t, json.Unmarshal(body, &tok))
	assert.Equal(t, models.ReservationReserved, tok.State)

	resp, body = env.do(t, http.MethodPost, "/api/v1/reservations", reserveRequest{DriverTripID: "T2", Seats: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, string(models.SeatExhausted), eb.Kind)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/reservations/"+tok.ID+"/release", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/v1/reservations/"+tok.ID+"/release", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "second release is a no-op")

	resp, body = env.do(t, http.MethodPost, "/api/v1/reservations/"+tok.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, string(models.AlreadyReleased), eb.Kind)

	resp, body = env.do(t, http.MethodGet, "/api/v1/reservations/"+tok.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &tok))
	assert.Equal(t, models.ReservationReleased, tok.State)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/reservations/unknown/confirm", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/reservations", reserveRequest{DriverTripID: "missing", Seats: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/trips/T2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trip models.DriverTrip
	require.NoError(t, json.Unmarshal(body, &trip))
	assert.Equal(t, 1, trip.AvailableSeats)
}

func TestRepublishTripKeepsHeldSeats(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrip(t, "T7", 3)

	resp, body := env.do(t, http.MethodPost, "/api/v1/reservations", reserveRequest{DriverTripID: "T7", Seats: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var tok models.ReservationToken
	require.NoError(t, json.Unmarshal(body, &tok))

	// the driver edits the offer and sends a full seat count back
	resp, body = env.do(t, http.MethodPost, "/api/v1/trips", models.DriverTrip{
		ID:              "T7",
		DriverID:        "driver-T7",
		Departure:       models.Coordinate{Lat: -29.85, Lng: 31.02},
		Destination:     models.Coordinate{Lat: -29.80, Lng: 30.90},
		DepartureTimeMs: departure,
		TotalSeats:      3,
		AvailableSeats:  3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var trip models.DriverTrip
	require.NoError(t, json.Unmarshal(body, &trip))
	assert.Equal(t, 1, trip.AvailableSeats)

	resp, body = env.do(t, http.MethodPost, "/api/v1/trips", models.DriverTrip{
		ID:              "T7",
		DriverID:        "driver-T7",
		Departure:       models.Coordinate{Lat: -29.85, Lng: 31.02},
		Destination:     models.Coordinate{Lat: -29.80, Lng: 30.90},
		DepartureTimeMs: departure,
		TotalSeats:      1,
		AvailableSeats:  1,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "capacity below held seats")
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, string(models.SeatExhausted), eb.Kind)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/reservations/"+tok.ID+"/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/trips/T7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &trip))
	assert.Equal(t, 3, trip.AvailableSeats)
	assert.Equal(t, 3, trip.TotalSeats)
}

func TestBookingEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrip(t, "T3", 2)

	resp, body := env.do(t, http.MethodPost, "/api/v1/bookings", booking.Request{
		DriverTripID: "T3", Seats: 2, AmountMinor: 9000, Currency: "ZAR",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var b booking.Booking
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Equal(t, "pi_1", b.PaymentIntentID)
	assert.Equal(t, models.ReservationConfirmed, b.Reservation.State)
}

func TestMatchConfigSwap(t *testing.T) {
	env := newTestEnv(t)

	p := matcher.DefaultConfigParams()
	p.MaxAbsoluteDetourKm = 1
	resp, body := env.do(t, http.MethodPut, "/api/v1/match-config", p)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var view matchConfigView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, int64(2), view.Version)

	resp, body = env.do(t, http.MethodGet, "/api/v1/match-config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, 1.0, view.MaxAbsoluteDetourKm)

	p.Weights.Detour = 0.9
	resp, _ = env.do(t, http.MethodPut, "/api/v1/match-config", p)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// the tighter cap now excludes the seeded trip
	env.seedTrip(t, "T4", 2)
	resp, body = env.do(t, http.MethodPost, "/api/v1/matches", riderRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out models.MatchResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Empty(t, out.Matches)
	assert.Equal(t, int64(2), out.ConfigVersion)
}

func TestDriverSocketReceivesReservationEvents(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrip(t, "T5", 2)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws/driver-T5", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.ws.Connected("driver-T5") }, 2*time.Second, 10*time.Millisecond)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/reservations", reserveRequest{DriverTripID: "T5", Seats: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventReservationReserved, ev.Type)
	assert.Equal(t, "T5", ev.TripID)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, _ = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyReportsBackendFailure(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := NewServer(Deps{
		Configs: matcher.NewConfigStore(matcher.DefaultMatchConfig()),
		Ready:   func(context.Context) error { return errors.New("redis down") },
	}, logger)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := NewServer(Deps{Configs: matcher.NewConfigStore(matcher.DefaultMatchConfig())}, logger)
	s.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
