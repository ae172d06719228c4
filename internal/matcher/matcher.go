package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-pooling/internal/eta"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
)

// TripSource supplies the point-in-time snapshot the pipeline ranks.
type TripSource interface {
	ListSchedulableTrips(ctx context.Context, w models.TimeWindow) ([]models.DriverTrip, error)
}

type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

type Service struct {
	Trips           TripSource
	Events          Publisher // optional
	Logger          *slog.Logger
	DefaultSpeedMps float64
	ETAClient       eta.Client // optional OSRM client
	ETACache        *eta.Cache // optional ETA cache
	NewID           func() string
}

// Match runs filter, proximity, scoring and assembly over a snapshot. It is
// pure: no I/O, no shared state, safe to call from any number of goroutines.
func Match(trips []models.DriverTrip, req models.RiderRequest, cfg MatchConfig, newID func() string) models.MatchResponse {
	feasible := FilterTrips(trips, req, cfg)
	ranked := Rank(Measure(feasible, req), req, cfg)
	stats := models.MatchStats{CandidatesTotal: len(trips), CandidatesPassedFilters: len(feasible)}
	resp := Assemble(ranked, req, stats, cfg.TopN(), newID)
	resp.ConfigVersion = cfg.Version()
	return resp
}

// FindMatches validates req, loads the schedulable trips for its window and
// ranks them under cfg. An empty match list is not an error.
func (s *Service) FindMatches(ctx context.Context, req models.RiderRequest, cfg MatchConfig) (models.MatchResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return models.MatchResponse{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	trips, err := s.Trips.ListSchedulableTrips(ctx, models.TimeWindow{FromMs: req.EarliestDepartureMs, ToMs: req.LatestDepartureMs})
	if err != nil {
		return models.MatchResponse{}, fmt.Errorf("list schedulable trips: %w", err)
	}

	resp := Match(trips, req, cfg, s.NewID)
	s.attachETA(ctx, resp.Matches, trips, req.Pickup)

	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchesTotal.Add(float64(len(resp.Matches)))
	observability.CandidatesPassed.Observe(float64(resp.Stats.CandidatesPassedFilters))

	s.logger().Info("matches_found",
		"rider_request_id", req.ID,
		"candidates_total", resp.Stats.CandidatesTotal,
		"candidates_passed", resp.Stats.CandidatesPassedFilters,
		"returned", len(resp.Matches),
		"config_version", resp.ConfigVersion,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if s.Events != nil {
		for _, m := range resp.Matches {
			// best-effort: the rider still gets results if notification fails
			if err := s.Events.Publish(ctx, models.Event{
				Type:     models.EventMatchesFound,
				TripID:   m.DriverTripID,
				DriverID: m.DriverID,
				At:       time.Now().UTC(),
			}); err != nil {
				s.logger().Warn("match event publish failed", "driver_trip_id", m.DriverTripID, "error", err)
			}
		}
	}
	return resp, nil
}

// attachETA estimates how long each matched driver needs from departure to
// the rider's pickup, preferring the cache, then the routing client, then
// the straight-line estimate.
func (s *Service) attachETA(ctx context.Context, matches []models.MatchResult, trips []models.DriverTrip, pickup models.Coordinate) {
	if len(matches) == 0 {
		return
	}
	byID := make(map[string]models.DriverTrip, len(trips))
	for _, t := range trips {
		byID[t.ID] = t
	}
	for i := range matches {
		t, ok := byID[matches[i].DriverTripID]
		if !ok {
			continue
		}
		matches[i].PickupETASeconds = s.etaSeconds(ctx, t.Departure, pickup)
	}
}

func (s *Service) etaSeconds(ctx context.Context, from, to models.Coordinate) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateSeconds(ctx, from, to); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, s.DefaultSpeedMps)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
