package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/ride-pooling/internal/models"
)

// TripRepository persists driver trips. AdjustSeats is the only way seat
// counts change and must be a single atomic conditional update: a negative
// delta needs a scheduled trip with enough seats, a positive delta may not
// push the count above TotalSeats. UpsertTrip on an existing id keeps the
// live seat count and only shifts it by a change in TotalSeats.
type TripRepository interface {
	ListSchedulableTrips(ctx context.Context, w models.TimeWindow) ([]models.DriverTrip, error)
	GetTrip(ctx context.Context, id string) (models.DriverTrip, error)
	UpsertTrip(ctx context.Context, t models.DriverTrip) error
	AdjustSeats(ctx context.Context, tripID string, delta int) (models.DriverTrip, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	trips map[string]models.DriverTrip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[string]models.DriverTrip)}
}

func (m *MemoryStore) UpsertTrip(_ context.Context, t models.DriverTrip) error {
	if err := validateTrip(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.trips[t.ID]; ok {
		seats, err := resizeSeats(cur, t.TotalSeats)
		if err != nil {
			return err
		}
		t.AvailableSeats = seats
	}
	m.trips[t.ID] = cloneTrip(t)
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (models.DriverTrip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.DriverTrip{}, &models.ConflictError{Kind: models.TripNotFound, TripID: id}
	}
	return cloneTrip(t), nil
}

// ListSchedulableTrips returns scheduled trips departing inside w, ordered by
// departure time then id.
func (m *MemoryStore) ListSchedulableTrips(_ context.Context, w models.TimeWindow) ([]models.DriverTrip, error) {
	m.mu.RLock()
	out := make([]models.DriverTrip, 0, len(m.trips))
	for _, t := range m.trips {
		if t.Status != models.TripScheduled {
			continue
		}
		if t.DepartureTimeMs < w.FromMs || t.DepartureTimeMs > w.ToMs {
			continue
		}
		out = append(out, cloneTrip(t))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureTimeMs != out[j].DepartureTimeMs {
			return out[i].DepartureTimeMs < out[j].DepartureTimeMs
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) AdjustSeats(_ context.Context, tripID string, delta int) (models.DriverTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return models.DriverTrip{}, &models.ConflictError{Kind: models.TripNotFound, TripID: tripID}
	}
	if err := checkAdjust(t, delta); err != nil {
		return models.DriverTrip{}, err
	}
	t.AvailableSeats += delta
	m.trips[tripID] = t
	return cloneTrip(t), nil
}

// checkAdjust holds the seat rules shared by every backend.
func checkAdjust(t models.DriverTrip, delta int) error {
	if delta < 0 {
		if t.Status != models.TripScheduled {
			return &models.ConflictError{Kind: models.TripNotSchedulable, TripID: t.ID}
		}
		if t.AvailableSeats+delta < 0 {
			return &models.ConflictError{Kind: models.SeatExhausted, TripID: t.ID}
		}
	}
	if t.AvailableSeats+delta > t.TotalSeats {
		return &models.ConflictError{Kind: models.SeatExhausted, TripID: t.ID}
	}
	return nil
}

// resizeSeats is the live seat count of an existing trip after its capacity
// changes to total. AvailableSeats on a re-published trip is ignored: seats
// already held must still fit in the new capacity.
func resizeSeats(cur models.DriverTrip, total int) (int, error) {
	seats := cur.AvailableSeats + total - cur.TotalSeats
	if seats < 0 {
		return 0, &models.ConflictError{Kind: models.SeatExhausted, TripID: cur.ID}
	}
	return seats, nil
}

func validateTrip(t models.DriverTrip) error {
	if t.ID == "" {
		return fmt.Errorf("%w: trip id is required", models.ErrInvalidRequest)
	}
	if t.TotalSeats < 1 {
		return fmt.Errorf("%w: total_seats must be >= 1", models.ErrInvalidRequest)
	}
	if t.AvailableSeats < 0 || t.AvailableSeats > t.TotalSeats {
		return fmt.Errorf("%w: available_seats must be within [0, total_seats]", models.ErrInvalidRequest)
	}
	if err := t.Departure.Validate(); err != nil {
		return err
	}
	if err := t.Destination.Validate(); err != nil {
		return err
	}
	for _, wp := range t.RouteWaypoints {
		if err := wp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func cloneTrip(t models.DriverTrip) models.DriverTrip {
	if t.RouteWaypoints != nil {
		t.RouteWaypoints = append([]models.Coordinate(nil), t.RouteWaypoints...)
	}
	if t.Shift != nil {
		s := *t.Shift
		t.Shift = &s
	}
	return t
}
