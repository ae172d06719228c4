package models

import (
	"fmt"
	"time"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates outside the WGS84 range.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidRequest, c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidRequest, c.Lng)
	}
	return nil
}

type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// ShiftWindow is the driver's working window in unix milliseconds.
type ShiftWindow struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// DriverTrip is one published offer. AvailableSeats is only ever changed
// through a TripRepository.AdjustSeats call.
type DriverTrip struct {
	ID              string       `json:"id"`
	DriverID        string       `json:"driver_id"`
	Departure       Coordinate   `json:"departure"`
	Destination     Coordinate   `json:"destination"`
	DepartureTimeMs int64        `json:"departure_time_ms"`
	TotalSeats      int          `json:"total_seats"`
	AvailableSeats  int          `json:"available_seats"`
	RouteWaypoints  []Coordinate `json:"route_waypoints"`
	Status          TripStatus   `json:"status"`
	DriverRating    float64      `json:"driver_rating"` // 0..5, 0 = unrated
	PooledDetourKm  float64      `json:"pooled_detour_km"`
	Shift           *ShiftWindow `json:"shift,omitempty"`
}

// Path returns departure, waypoints and destination in driving order.
func (t DriverTrip) Path() []Coordinate {
	path := make([]Coordinate, 0, len(t.RouteWaypoints)+2)
	path = append(path, t.Departure)
	path = append(path, t.RouteWaypoints...)
	return append(path, t.Destination)
}

type RiderRequest struct {
	ID                   string     `json:"id"`
	Pickup               Coordinate `json:"pickup"`
	Dropoff              Coordinate `json:"dropoff"`
	EarliestDepartureMs  int64      `json:"earliest_departure_ms"`
	LatestDepartureMs    int64      `json:"latest_departure_ms"`
	PreferredDepartureMs int64      `json:"preferred_departure_ms,omitempty"`
	SeatsNeeded          int        `json:"seats_needed"`
	IncludeWaitlist      bool       `json:"include_waitlist,omitempty"`
}

// Validate checks the request shape before any matching stage runs.
func (r RiderRequest) Validate() error {
	if err := r.Pickup.Validate(); err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	if err := r.Dropoff.Validate(); err != nil {
		return fmt.Errorf("dropoff: %w", err)
	}
	if r.EarliestDepartureMs > r.LatestDepartureMs {
		return fmt.Errorf("%w: earliest departure after latest departure", ErrInvalidRequest)
	}
	if r.SeatsNeeded < 1 {
		return fmt.Errorf("%w: seats_needed must be >= 1", ErrInvalidRequest)
	}
	return nil
}

// RequestedDepartureMs is the preferred departure when it lies inside the
// window, otherwise the window midpoint.
func (r RiderRequest) RequestedDepartureMs() int64 {
	p := r.PreferredDepartureMs
	if p != 0 && p >= r.EarliestDepartureMs && p <= r.LatestDepartureMs {
		return p
	}
	return r.EarliestDepartureMs + (r.LatestDepartureMs-r.EarliestDepartureMs)/2
}

type Breakdown struct {
	PickupDistanceKm  float64 `json:"pickup_distance_km"`
	DropoffDistanceKm float64 `json:"dropoff_distance_km"`
	DetourDistanceKm  float64 `json:"detour_distance_km"`
	TimeDiffMinutes   float64 `json:"time_diff_minutes"`
}

type MatchCandidate struct {
	Trip      DriverTrip
	Breakdown Breakdown
}

type MatchResult struct {
	MatchID          string    `json:"match_id"`
	DriverTripID     string    `json:"driver_trip_id"`
	DriverID         string    `json:"driver_id"`
	RiderRequestID   string    `json:"rider_request_id"`
	Score            float64   `json:"score"`
	Breakdown        Breakdown `json:"breakdown"`
	CarbonSavedKg    float64   `json:"carbon_saved_kg"`
	AvailableSeats   int       `json:"available_seats"`
	Waitlisted       bool      `json:"waitlisted"`
	PickupETASeconds float64   `json:"pickup_eta_seconds,omitempty"`
	Explanation      string    `json:"explanation"`
}

type MatchStats struct {
	CandidatesTotal         int `json:"candidates_total"`
	CandidatesPassedFilters int `json:"candidates_passed_filters"`
}

type MatchResponse struct {
	Matches       []MatchResult `json:"matches"`
	Stats         MatchStats    `json:"stats"`
	ConfigVersion int64         `json:"config_version"`
}

type ReservationState string

const (
	ReservationPending   ReservationState = "PENDING"
	ReservationReserved  ReservationState = "RESERVED"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationReleased  ReservationState = "RELEASED"
)

type ReservationToken struct {
	ID        string           `json:"token"`
	TripID    string           `json:"driver_trip_id"`
	DriverID  string           `json:"driver_id,omitempty"`
	Seats     int              `json:"seats"`
	State     ReservationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// TimeWindow bounds a departure-time query, inclusive, in unix milliseconds.
type TimeWindow struct {
	FromMs int64
	ToMs   int64
}
