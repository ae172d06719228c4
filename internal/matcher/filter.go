package matcher

import (
	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
)

// Feasible is a trip that passed every hard filter. DetourKm is carried
// forward so the insertion search runs once per trip.
type Feasible struct {
	Trip     models.DriverTrip
	DetourKm float64
}

// FilterTrips drops trips that cannot serve the rider. Failing trips are
// omitted, not reported.
func FilterTrips(trips []models.DriverTrip, req models.RiderRequest, cfg MatchConfig) []Feasible {
	out := make([]Feasible, 0, len(trips))
	for _, t := range trips {
		if t.Status != models.TripScheduled {
			continue
		}
		if t.AvailableSeats < req.SeatsNeeded && !(req.IncludeWaitlist && t.AvailableSeats == 0) {
			continue
		}
		if t.DepartureTimeMs < req.EarliestDepartureMs || t.DepartureTimeMs > req.LatestDepartureMs {
			continue
		}
		detour := geo.MarginalDetourKm(t, req.Pickup, req.Dropoff)
		// both caps apply; whichever is tighter decides
		if detour > cfg.MaxAbsoluteDetourKm() {
			continue
		}
		if t.PooledDetourKm+detour > cfg.MaxPoolDetourKm() {
			continue
		}
		out = append(out, Feasible{Trip: t, DetourKm: detour})
	}
	return out
}
