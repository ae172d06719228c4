package matcher

import (
	"math"

	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
)

const msPerMinute = 60000.0

// Measure extracts the geometric features of each feasible trip.
func Measure(feasible []Feasible, req models.RiderRequest) []models.MatchCandidate {
	requested := req.RequestedDepartureMs()
	out := make([]models.MatchCandidate, 0, len(feasible))
	for _, f := range feasible {
		path := f.Trip.Path()
		out = append(out, models.MatchCandidate{
			Trip: f.Trip,
			Breakdown: models.Breakdown{
				PickupDistanceKm:  geo.NearestOnPathKm(path, req.Pickup),
				DropoffDistanceKm: geo.NearestOnPathKm(path, req.Dropoff),
				DetourDistanceKm:  f.DetourKm,
				TimeDiffMinutes:   math.Abs(float64(f.Trip.DepartureTimeMs-requested)) / msPerMinute,
			},
		})
	}
	return out
}
