package matcher

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/example/ride-pooling/internal/models"
)

// EmissionsKgPerKm is the average passenger-car CO2 factor used for the
// carbon estimate.
const EmissionsKgPerKm = 0.12

// Assemble truncates the ranked list to topN and packages it for the caller.
// newID may be nil, in which case random UUIDs are used.
func Assemble(ranked []Scored, req models.RiderRequest, stats models.MatchStats, topN int, newID func() string) models.MatchResponse {
	if newID == nil {
		newID = uuid.NewString
	}
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	matches := make([]models.MatchResult, 0, len(ranked))
	for _, s := range ranked {
		waitlisted := s.Trip.AvailableSeats < req.SeatsNeeded
		matches = append(matches, models.MatchResult{
			MatchID:        newID(),
			DriverTripID:   s.Trip.ID,
			DriverID:       s.Trip.DriverID,
			RiderRequestID: req.ID,
			Score:          s.Score,
			Breakdown:      s.Breakdown,
			CarbonSavedKg:  CarbonSavedKg(s.Breakdown),
			AvailableSeats: s.Trip.AvailableSeats,
			Waitlisted:     waitlisted,
			Explanation:    explain(s, waitlisted),
		})
	}
	return models.MatchResponse{Matches: matches, Stats: stats}
}

// CarbonSavedKg applies the emissions factor to the pickup and dropoff legs
// the rider does not drive alone.
func CarbonSavedKg(b models.Breakdown) float64 {
	return EmissionsKgPerKm * (b.PickupDistanceKm + b.DropoffDistanceKm)
}

func explain(s Scored, waitlisted bool) string {
	b := s.Breakdown
	var sb strings.Builder
	if b.TimeDiffMinutes < 0.5 {
		sb.WriteString("Departs at your requested time")
	} else {
		fmt.Fprintf(&sb, "Departs %.0f min from your requested time", b.TimeDiffMinutes)
	}
	fmt.Fprintf(&sb, "; pickup %.1f km and dropoff %.1f km from the driver's route", b.PickupDistanceKm, b.DropoffDistanceKm)
	fmt.Fprintf(&sb, "; adds a %.1f km detour", b.DetourDistanceKm)
	if waitlisted {
		sb.WriteString("; trip is full, you would join the waitlist.")
	} else {
		fmt.Fprintf(&sb, "; %d of %d seats free.", s.Trip.AvailableSeats, s.Trip.TotalSeats)
	}
	return sb.String()
}
