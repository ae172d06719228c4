package matcher

import (
	"math"
	"sort"

	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
)

const (
	timeCapMinutes  = 60.0
	shiftCapMinutes = 60.0
	unratedRating   = 3.0
	maxRating       = 5.0
)

// Components holds each weighted term of the score; they add up to Score.
type Components struct {
	Detour           float64 `json:"detour"`
	TimeMatch        float64 `json:"time_match"`
	ShiftAlignment   float64 `json:"shift_alignment"`
	SeatAvailability float64 `json:"seat_availability"`
	Rating           float64 `json:"rating"`
	Carbon           float64 `json:"carbon"`
}

type Scored struct {
	models.MatchCandidate
	Score      float64
	Components Components
}

// Rank scores every candidate (lower is better) and orders them by score,
// then detour, then trip id.
func Rank(cands []models.MatchCandidate, req models.RiderRequest, cfg MatchConfig) []Scored {
	w := cfg.Weights()
	soloKm := geo.HaversineKm(req.Pickup, req.Dropoff)

	out := make([]Scored, 0, len(cands))
	for _, c := range cands {
		b := c.Breakdown
		comp := Components{
			Detour:           w.Detour * normalize(b.DetourDistanceKm, cfg.MaxAbsoluteDetourKm()),
			TimeMatch:        w.TimeMatch * normalize(b.TimeDiffMinutes, timeCapMinutes),
			ShiftAlignment:   w.ShiftAlignment * shiftPenalty(c.Trip, b.DetourDistanceKm, cfg.AverageSpeedKmh()),
			SeatAvailability: w.SeatAvailability * seatPressure(c.Trip),
			Rating:           w.Rating * (1 - normalizedRating(c.Trip.DriverRating)),
			Carbon:           w.Carbon * (1 - carbonBenefit(soloKm, b.DetourDistanceKm)),
		}
		score := comp.Detour + comp.TimeMatch + comp.ShiftAlignment +
			comp.SeatAvailability + comp.Rating + comp.Carbon
		out = append(out, Scored{MatchCandidate: c, Score: score, Components: comp})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		if di, dj := out[i].Breakdown.DetourDistanceKm, out[j].Breakdown.DetourDistanceKm; di != dj {
			return di < dj
		}
		return out[i].Trip.ID < out[j].Trip.ID
	})
	return out
}

func normalize(x, cap float64) float64 {
	if cap <= 0 {
		return 1
	}
	return clamp01(x / cap)
}

// shiftPenalty measures how far the trip, including the rider's detour,
// spills outside the driver's shift.
func shiftPenalty(t models.DriverTrip, detourKm, speedKmh float64) float64 {
	if t.Shift == nil || speedKmh <= 0 {
		return 0
	}
	hours := (geo.PathKm(t.Path()) + detourKm) / speedKmh
	start := t.DepartureTimeMs
	end := start + int64(hours*3600*1000)

	var outsideMs int64
	if start < t.Shift.StartMs {
		outsideMs += t.Shift.StartMs - start
	}
	if end > t.Shift.EndMs {
		outsideMs += end - t.Shift.EndMs
	}
	return normalize(float64(outsideMs)/msPerMinute, shiftCapMinutes)
}

// seatPressure is the share of the car already taken.
func seatPressure(t models.DriverTrip) float64 {
	if t.TotalSeats <= 0 {
		return 1
	}
	return clamp01(1 - float64(t.AvailableSeats)/float64(t.TotalSeats))
}

func normalizedRating(r float64) float64 {
	if r <= 0 {
		r = unratedRating
	}
	return clamp01(r / maxRating)
}

// carbonBenefit is the share of the rider's solo distance that pooling saves.
func carbonBenefit(soloKm, detourKm float64) float64 {
	if soloKm <= 0 {
		return 0
	}
	return clamp01((soloKm - detourKm) / soloKm)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(0, math.Min(1, v))
}
