package geo

import (
	"math"

	"github.com/example/ride-pooling/internal/models"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between a and b in kilometres.
func HaversineKm(a, b models.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h just outside [0,1] for identical or antipodal points
	h = math.Max(0, math.Min(1, h))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// PathKm sums the leg lengths of an ordered path.
func PathKm(path []models.Coordinate) float64 {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		total += HaversineKm(path[i], path[i+1])
	}
	return total
}

// NearestOnPathKm returns the distance from p to the closest point of the
// polyline. Each segment is projected on a local equirectangular plane
// centred on p; the distance itself is measured with HaversineKm.
func NearestOnPathKm(path []models.Coordinate, p models.Coordinate) float64 {
	switch len(path) {
	case 0:
		return math.Inf(1)
	case 1:
		return HaversineKm(path[0], p)
	}
	kx := math.Max(math.Cos(toRad(p.Lat)), 1e-9)
	best := math.Inf(1)
	for i := 0; i+1 < len(path); i++ {
		ax, ay := (path[i].Lng-p.Lng)*kx, path[i].Lat-p.Lat
		bx, by := (path[i+1].Lng-p.Lng)*kx, path[i+1].Lat-p.Lat
		dx, dy := bx-ax, by-ay
		t := 0.0
		if l2 := dx*dx + dy*dy; l2 > 0 {
			t = math.Max(0, math.Min(1, -(ax*dx+ay*dy)/l2))
		}
		closest := models.Coordinate{
			Lat: p.Lat + ay + t*dy,
			Lng: p.Lng + (ax+t*dx)/kx,
		}
		if d := HaversineKm(p, closest); d < best {
			best = d
		}
	}
	return best
}

// MarginalDetourKm is the cheapest-insertion cost of adding the pickup and
// dropoff to the trip's driving path, pickup first. Every edge pair (i <= j)
// is considered; a running minimum over pickup edges keeps it linear.
func MarginalDetourKm(trip models.DriverTrip, pickup, dropoff models.Coordinate) float64 {
	path := trip.Path()
	best := math.Inf(1)
	bestPickup := math.Inf(1)
	for j := 0; j+1 < len(path); j++ {
		a, b := path[j], path[j+1]
		ab := HaversineKm(a, b)

		sameEdge := HaversineKm(a, pickup) + HaversineKm(pickup, dropoff) + HaversineKm(dropoff, b) - ab
		best = math.Min(best, sameEdge)

		if !math.IsInf(bestPickup, 1) {
			dropCost := HaversineKm(a, dropoff) + HaversineKm(dropoff, b) - ab
			best = math.Min(best, bestPickup+dropCost)
		}
		bestPickup = math.Min(bestPickup, HaversineKm(a, pickup)+HaversineKm(pickup, b)-ab)
	}
	if best < 0 {
		return 0
	}
	return best
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
