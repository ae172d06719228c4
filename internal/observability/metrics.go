package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_pooling"

var (
	MatchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Total match results returned to riders"})
	MatchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Find-matches latency seconds"})
	CandidatesPassed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "candidates_passed_filters",
		Help:      "Driver trips surviving the hard filters per request",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// outcome: reserved, confirmed, released, or a conflict kind
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reservations_total", Help: "Seat reservation operations by outcome"},
		[]string{"op", "outcome"},
	)
	SeatsReleased  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "seats_released_total", Help: "Seats returned by compensating releases"})
	ReaperReleases = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reaper_releases_total", Help: "Expired reservations force-released by the reaper"})
	SweepsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reaper_sweeps_total", Help: "Total expiry sweeps run"})
	SweepErrors    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reaper_sweep_errors_total", Help: "Sweeps that gave up after retries"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
