package matcher

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// ErrInvalidConfig is returned when a MatchConfig cannot be constructed.
var ErrInvalidConfig = errors.New("invalid match config")

const weightEpsilon = 1e-6

// Weights are the cost coefficients of the scoring stage; they sum to 1.
type Weights struct {
	Detour           float64 `json:"detour"`
	TimeMatch        float64 `json:"time_match"`
	ShiftAlignment   float64 `json:"shift_alignment"`
	SeatAvailability float64 `json:"seat_availability"`
	Rating           float64 `json:"rating"`
	Carbon           float64 `json:"carbon"`
}

func (w Weights) sum() float64 {
	return w.Detour + w.TimeMatch + w.ShiftAlignment + w.SeatAvailability + w.Rating + w.Carbon
}

func (w Weights) negative() bool {
	for _, v := range []float64{w.Detour, w.TimeMatch, w.ShiftAlignment, w.SeatAvailability, w.Rating, w.Carbon} {
		if v < 0 || math.IsNaN(v) {
			return true
		}
	}
	return false
}

// DefaultWeights are a product default, not a contract.
func DefaultWeights() Weights {
	return Weights{
		Detour:           0.30,
		TimeMatch:        0.20,
		ShiftAlignment:   0.10,
		SeatAvailability: 0.10,
		Rating:           0.15,
		Carbon:           0.15,
	}
}

// ConfigParams is the unvalidated input to NewMatchConfig.
type ConfigParams struct {
	MaxAbsoluteDetourKm float64 `json:"max_absolute_detour_km"`
	MaxPoolDetourKm     float64 `json:"max_pool_detour_km"`
	Weights             Weights `json:"weights"`
	TopN                int     `json:"top_n"`
	AverageSpeedKmh     float64 `json:"average_speed_kmh"`
}

func DefaultConfigParams() ConfigParams {
	return ConfigParams{
		MaxAbsoluteDetourKm: 8,
		MaxPoolDetourKm:     15,
		Weights:             DefaultWeights(),
		TopN:                10,
		AverageSpeedKmh:     40,
	}
}

// MatchConfig is immutable once built; fields are read through accessors so
// a value handed to a request cannot be changed underneath it.
type MatchConfig struct {
	p       ConfigParams
	version int64
}

// NewMatchConfig validates params. Bad weights or caps fail here, never at
// request time.
func NewMatchConfig(p ConfigParams) (MatchConfig, error) {
	if !(p.MaxAbsoluteDetourKm > 0) {
		return MatchConfig{}, fmt.Errorf("%w: max_absolute_detour_km must be > 0", ErrInvalidConfig)
	}
	if !(p.MaxPoolDetourKm > 0) {
		return MatchConfig{}, fmt.Errorf("%w: max_pool_detour_km must be > 0", ErrInvalidConfig)
	}
	if p.Weights.negative() {
		return MatchConfig{}, fmt.Errorf("%w: weights must be non-negative", ErrInvalidConfig)
	}
	if s := p.Weights.sum(); math.Abs(s-1) > weightEpsilon {
		return MatchConfig{}, fmt.Errorf("%w: weights sum to %.4f, want 1.0", ErrInvalidConfig, s)
	}
	if p.TopN <= 0 {
		return MatchConfig{}, fmt.Errorf("%w: top_n must be > 0", ErrInvalidConfig)
	}
	if !(p.AverageSpeedKmh > 0) {
		return MatchConfig{}, fmt.Errorf("%w: average_speed_kmh must be > 0", ErrInvalidConfig)
	}
	return MatchConfig{p: p}, nil
}

// DefaultMatchConfig panics only if the defaults themselves are broken.
func DefaultMatchConfig() MatchConfig {
	cfg, err := NewMatchConfig(DefaultConfigParams())
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c MatchConfig) MaxAbsoluteDetourKm() float64 { return c.p.MaxAbsoluteDetourKm }
func (c MatchConfig) MaxPoolDetourKm() float64     { return c.p.MaxPoolDetourKm }
func (c MatchConfig) Weights() Weights             { return c.p.Weights }
func (c MatchConfig) TopN() int                    { return c.p.TopN }
func (c MatchConfig) AverageSpeedKmh() float64     { return c.p.AverageSpeedKmh }
func (c MatchConfig) Version() int64               { return c.version }
func (c MatchConfig) Params() ConfigParams         { return c.p }

// ConfigStore publishes config versions. Swap replaces the whole value, so a
// request that loaded version N keeps seeing N even while N+1 is installed.
type ConfigStore struct {
	cur atomic.Pointer[MatchConfig]
	seq atomic.Int64
}

func NewConfigStore(initial MatchConfig) *ConfigStore {
	s := &ConfigStore{}
	s.Swap(initial)
	return s
}

func (s *ConfigStore) Load() MatchConfig { return *s.cur.Load() }

// Swap installs cfg as the next version and returns it with its version set.
func (s *ConfigStore) Swap(cfg MatchConfig) MatchConfig {
	cfg.version = s.seq.Add(1)
	s.cur.Store(&cfg)
	return cfg
}
