package eta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
)

// defaultSpeedMps is roughly 29 km/h, a city average.
const defaultSpeedMps = 8.0

// Client is the routing provider used for pickup ETAs.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.Coordinate) (float64, error)
}

// Cache keeps ETA lookups keyed by coordinate pair for ttl.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

// Coordinates are rounded to ~1 m so jittery inputs share an entry.
func keyFor(a, b models.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", a.Lat, a.Lng, b.Lat, b.Lng)
}

// Get returns a cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coordinate) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coordinate, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

// EstimateSeconds is the straight-line fallback: distance over speed.
func EstimateSeconds(from, to models.Coordinate, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = defaultSpeedMps
	}
	return geo.HaversineKm(from, to) * 1000 / speedMps
}
