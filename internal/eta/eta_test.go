package eta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-pooling/internal/models"
)

func TestCacheExpires(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	a, b := models.Coordinate{Lat: 1, Lng: 2}, models.Coordinate{Lat: 3, Lng: 4}
	c.Set(a, b, 42)

	v, ok := c.Get(a, b)
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = c.Get(b, a)
	assert.False(t, ok, "direction matters")

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(a, b)
	assert.False(t, ok)
}

func TestEstimateSecondsFallbackSpeed(t *testing.T) {
	a, b := models.Coordinate{Lat: 0, Lng: 0}, models.Coordinate{Lat: 1, Lng: 0}
	assert.InDelta(t, 111195/8.0, EstimateSeconds(a, b, 0), 5)
	assert.InDelta(t, 111195/10.0, EstimateSeconds(a, b, 10), 5)
}

func TestOSRMClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/route/v1/driving/31.020000,-29.850000;"))
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"duration":321.5}]}`))
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	got, err := c.EstimateSeconds(context.Background(),
		models.Coordinate{Lat: -29.85, Lng: 31.02}, models.Coordinate{Lat: -29.86, Lng: 31.03})
	require.NoError(t, err)
	assert.Equal(t, 321.5, got)
}

func TestOSRMClientNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), models.Coordinate{}, models.Coordinate{Lat: 1})
	assert.Error(t, err)
}
