// Package sweeper force-releases reservation holds whose deadline passed.
// cmd/reaper runs it against the shared Redis ledger; the API server runs it
// in-process when its ledger lives in memory.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-pooling/internal/observability"
)

// Releaser force-releases reservations whose hold expired.
type Releaser interface {
	ReleaseExpired(ctx context.Context, limit int) (int, error)
}

type Config struct {
	Interval   time.Duration
	BatchSize  int
	Attempts   int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:   15 * time.Second,
		BatchSize:  100,
		Attempts:   3,
		RetryDelay: 200 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("REAPER_INTERVAL must be > 0"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("REAPER_BATCH_SIZE must be > 0"))
	}
	if c.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("REAPER_ATTEMPTS must be > 0"))
	}
	return errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled. A full batch means more
// may be waiting, so it sweeps again straight away.
func Run(ctx context.Context, r Releaser, cfg Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		for {
			n, err := ReleaseWithRetry(ctx, r, cfg.BatchSize, cfg.Attempts, cfg.RetryDelay)
			observability.SweepsTotal.Inc()
			if err != nil {
				observability.SweepErrors.Inc()
				logger.Error("sweep failed", "released", n, "error", err)
				break
			}
			if n > 0 {
				logger.Info("expired reservations released", "released", n)
			}
			if n < cfg.BatchSize || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReleaseWithRetry runs one sweep, retrying with doubling backoff. Tokens a
// failed attempt did release stay released; the count covers all attempts.
func ReleaseWithRetry(ctx context.Context, r Releaser, limit, attempts int, delay time.Duration) (int, error) {
	total := 0
	for i := 0; i < attempts; i++ {
		n, err := r.ReleaseExpired(ctx, limit)
		total += n
		if err == nil {
			return total, nil
		}
		if i == attempts-1 || ctx.Err() != nil {
			return total, err
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return total, nil
}
