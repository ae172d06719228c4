package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pooling/internal/booking"
	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/dispatch"
	"github.com/example/ride-pooling/internal/eta"
	"github.com/example/ride-pooling/internal/events"
	httpapi "github.com/example/ride-pooling/internal/http"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/payments"
	"github.com/example/ride-pooling/internal/reservation"
	"github.com/example/ride-pooling/internal/storage"
	"github.com/example/ride-pooling/internal/sweeper"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger("ride-pooling-api", cfg.LogLevel)
	slog.SetDefault(logger)

	matchCfg, err := matcher.NewMatchConfig(cfg.Match)
	if err != nil {
		log.Fatalf("match config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()
	var readiness []func(context.Context) error

	var trips storage.TripRepository = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		closers = append(closers, ps.Close)
		readiness = append(readiness, ps.Ping)
		if cfg.RunMigrations {
			if err := ps.Migrate(context.Background()); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			logger.Info("migrations applied")
		}
		trips = ps
	} else {
		logger.Warn("PG_DSN not set; using in-memory trip store")
	}

	var ledger reservation.Ledger = reservation.NewMemoryLedger()
	memoryLedger := cfg.RedisAddr == ""
	if !memoryLedger {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, rc.Close)
		readiness = append(readiness, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		ledger = reservation.NewRedisLedger(rc, cfg.RedisKeyPrefix)
	} else {
		logger.Warn("REDIS_ADDR not set; using in-memory reservation ledger")
	}

	wsreg := dispatch.NewWSRegistry()
	wsreg.Logger = logger
	publishers := dispatch.Multi{dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg)}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, kp.Close)
		publishers = append(publishers, kp)
	}

	svc := &matcher.Service{
		Trips:           trips,
		Events:          publishers,
		Logger:          logger,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		ETACache:        eta.NewCache(cfg.ETACacheTTL),
	}
	if cfg.OSRMEndpoint != "" {
		svc.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	coord := &reservation.Coordinator{
		Seats:   trips,
		Ledger:  ledger,
		Events:  publishers,
		Logger:  logger,
		HoldTTL: cfg.HoldTTL,
	}

	// cmd/reaper cannot see an in-process ledger, so expire its holds here
	sweepDone := make(chan struct{})
	if memoryLedger {
		go func() {
			defer close(sweepDone)
			sweeper.Run(ctx, coord, cfg.Sweep, logger)
		}()
		logger.Info("in-process reservation sweep started", "interval", cfg.Sweep.Interval)
	} else {
		close(sweepDone)
	}

	var bookings *booking.Service
	if cfg.StripeAPIKey != "" {
		bookings = &booking.Service{
			Reservations: coord,
			Payments:     payments.NewStripeClient(cfg.StripeAPIKey, nil),
			Logger:       logger,
		}
	} else {
		logger.Info("STRIPE_API_KEY not set; booking endpoint disabled")
	}

	api := httpapi.NewServer(httpapi.Deps{
		Matcher:      svc,
		Configs:      matcher.NewConfigStore(matchCfg),
		Reservations: coord,
		Trips:        trips,
		Booking:      bookings,
		WSReg:        wsreg,
		Ready: func(ctx context.Context) error {
			for _, check := range readiness {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-pooling listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	<-sweepDone
}
