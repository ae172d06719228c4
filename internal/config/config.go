package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/sweeper"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Backends

	DefaultSpeedMps float64
	OSRMEndpoint    string
	ETACacheTTL     time.Duration

	Match   matcher.ConfigParams
	HoldTTL time.Duration

	// Sweep drives the in-process expiry sweep used with the in-memory ledger.
	Sweep sweeper.Config

	StripeAPIKey string
	PushEndpoint string

	LogLevel      string
	RunMigrations bool
}

// Backends are the stores and brokers shared by the server and the reaper.
// An empty address disables that backend in favour of the in-memory one.
type Backends struct {
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string
}

// ReaperConfig drives cmd/reaper.
type ReaperConfig struct {
	Backends

	MetricsAddr string
	Sweep       sweeper.Config
	LogLevel    string
}

func defaultBackends() Backends {
	return Backends{
		RedisKeyPrefix: "ridepool:",
		KafkaTopic:     "ride-pooling-events",
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		Backends:        defaultBackends(),
		DefaultSpeedMps: 8,
		ETACacheTTL:     30 * time.Second,
		Match:           matcher.DefaultConfigParams(),
		HoldTTL:         10 * time.Minute,
		Sweep:           sweeper.DefaultConfig(),
		LogLevel:        "info",
	}
}

func defaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Backends:    defaultBackends(),
		MetricsAddr: ":2112",
		Sweep:       sweeper.DefaultConfig(),
		LogLevel:    "info",
	}
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	loadBackends(&cfg.Backends)

	setFloatFromEnv(&cfg.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	setFloatFromEnv(&cfg.Match.MaxAbsoluteDetourKm, "MATCH_MAX_ABSOLUTE_DETOUR_KM", &errs)
	setFloatFromEnv(&cfg.Match.MaxPoolDetourKm, "MATCH_MAX_POOL_DETOUR_KM", &errs)
	setIntFromEnv(&cfg.Match.TopN, "MATCH_TOP_N", &errs)
	setFloatFromEnv(&cfg.Match.AverageSpeedKmh, "MATCH_AVERAGE_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.Match.Weights.Detour, "MATCH_WEIGHT_DETOUR", &errs)
	setFloatFromEnv(&cfg.Match.Weights.TimeMatch, "MATCH_WEIGHT_TIME", &errs)
	setFloatFromEnv(&cfg.Match.Weights.ShiftAlignment, "MATCH_WEIGHT_SHIFT", &errs)
	setFloatFromEnv(&cfg.Match.Weights.SeatAvailability, "MATCH_WEIGHT_SEATS", &errs)
	setFloatFromEnv(&cfg.Match.Weights.Rating, "MATCH_WEIGHT_RATING", &errs)
	setFloatFromEnv(&cfg.Match.Weights.Carbon, "MATCH_WEIGHT_CARBON", &errs)

	setDurationFromEnv(&cfg.HoldTTL, "RESERVATION_HOLD_TTL", &errs)
	loadSweep(&cfg.Sweep, &errs)

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	// fail at startup, not on the first request
	if _, err := matcher.NewMatchConfig(cfg.Match); err != nil {
		errs = append(errs, err)
	}
	if cfg.HoldTTL <= 0 {
		errs = append(errs, fmt.Errorf("RESERVATION_HOLD_TTL must be > 0"))
	}
	if cfg.DefaultSpeedMps <= 0 {
		errs = append(errs, fmt.Errorf("ETA_DEFAULT_SPEED_MPS must be > 0"))
	}
	if err := cfg.Sweep.Validate(); err != nil {
		errs = append(errs, err)
	}

	return cfg, errors.Join(errs...)
}

func LoadReaperConfig() (ReaperConfig, error) {
	cfg := defaultReaperConfig()
	var errs []error

	loadBackends(&cfg.Backends)
	setStringFromEnv(&cfg.MetricsAddr, "REAPER_METRICS_ADDR")
	loadSweep(&cfg.Sweep, &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REDIS_ADDR is required: the reaper scans the shared reservation ledger"))
	}
	if cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required: the reaper returns seats to the shared trip store"))
	}
	if err := cfg.Sweep.Validate(); err != nil {
		errs = append(errs, err)
	}

	return cfg, errors.Join(errs...)
}

func loadBackends(b *Backends) {
	b.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	b.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&b.RedisKeyPrefix, "REDIS_KEY_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		b.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&b.KafkaTopic, "KAFKA_TOPIC")

	b.PGDSN = os.Getenv("PG_DSN")
}

func loadSweep(c *sweeper.Config, errs *[]error) {
	setDurationFromEnv(&c.Interval, "REAPER_INTERVAL", errs)
	setIntFromEnv(&c.BatchSize, "REAPER_BATCH_SIZE", errs)
	setIntFromEnv(&c.Attempts, "REAPER_ATTEMPTS", errs)
	setDurationFromEnv(&c.RetryDelay, "REAPER_RETRY_DELAY", errs)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
