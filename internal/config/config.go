// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Load layers defaults, an optional YAML file and environment variables.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Weights is the per-check weight table before renormalization.
type Weights struct {
	Distance   float64 `koanf:"distance"`
	TimeWindow float64 `koanf:"time_window"`
	Image      float64 `koanf:"image"`
	Signature  float64 `koanf:"signature"`
	Duplicate  float64 `koanf:"duplicate"`
}

// Campus carries per-campus overrides. Zero values mean "use the global value".
type Campus struct {
	RadiusMeters        float64 `koanf:"radius_meters"`
	GracePeriodMinutes  int     `koanf:"grace_period_minutes"`
	AcceptanceThreshold float64 `koanf:"acceptance_threshold"`
	WindowMinutes       int     `koanf:"window_minutes"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory submission queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of verification workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the in-flight submission guard.
	DedupeSize int `koanf:"dedupe_size"`

	AcceptanceThreshold float64 `koanf:"acceptance_threshold"`
	GracePeriodMinutes  int     `koanf:"grace_period_minutes"`
	DefaultRadiusMeters float64 `koanf:"default_radius_meters"`

	// WindowMinutes is the half-width of the default window built around an
	// event start when no explicit window is stored.
	WindowMinutes int `koanf:"window_minutes"`

	ImageTimeoutMS     int `koanf:"image_timeout_ms"`
	DuplicateTimeoutMS int `koanf:"duplicate_timeout_ms"`

	Weights Weights `koanf:"weights"`

	// StoreDriver selects the attendance store: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	DatabaseURL string `koanf:"database_url"`

	// QueueBackend selects the async queue: memory or redis.
	QueueBackend  string `koanf:"queue_backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisQueueKey string `koanf:"redis_queue_key"`

	// FaceServiceURL points at the face detection/embedding service.
	FaceServiceURL string `koanf:"face_service_url"`
	FaceSkip       bool   `koanf:"face_skip"`
	FaceTimeoutMS  int    `koanf:"face_timeout_ms"`

	// RateLimitPerMin caps requests per client IP. Zero disables limiting.
	RateLimitPerMin int `koanf:"rate_limit_per_min"`

	// MetricsRefreshMS is how often the queue, worker and runtime gauges are sampled.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`

	Campuses map[string]Campus `koanf:"campuses"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		QueueSize:           10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          50_000,
		AcceptanceThreshold: 0.7,
		GracePeriodMinutes:  30,
		DefaultRadiusMeters: 100,
		WindowMinutes:       30,
		ImageTimeoutMS:      5_000,
		DuplicateTimeoutMS:  2_000,
		Weights: Weights{
			Distance:   0.3,
			TimeWindow: 0.2,
			Image:      0.3,
			Signature:  0.1,
			Duplicate:  0.1,
		},
		StoreDriver:      StoreMemory,
		QueueBackend:     QueueMemory,
		RedisAddr:        "localhost:6379",
		RedisQueueKey:    "eas:submissions",
		FaceSkip:         true,
		FaceTimeoutMS:    4_000,
		RateLimitPerMin:  600,
		MetricsRefreshMS: 10_000,
		Campuses:         map[string]Campus{},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 1:
		return fmt.Errorf("%w: acceptance_threshold must be within [0,1]", ErrInvalidConfig)
	case c.GracePeriodMinutes < 0:
		return fmt.Errorf("%w: grace_period_minutes must not be negative", ErrInvalidConfig)
	case c.DefaultRadiusMeters <= 0:
		return fmt.Errorf("%w: default_radius_meters must be positive", ErrInvalidConfig)
	case c.ImageTimeoutMS <= 0 || c.DuplicateTimeoutMS <= 0:
		return fmt.Errorf("%w: check timeouts must be positive", ErrInvalidConfig)
	case c.MetricsRefreshMS <= 0:
		return fmt.Errorf("%w: metrics_refresh_ms must be positive", ErrInvalidConfig)
	}

	w := c.Weights
	for name, v := range map[string]float64{
		"distance": w.Distance, "time_window": w.TimeWindow, "image": w.Image,
		"signature": w.Signature, "duplicate": w.Duplicate,
	} {
		if v < 0 {
			return fmt.Errorf("%w: weights.%s must not be negative", ErrInvalidConfig, name)
		}
	}
	if w.Distance+w.TimeWindow+w.Image+w.Signature+w.Duplicate == 0 {
		return fmt.Errorf("%w: weights must not all be zero", ErrInvalidConfig)
	}

	switch strings.ToLower(c.StoreDriver) {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required for store_driver %q", ErrInvalidConfig, c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: %w: store_driver %q", ErrInvalidConfig, ErrUnknownBackend, c.StoreDriver)
	}

	switch strings.ToLower(c.QueueBackend) {
	case QueueMemory:
	case QueueRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required for queue_backend redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %w: queue_backend %q", ErrInvalidConfig, ErrUnknownBackend, c.QueueBackend)
	}

	if !c.FaceSkip && c.FaceServiceURL == "" {
		return fmt.Errorf("%w: face_service_url is required unless face_skip is set", ErrInvalidConfig)
	}

	for id, cp := range c.Campuses {
		if cp.AcceptanceThreshold < 0 || cp.AcceptanceThreshold > 1 {
			return fmt.Errorf("%w: campuses.%s.acceptance_threshold must be within [0,1]", ErrInvalidConfig, id)
		}
		if cp.RadiusMeters < 0 || cp.GracePeriodMinutes < 0 || cp.WindowMinutes < 0 {
			return fmt.Errorf("%w: campuses.%s overrides must not be negative", ErrInvalidConfig, id)
		}
	}
	return nil
}

// CampusPolicy returns the effective settings for a campus, falling back to
// the global values for anything the campus does not override.
func (c *Config) CampusPolicy(campusID string) Campus {
	p := Campus{
		RadiusMeters:        c.DefaultRadiusMeters,
		GracePeriodMinutes:  c.GracePeriodMinutes,
		AcceptanceThreshold: c.AcceptanceThreshold,
		WindowMinutes:       c.WindowMinutes,
	}
	cp, ok := c.Campuses[campusID]
	if !ok {
		return p
	}
	if cp.RadiusMeters > 0 {
		p.RadiusMeters = cp.RadiusMeters
	}
	if cp.GracePeriodMinutes > 0 {
		p.GracePeriodMinutes = cp.GracePeriodMinutes
	}
	if cp.AcceptanceThreshold > 0 {
		p.AcceptanceThreshold = cp.AcceptanceThreshold
	}
	if cp.WindowMinutes > 0 {
		p.WindowMinutes = cp.WindowMinutes
	}
	return p
}
