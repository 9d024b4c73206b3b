package service

import (
	"time"

	"github.com/lowmax205/eas/internal/adapters/mq/queue"
	"github.com/lowmax205/eas/internal/adapters/repository"
	"github.com/lowmax205/eas/internal/config"
	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
	"github.com/lowmax205/eas/internal/domain/verify"
	"github.com/lowmax205/eas/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the default in-memory queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the in-flight guard.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the attendance store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithQueue replaces the default in-memory queue.
func WithQueue(q queue.Queue) Option {
	return func(s *Service) {
		if q != nil {
			s.queue = q
		}
	}
}

// WithFaceAnalyzer sets the analyzer used by the image check.
func WithFaceAnalyzer(fa scoring.FaceAnalyzer) Option {
	return func(s *Service) { s.faces = fa }
}

// WithVerifyConfig sets the verifier configuration.
func WithVerifyConfig(cfg verify.Config) Option {
	return func(s *Service) { s.verifyCfg = cfg }
}

// WithWindowMinutes resolves the half-width of default event windows per
// campus.
func WithWindowMinutes(fn func(campusID string) int) Option {
	return func(s *Service) {
		if fn != nil {
			s.windowMinutes = fn
		}
	}
}

// WithClock overrides the time source of the service and its verifier.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithVersion sets the version reported by Health.
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// FromConfig maps the process configuration onto service options.
func FromConfig(cfg *config.Config) []Option {
	vc := verify.Config{
		AcceptanceThreshold: cfg.AcceptanceThreshold,
		GracePeriod:         time.Duration(cfg.GracePeriodMinutes) * time.Minute,
		DefaultRadiusMeters: cfg.DefaultRadiusMeters,
		Weights: verify.Weights{
			model.CheckDistance:         cfg.Weights.Distance,
			model.CheckTimeWindow:       cfg.Weights.TimeWindow,
			model.CheckImageQuality:     cfg.Weights.Image,
			model.CheckSignatureQuality: cfg.Weights.Signature,
			model.CheckDuplicate:        cfg.Weights.Duplicate,
		},
		ImageTimeout:     time.Duration(cfg.ImageTimeoutMS) * time.Millisecond,
		DuplicateTimeout: time.Duration(cfg.DuplicateTimeoutMS) * time.Millisecond,
		Policy: func(campusID string) verify.Policy {
			cp := cfg.CampusPolicy(campusID)
			return verify.Policy{
				RadiusMeters:        cp.RadiusMeters,
				GracePeriod:         time.Duration(cp.GracePeriodMinutes) * time.Minute,
				AcceptanceThreshold: cp.AcceptanceThreshold,
			}
		},
	}
	return []Option{
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithVerifyConfig(vc),
		WithWindowMinutes(func(campusID string) int { return cfg.CampusPolicy(campusID).WindowMinutes }),
	}
}
