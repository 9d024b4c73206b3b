package verify

import (
	"time"

	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/scoring"
)

// Weights maps each check to its share of the overall score before
// renormalization.
type Weights map[model.CheckType]float64

// DefaultWeights returns distance 0.3, time 0.2, image 0.3, signature 0.1,
// duplicate 0.1.
func DefaultWeights() Weights {
	return Weights{
		model.CheckDistance:         0.3,
		model.CheckTimeWindow:       0.2,
		model.CheckImageQuality:     0.3,
		model.CheckSignatureQuality: 0.1,
		model.CheckDuplicate:        0.1,
	}
}

// Renormalize rescales the weights of the applicable checks so they sum to
// one. Checks absent from applicable get no weight. When every applicable
// check has zero weight, the applicable checks share equally.
func Renormalize(w Weights, applicable []model.CheckType) Weights {
	out := make(Weights, len(applicable))
	if len(applicable) == 0 {
		return out
	}
	var total float64
	for _, c := range applicable {
		total += w[c]
	}
	for _, c := range applicable {
		if total > 0 {
			out[c] = w[c] / total
		} else {
			out[c] = 1 / float64(len(applicable))
		}
	}
	return out
}

// Policy is the campus-resolved subset of the configuration.
type Policy struct {
	RadiusMeters        float64
	GracePeriod         time.Duration
	AcceptanceThreshold float64
}

// Config is the explicit configuration of a Verifier.
type Config struct {
	AcceptanceThreshold float64
	GracePeriod         time.Duration
	DefaultRadiusMeters float64
	Weights             Weights

	// ImageTimeout bounds each image and signature check.
	ImageTimeout time.Duration
	// DuplicateTimeout bounds the duplicate lookup.
	DuplicateTimeout time.Duration

	// Policy resolves per-campus overrides. Nil means the global values apply
	// everywhere.
	Policy func(campusID string) Policy
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		AcceptanceThreshold: 0.7,
		GracePeriod:         scoring.DefaultGracePeriod,
		DefaultRadiusMeters: scoring.DefaultRadiusMeters,
		Weights:             DefaultWeights(),
		ImageTimeout:        5 * time.Second,
		DuplicateTimeout:    2 * time.Second,
	}
}

func (c Config) policy(campusID string) Policy {
	if c.Policy != nil {
		return c.Policy(campusID)
	}
	return Policy{
		RadiusMeters:        c.DefaultRadiusMeters,
		GracePeriod:         c.GracePeriod,
		AcceptanceThreshold: c.AcceptanceThreshold,
	}
}

func (c Config) validate() error {
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 1 {
		return ErrInvalidConfig
	}
	if c.ImageTimeout <= 0 || c.DuplicateTimeout <= 0 {
		return ErrInvalidConfig
	}
	for _, v := range c.Weights {
		if v < 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}
