// Package scoring implements the independent attendance checks. Each check
// turns one aspect of a submission into a confidence score in [0,1].
package scoring

import (
	"context"
	"math"
	"time"

	"github.com/lowmax205/eas/internal/domain/model"
)

// Default policy values.
const (
	DefaultRadiusMeters = 100.0
	DefaultGracePeriod  = 30 * time.Minute
)

// Input is everything a check may read. It is never mutated by a check.
type Input struct {
	Submission model.AttendanceSubmission
	Window     model.EventWindow
	Profile    model.ReferenceProfile

	// DefaultRadiusMeters applies when the window carries no radius.
	DefaultRadiusMeters float64
	// GracePeriod extends the window on both sides.
	GracePeriod time.Duration
}

// Score is the fixed-shape result of one check. Details holds diagnostics.
type Score struct {
	Passed     bool
	Confidence float64
	Details    map[string]any
}

// Check is one independent scoring heuristic.
type Check interface {
	Type() model.CheckType
	// Applicable reports whether the input carries what the check needs.
	Applicable(in Input) bool
	// Run scores the input. Only checks backed by an external store return
	// an error; all others degrade to a zero-confidence Score instead.
	Run(ctx context.Context, in Input) (Score, error)
}

// Degraded builds the zero-confidence result used for decode failures and
// timeouts.
func Degraded(reason string, details map[string]any) Score {
	if details == nil {
		details = map[string]any{}
	}
	details["error"] = reason
	return Score{Passed: false, Confidence: 0, Details: details}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Suite is the full set of checks wired to their collaborators.
type Suite struct {
	faces   FaceAnalyzer
	records RecordCounter
	tuning  Tuning
}

// Option applies a configuration option to the Suite.
type Option func(*Suite)

// WithFaceAnalyzer sets the face detector/embedder used by the image check.
func WithFaceAnalyzer(fa FaceAnalyzer) Option {
	return func(s *Suite) {
		if fa != nil {
			s.faces = fa
		}
	}
}

// WithTuning replaces the heuristic thresholds and sub-weights.
func WithTuning(t Tuning) Option {
	return func(s *Suite) {
		s.tuning = t
	}
}

// NewSuite builds the five checks. records backs the duplicate check.
func NewSuite(records RecordCounter, opts ...Option) *Suite {
	s := &Suite{
		faces:   SingleFace{},
		records: records,
		tuning:  DefaultTuning(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checks returns the checks in a stable order.
func (s *Suite) Checks() []Check {
	return []Check{
		Distance{},
		TimeWindow{},
		NewImageCheck(s.faces, s.tuning),
		NewSignatureCheck(s.tuning),
		NewDuplicateCheck(s.records),
	}
}
