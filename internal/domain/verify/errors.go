package verify

import (
	"errors"

	"github.com/lowmax205/eas/internal/domain/scoring"
)

var (
	// ErrDependencyUnavailable is returned when a backing store cannot be
	// reached. Nothing has been persisted; the caller should retry.
	ErrDependencyUnavailable = scoring.ErrDependencyUnavailable

	ErrInvalidConfig     = errors.New("invalid verifier config")
	ErrInvalidSubmission = errors.New("invalid submission")
)
