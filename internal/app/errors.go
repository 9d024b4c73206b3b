package service

import (
	"errors"

	"github.com/lowmax205/eas/internal/adapters/mq/queue"
	"github.com/lowmax205/eas/internal/adapters/repository"
	"github.com/lowmax205/eas/internal/domain/verify"
)

// Error kinds callers branch on.
var (
	ErrNotStarted            = errors.New("service not started")
	ErrNotFound              = repository.ErrNotFound
	ErrQueueFull             = queue.ErrQueueFull
	ErrConflict              = repository.ErrConflict
	ErrInvalidSubmission     = verify.ErrInvalidSubmission
	ErrInvalidOverride       = errors.New("invalid override")
	ErrInvalidReference      = errors.New("invalid reference data")
	ErrDependencyUnavailable = verify.ErrDependencyUnavailable
)
