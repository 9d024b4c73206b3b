package api

import (
	"errors"
	"net/http"

	service "github.com/lowmax205/eas/internal/app"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
	ErrRateLimited  = errors.New("rate limited")
)

// retryAfterSeconds is advertised when a dependency is down or the queue is full.
const retryAfterSeconds = "5"

// writeServiceError maps service error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSubmission),
		errors.Is(err, service.ErrInvalidOverride),
		errors.Is(err, service.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, service.ErrQueueFull):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusTooManyRequests, "backpressure", ErrBackpressure)
	case errors.Is(err, service.ErrDependencyUnavailable),
		errors.Is(err, service.ErrNotStarted):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
