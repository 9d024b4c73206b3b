package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownDriver = errors.New("unknown store driver")
	// ErrConflict is returned when an id is reused for different content.
	ErrConflict = errors.New("conflict")
)
