package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrQueueFull = errors.New("queue full")
	ErrClosed    = errors.New("queue closed")
)
