package queue

import "time"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// RedisOption applies a configuration option to the RedisQueue.
type RedisOption func(*RedisQueue)

// WithRedisCapacity caps the list length; Enqueue fails with ErrQueueFull
// beyond it. Zero disables the cap.
func WithRedisCapacity(capacity int) RedisOption {
	return func(q *RedisQueue) {
		if capacity >= 0 {
			q.capacity = capacity
		}
	}
}

// WithBlockTimeout sets how long a single BRPOP waits before re-checking
// for shutdown.
func WithBlockTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}
