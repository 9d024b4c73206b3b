package repository

import "time"

type options struct {
	maxConns        int32
	minConns        int32
	maxConnLifetime time.Duration
	maxConnIdleTime time.Duration
}

func defaultOptions() options {
	return options{
		maxConns:        10,
		minConns:        2,
		maxConnLifetime: 30 * time.Minute,
		maxConnIdleTime: 5 * time.Minute,
	}
}

// Option applies a configuration option to the Postgres pool.
type Option func(*options)

// WithMaxConns sets the pool size ceiling.
func WithMaxConns(n int32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

// WithMinConns sets the number of idle connections kept open.
func WithMinConns(n int32) Option {
	return func(o *options) {
		if n > 0 {
			o.minConns = n
		}
	}
}

// WithConnLifetime bounds how long a pooled connection lives and idles.
func WithConnLifetime(lifetime, idle time.Duration) Option {
	return func(o *options) {
		if lifetime > 0 {
			o.maxConnLifetime = lifetime
		}
		if idle > 0 {
			o.maxConnIdleTime = idle
		}
	}
}
