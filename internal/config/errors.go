package config

import "errors"

// Error kinds returned by Load and Validate.
var (
	// ErrInvalidConfig wraps every validation failure; the message names the key.
	ErrInvalidConfig = errors.New("eas: invalid configuration")
	// ErrLoadConfig wraps failures reading the YAML file or the EAS_ environment.
	ErrLoadConfig = errors.New("eas: cannot load configuration")
	// ErrUnknownBackend is returned alongside ErrInvalidConfig when store_driver
	// or queue_backend names a backend this build does not ship.
	ErrUnknownBackend = errors.New("eas: unknown backend")
)
