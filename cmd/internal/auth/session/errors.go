package session

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrActiveConflict is returned when a second ACTIVE session for a user
	// slips past per-user serialization and hits the storage backstop.
	ErrActiveConflict = errors.New("concurrent active session")

	// ErrDuplicateToken is returned when a generated session token collides.
	ErrDuplicateToken = errors.New("duplicate session token")
)
