package token

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrInvalidKind is returned when an unknown kind reaches the store.
	ErrInvalidKind = errors.New("invalid token kind")

	// ErrDuplicateSecret is returned when a generated secret collides with a stored one.
	ErrDuplicateSecret = errors.New("duplicate token secret")

	// ErrMissingCredential is returned when a reset token is issued without a credential.
	ErrMissingCredential = errors.New("reset token requires a credential")

	// ErrUnknownCredential is returned when a reset token names a credential that does not exist.
	ErrUnknownCredential = errors.New("reset token names an unknown credential")
)
