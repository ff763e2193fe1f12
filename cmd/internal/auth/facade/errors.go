package facade

import (
	"errors"

	"hfauth/cmd/identity"
)

var (
	// ErrInvalidToken covers unknown, expired, revoked, and wrong-kind tokens alike.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredentials covers unknown email, wrong password, and disabled
	// account alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = identity.ErrInvalidInput

	// ErrNotFound is returned when an addressed record does not exist.
	ErrNotFound = identity.ErrNotFound

	// ErrDuplicateEmail is returned by Register for an email already on file.
	ErrDuplicateEmail = identity.ErrDuplicateEmail
)

// InputError is an ErrInvalidInput carrying a client-safe reason.
type InputError struct {
	Reason string
}

func (e InputError) Error() string { return "invalid input: " + e.Reason }

func (e InputError) Unwrap() error { return ErrInvalidInput }

func invalidInput(reason string) error { return InputError{Reason: reason} }
