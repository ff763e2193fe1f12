package token

import "errors"

var (
	// ErrHMACKeyMissing is returned when HMAC digests are required but no key is configured.
	ErrHMACKeyMissing = errors.New("token digest key missing")
	// ErrHMACKeyTooShort is returned when the configured key is below MinHMACKeyBytes.
	ErrHMACKeyTooShort = errors.New("token digest key too short")
)
