package password

import (
	"crypto/subtle"
	"fmt"
	"strings"
)

const (
	// NamePlain selects the verbatim strategy.
	NamePlain = "plain"
	// NameArgon2id selects the Argon2id strategy.
	NameArgon2id = "argon2id"
)

// Hasher turns a submitted secret into its stored form and checks submissions
// against a stored value.
type Hasher interface {
	Name() string
	Hash(plain string) (string, error)
	// Verify reports whether plain matches stored. A malformed stored value
	// returns (false, ErrInvalidHash).
	Verify(stored, plain string) (bool, error)
}

// Plain keeps secrets verbatim.
type Plain struct{}

// Name implements Hasher.
func (Plain) Name() string { return NamePlain }

// Hash returns plain unchanged.
func (Plain) Hash(plain string) (string, error) { return plain, nil }

// Verify compares stored and plain byte for byte.
func (Plain) Verify(stored, plain string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1, nil
}

// New returns the hasher registered under name ("" means plain).
func New(name string, cfg Config) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NamePlain:
		return Plain{}, nil
	case NameArgon2id:
		return NewArgon2id(cfg.Params), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
}
