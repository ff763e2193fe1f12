package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the digest key.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "HF_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the minimum key size accepted when HMAC is required.
	MinHMACKeyBytes = 32
)

// Digester maps a secret to its storage digest.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester. An empty key selects plain SHA-256.
func NewDigester(key []byte) Digester {
	if len(key) == 0 {
		return Digester{}
	}
	cp := make([]byte, len(key))
	copy(cp, key)
	return Digester{key: cp}
}

// DigesterFromEnv builds a Digester from HF_TOKEN_HMAC_KEY.
// When require is true the key must be present and at least MinHMACKeyBytes long.
func DigesterFromEnv(require bool) (Digester, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		if require {
			return Digester{}, ErrHMACKeyMissing
		}
		return Digester{}, nil
	}
	if require && len(raw) < MinHMACKeyBytes {
		return Digester{}, ErrHMACKeyTooShort
	}
	return NewDigester([]byte(raw)), nil
}

// Keyed reports whether the digester runs in HMAC mode.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns the hex digest of secret.
func (d Digester) Digest(secret string) string {
	if !d.Keyed() {
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, d.key)
	_, _ = m.Write([]byte(secret))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares two 64-char hex digests in constant time.
// Inputs of any other length never match.
func Equal(a, b string) bool {
	if len(a) != 64 || len(b) != 64 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
