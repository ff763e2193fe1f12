package ids

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// LoginPrefix marks bearer secrets issued by the token manager.
	LoginPrefix = "HF_"
	// SessionPrefix marks session tokens issued by the session manager.
	SessionPrefix = "SES_"
)

// Generator produces record ids and opaque secrets.
type Generator interface {
	// NewID returns a unique, time-sortable record id.
	NewID(now time.Time) (string, error)
	// NewTokenSecret returns a bearer secret of the form HF_<hex>_<unix millis>.
	NewTokenSecret(now time.Time) (string, error)
	// NewSessionToken returns a session token of the form SES_<hex>.
	NewSessionToken() (string, error)
}

// Default generates ULID ids and random-UUID backed secrets.
type Default struct{}

// NewID returns a ULID.
func (Default) NewID(now time.Time) (string, error) { return NewULID(now) }

// NewTokenSecret returns HF_<uuid without dashes>_<millis>.
func (Default) NewTokenSecret(now time.Time) (string, error) {
	hex, err := compactUUID()
	if err != nil {
		return "", err
	}
	return LoginPrefix + hex + "_" + strconv.FormatInt(now.UnixMilli(), 10), nil
}

// NewSessionToken returns SES_<uuid without dashes>.
func (Default) NewSessionToken() (string, error) {
	hex, err := compactUUID()
	if err != nil {
		return "", err
	}
	return SessionPrefix + hex, nil
}

func compactUUID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}

// OrDefault returns g, or Default when g is nil.
func OrDefault(g Generator) Generator {
	if g == nil {
		return Default{}
	}
	return g
}
