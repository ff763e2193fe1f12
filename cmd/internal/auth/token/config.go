package token

import (
	"os"
	"time"
)

// Config holds token lifetimes.
type Config struct {
	LoginTTL   time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration

	// Retention is how long inactive tokens are kept past their expiry
	// before PurgeInactive deletes them.
	Retention time.Duration
}

// DefaultConfig returns the documented lifetimes: 24h login, 7d refresh, 1h reset.
func DefaultConfig() Config {
	return Config{
		LoginTTL:   24 * time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
		ResetTTL:   time.Hour,
		Retention:  30 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Optional (durations must be valid, positive Go duration strings):
//   - HF_TOKEN_LOGIN_TTL
//   - HF_TOKEN_REFRESH_TTL
//   - HF_TOKEN_RESET_TTL
//   - HF_TOKEN_RETENTION
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"HF_TOKEN_LOGIN_TTL", &cfg.LoginTTL},
		{"HF_TOKEN_REFRESH_TTL", &cfg.RefreshTTL},
		{"HF_TOKEN_RESET_TTL", &cfg.ResetTTL},
		{"HF_TOKEN_RETENTION", &cfg.Retention},
	} {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		*f.dst = d
	}

	return cfg, nil
}

func (c Config) ttl(k Kind) time.Duration {
	switch k {
	case KindRefresh:
		return c.RefreshTTL
	case KindReset:
		return c.ResetTTL
	default:
		return c.LoginTTL
	}
}
