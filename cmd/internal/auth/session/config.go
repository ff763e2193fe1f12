package session

import (
	"os"
	"time"
)

// Config controls session expiry.
type Config struct {
	// IdleTimeout is how long an ACTIVE session may go unaccessed before
	// Validate expires it.
	IdleTimeout time.Duration

	// SweepIdleAfter is the idle age past which SweepIdle expires sessions.
	SweepIdleAfter time.Duration
}

// DefaultConfig returns a 2h idle timeout and a 24h sweep threshold.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    2 * time.Hour,
		SweepIdleAfter: 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - HF_SESSION_IDLE_TIMEOUT
//   - HF_SESSION_SWEEP_IDLE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("HF_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.IdleTimeout = d
	}

	if v := os.Getenv("HF_SESSION_SWEEP_IDLE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepIdleAfter = d
	}

	if cfg.SweepIdleAfter < cfg.IdleTimeout {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
