package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// AdminKey guards the administrative routes when non-empty.
	AdminKey string

	// Login failure throttling. Counts come from the audit log, so it only
	// applies when the handler has a database.
	LoginIPMax          int
	LoginIPWindow       time.Duration
	LoginIdentifierMax  int
	LoginIdentifierWait time.Duration
}

// DefaultConfig returns the defaults used when no environment is set.
func DefaultConfig() Config {
	return Config{
		TrustProxy:          true,
		MaxBodyBytes:        1 << 20, // 1 MiB
		LoginIPMax:          20,
		LoginIPWindow:       5 * time.Minute,
		LoginIdentifierMax:  5,
		LoginIdentifierWait: 15 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:          envBool("HF_AUTH_TRUST_PROXY", def.TrustProxy),
		MaxBodyBytes:        envInt64("HF_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		AdminKey:            strings.TrimSpace(os.Getenv("HF_AUTH_ADMIN_KEY")),
		LoginIPMax:          envInt("HF_AUTH_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:       envDuration("HF_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LoginIdentifierMax:  envInt("HF_AUTH_LOGIN_IDENTIFIER_MAX", def.LoginIdentifierMax),
		LoginIdentifierWait: envDuration("HF_AUTH_LOGIN_IDENTIFIER_WINDOW", def.LoginIdentifierWait),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
