package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// Empty selects the in-memory stores.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, HF_TOKEN_HMAC_KEY must be set (>= 32 bytes) and token
	// digests are HMAC-based.
	RequireTokenHMAC bool

	// Zero disables the background sweeper.
	SweepInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("HF_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("HF_LOG_LEVEL", "info"),
		LogFormat: EnvString("HF_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("HF_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HF_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HF_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HF_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("HF_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("HF_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("HF_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("HF_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("HF_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("HF_DB_MIGRATE", true),

		ReadinessRequireDB: EnvBool("HF_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("HF_REQUIRE_TOKEN_HMAC", false),

		SweepInterval: EnvDurationOrZero("HF_SWEEP_INTERVAL", time.Minute),
	}
}
