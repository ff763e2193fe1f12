package events

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSendQueue       = 64
	minSendQueue           = 8
	defaultWriteTimeout    = 5 * time.Second
	defaultReadIdleTimeout = 2 * time.Minute
	defaultHelloTimeout    = 10 * time.Second
	defaultHeartbeatEvery  = 25 * time.Second
	defaultHeartbeatWait   = 5 * time.Second
	defaultRateEvents      = 30
	defaultRateWindow      = 10 * time.Second
	defaultAllowedOrigins  = "http://localhost,http://127.0.0.1"

	maxFrameBytes = 8 << 10
)

// GatewayConfig tunes the websocket gateway.
type GatewayConfig struct {
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables websocket.Accept origin verification. Dev only.
	DevInsecure bool

	SendQueue        int
	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HelloTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig requires an Origin and only allows localhost.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   true,
		AllowedOrigins:   splitCSV(defaultAllowedOrigins),
		SendQueue:        defaultSendQueue,
		WriteTimeout:     defaultWriteTimeout,
		ReadIdleTimeout:  defaultReadIdleTimeout,
		HelloTimeout:     defaultHelloTimeout,
		HeartbeatEvery:   defaultHeartbeatEvery,
		HeartbeatTimeout: defaultHeartbeatWait,
		RateEvents:       defaultRateEvents,
		RateWindow:       defaultRateWindow,
	}
}

// LoadGatewayConfigFromEnv reads HF_WS_* variables. Invalid values keep the
// default.
//
//   - HF_WS_ORIGIN_REQUIRED, HF_WS_ALLOWED_ORIGINS, HF_WS_DEV_INSECURE
//   - HF_WS_SEND_QUEUE, HF_WS_WRITE_TIMEOUT, HF_WS_READ_IDLE_TIMEOUT, HF_WS_HELLO_TIMEOUT
//   - HF_WS_HEARTBEAT_INTERVAL, HF_WS_HEARTBEAT_TIMEOUT
//   - HF_WS_RATE_EVENTS, HF_WS_RATE_WINDOW
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	cfg.OriginRequired = envBool("HF_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	if raw := strings.TrimSpace(os.Getenv("HF_WS_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = splitCSV(raw)
	}
	cfg.DevInsecure = envBool("HF_WS_DEV_INSECURE", false)

	cfg.SendQueue = envInt("HF_WS_SEND_QUEUE", cfg.SendQueue)
	if cfg.SendQueue < minSendQueue {
		cfg.SendQueue = minSendQueue
	}
	cfg.WriteTimeout = envDuration("HF_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadIdleTimeout = envDuration("HF_WS_READ_IDLE_TIMEOUT", cfg.ReadIdleTimeout)
	cfg.HelloTimeout = envDuration("HF_WS_HELLO_TIMEOUT", cfg.HelloTimeout)
	cfg.HeartbeatEvery = envDuration("HF_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDuration("HF_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.RateEvents = envInt("HF_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDuration("HF_WS_RATE_WINDOW", cfg.RateWindow)

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

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
