package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Security defaults:
// - Origin is required by default.
// - Only localhost is allowed by default (secure-by-default for dev).
const (
	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Config holds the gateway knobs. Zero durations and counts fall back to defaults.
type Config struct {
	OriginRequired bool
	AllowedOrigins []string

	// InsecureSkipVerify disables the websocket library's own origin check (dev only).
	InsecureSkipVerify bool

	InitTimeout      time.Duration
	KeepAliveTimeout time.Duration
	WriteTimeout     time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   defaultOriginRequired,
		AllowedOrigins:   splitCSV(defaultAllowedOrigins),
		InitTimeout:      defaultInitTimeout,
		KeepAliveTimeout: defaultKeepAliveTimeout,
		WriteTimeout:     defaultWriteTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// ConfigFromEnv reads PARLEY_WS_* over the defaults. Malformed values keep the default.
func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		InsecureSkipVerify: envBoolWS("PARLEY_WS_DEV_INSECURE", false),
		OriginRequired:     envBoolWS("PARLEY_WS_ORIGIN_REQUIRED", def.OriginRequired),
		AllowedOrigins:     envCSVWS("PARLEY_WS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		InitTimeout:        envDurationWS("PARLEY_WS_INIT_TIMEOUT", def.InitTimeout),
		KeepAliveTimeout:   envDurationWS("PARLEY_WS_KEEPALIVE_TIMEOUT", def.KeepAliveTimeout),
		WriteTimeout:       envDurationWS("PARLEY_WS_WRITE_TIMEOUT", def.WriteTimeout),
		RateEvents:         envIntWS("PARLEY_WS_RATE_EVENTS", def.RateEvents),
		RateWindow:         envDurationWS("PARLEY_WS_RATE_WINDOW", def.RateWindow),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitTimeout <= 0 {
		c.InitTimeout = def.InitTimeout
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = def.KeepAliveTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

// limiter allows RateEvents frames per RateWindow, bursting up to RateEvents.
func (c Config) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(c.RateWindow/time.Duration(c.RateEvents)), c.RateEvents)
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
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

func envIntWS(key string, def int) int {
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

func envDurationWS(key string, def time.Duration) time.Duration {
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

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
