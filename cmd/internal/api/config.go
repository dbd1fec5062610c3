package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls API limits and optional surfaces.
type Config struct {
	MaxBodyBytes int64

	// MutationEvents writes are allowed per account per MutationWindow.
	MutationEvents int
	MutationWindow time.Duration

	InviteTTL    time.Duration
	InviteMaxTTL time.Duration

	// DevEndpoints mounts /v1/dev/* (account verification and token minting
	// without credentials). Never enable in production.
	DevEndpoints bool
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20,
		MutationEvents: 60,
		MutationWindow: time.Minute,
		InviteTTL:      7 * 24 * time.Hour,
		InviteMaxTTL:   30 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		MaxBodyBytes:   envInt64("PARLEY_API_MAX_BODY_BYTES", def.MaxBodyBytes),
		MutationEvents: envInt("PARLEY_API_MUTATION_EVENTS", def.MutationEvents),
		MutationWindow: envDuration("PARLEY_API_MUTATION_WINDOW", def.MutationWindow),
		InviteTTL:      envDuration("PARLEY_INVITE_TTL", def.InviteTTL),
		InviteMaxTTL:   envDuration("PARLEY_INVITE_TTL_MAX", def.InviteMaxTTL),
		DevEndpoints:   envBool("PARLEY_API_DEV_ENDPOINTS", false),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.MutationEvents <= 0 {
		c.MutationEvents = def.MutationEvents
	}
	if c.MutationWindow <= 0 {
		c.MutationWindow = def.MutationWindow
	}
	if c.InviteMaxTTL <= 0 {
		c.InviteMaxTTL = def.InviteMaxTTL
	}
	if c.InviteTTL <= 0 {
		c.InviteTTL = def.InviteTTL
	}
	if c.InviteTTL > c.InviteMaxTTL {
		c.InviteTTL = c.InviteMaxTTL
	}
	return c
}

// inviteTTL clamps a requested lifetime into (0, InviteMaxTTL].
func (c Config) inviteTTL(seconds int64) time.Duration {
	if seconds <= 0 {
		return c.InviteTTL
	}
	ttl := time.Duration(seconds) * time.Second
	if ttl > c.InviteMaxTTL {
		return c.InviteMaxTTL
	}
	return ttl
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
