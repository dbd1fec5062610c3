package session

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_MissingSecretKey(t *testing.T) {
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("PARLEY_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_SkewExceedsTTL(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("PARLEY_AUTH_ACCESS_TTL", "1m")
	t.Setenv("PARLEY_AUTH_CLOCK_SKEW", "2m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for skew >= ttl, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("PARLEY_AUTH_ISSUER", "parley-test")
	t.Setenv("PARLEY_AUTH_ACCESS_TTL", "10m")
	t.Setenv("PARLEY_AUTH_CLOCK_SKEW", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "parley-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
}
