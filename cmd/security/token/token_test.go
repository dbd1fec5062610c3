package token

import (
	"strings"
	"testing"
)

func TestHasher_Modes(t *testing.T) {
	t.Parallel()

	plain := NewHasher(nil)
	if plain.Keyed() {
		t.Fatalf("nil key must select sha256 mode")
	}
	if got := plain.Hash("abc"); got != HashSHA256Hex("abc") {
		t.Fatalf("plain hash mismatch: %s", got)
	}

	key := []byte(strings.Repeat("k", MinHMACKeyBytes))
	keyed := NewHasher(key)
	if !keyed.Keyed() {
		t.Fatalf("expected keyed hasher")
	}
	if got := keyed.Hash("abc"); got != HashHMACSHA256Hex("abc", key) || got == plain.Hash("abc") {
		t.Fatalf("keyed hash mismatch: %s", got)
	}
	if len(keyed.Hash("abc")) != 64 {
		t.Fatalf("expected 64 hex chars")
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	h, err := HasherFromEnv()
	if err != nil || h.Keyed() {
		t.Fatalf("missing key: keyed=%v err=%v", h.Keyed(), err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HasherFromEnv(); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("z", 40))
	h, err = HasherFromEnv()
	if err != nil || !h.Keyed() {
		t.Fatalf("valid key: keyed=%v err=%v", h.Keyed(), err)
	}
}

func TestNewOpaque(t *testing.T) {
	t.Parallel()

	a, err := NewOpaque(24)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	b, _ := NewOpaque(24)
	if a == b {
		t.Fatalf("expected distinct codes")
	}
	if len(a) != 32 {
		t.Fatalf("24 bytes should encode to 32 chars, got %d", len(a))
	}
	if _, err := NewOpaque(4); err != ErrInvalidLength {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if !Equal(a, a) || Equal(a, b) {
		t.Fatalf("Equal misbehaves")
	}
}
