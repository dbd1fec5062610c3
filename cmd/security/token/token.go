package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "PARLEY_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the shortest accepted HMAC key.
	MinHMACKeyBytes = 32

	// MinOpaqueBytes and MaxOpaqueBytes bound NewOpaque.
	MinOpaqueBytes = 16
	MaxOpaqueBytes = 64
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Hasher turns opaque codes into storage keys.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher; a nil or empty key selects plain SHA-256.
func NewHasher(key []byte) Hasher {
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from PARLEY_TOKEN_HMAC_KEY. A missing key
// falls back to SHA-256; a key that is present but too short is an error.
func HasherFromEnv() (Hasher, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch err {
	case nil:
		return NewHasher(key), nil
	case ErrHMACKeyMissing:
		return NewHasher(nil), nil
	default:
		return Hasher{}, err
	}
}

// Keyed reports whether the hasher runs in HMAC mode.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex storage form of code.
func (h Hasher) Hash(code string) string {
	if !h.Keyed() {
		return HashSHA256Hex(code)
	}
	return HashHMACSHA256Hex(code, h.key)
}

// NewOpaque returns n random bytes encoded as unpadded base64url.
func NewOpaque(n int) (string, error) {
	if n < MinOpaqueBytes || n > MaxOpaqueBytes {
		return "", ErrInvalidLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
