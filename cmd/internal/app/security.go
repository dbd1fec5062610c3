package app

import (
	"errors"

	"parley/cmd/security/token"
)

// ValidateSecurityConfig fails startup when policy demands keyed invite hashing
// and the runtime cannot provide it.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: PARLEY_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: PARLEY_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is too short (min 32 bytes)")
		default:
			return err
		}
	}

	h, err := token.HasherFromEnv()
	if err != nil {
		return err
	}
	if !h.Keyed() {
		return errors.New("security policy: PARLEY_REQUIRE_TOKEN_HMAC=true but invite hasher is not in HMAC mode")
	}
	return nil
}
