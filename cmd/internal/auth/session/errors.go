package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnknownAccount is returned when a valid token names an account that no longer exists.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrUnverifiedAccount is returned when the account has not been verified yet.
	ErrUnverifiedAccount = errors.New("unverified account")

	// ErrSessionRevoked is returned when the token's session was revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// IsUnauthenticated reports whether err means the caller is not authenticated
// (as opposed to an internal lookup failure).
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrUnverifiedAccount) ||
		errors.Is(err, ErrSessionRevoked)
}
