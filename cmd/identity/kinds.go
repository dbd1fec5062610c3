package identity

import "errors"

// Sentinel validation errors (stable for errors.Is and for mapping to API codes).
var (
	ErrInvalidUsername = errors.New("invalid_username")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidBio      = errors.New("invalid_bio")
)
