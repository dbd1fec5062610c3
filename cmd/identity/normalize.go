package identity

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinUsernameLen = 2
	MaxUsernameLen = 30
	MaxNameLen     = 30
	MaxBioLen      = 2500
)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks an already normalized username: lowercase letters,
// digits, '_' and '.', without leading, trailing or doubled dots.
func ValidateUsername(s string) error {
	n := utf8.RuneCountInString(s)
	if n < MinUsernameLen || n > MaxUsernameLen {
		return fmt.Errorf("%w: length must be %d-%d", ErrInvalidUsername, MinUsernameLen, MaxUsernameLen)
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return fmt.Errorf("%w: misplaced dot", ErrInvalidUsername)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: unsupported character %q", ErrInvalidUsername, r)
		}
	}
	return nil
}

// ValidateEmail checks an already normalized email address.
func ValidateEmail(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, s)
	}
	return nil
}

// ValidateName checks a first or last name. Empty names are allowed.
func ValidateName(s string) error {
	if utf8.RuneCountInString(s) > MaxNameLen {
		return fmt.Errorf("%w: longer than %d", ErrInvalidName, MaxNameLen)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: whitespace not allowed", ErrInvalidName)
		}
	}
	return nil
}

// ValidateBio checks a free-form profile bio.
func ValidateBio(s string) error {
	if utf8.RuneCountInString(s) > MaxBioLen {
		return fmt.Errorf("%w: longer than %d", ErrInvalidBio, MaxBioLen)
	}
	return nil
}
