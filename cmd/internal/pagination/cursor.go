package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const cursorPrefix = "cursor:"

// Cursor is a stable, totally ordered key identifying one item of a collection.
// Storage assigns it once at creation time and never reuses it.
type Cursor int64

// EncodeCursor returns the opaque token clients see for c.
func EncodeCursor(c Cursor) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(int64(c), 10)))
}

// ParseCursor decodes a token produced by EncodeCursor.
func ParseCursor(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, fmt.Errorf("%w: empty cursor", ErrInvalidArgument)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}
	s, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}
	return Cursor(n), nil
}

func (c Cursor) String() string { return EncodeCursor(c) }

// MarshalText keeps cursors opaque in JSON.
func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(EncodeCursor(c)), nil
}

func (c *Cursor) UnmarshalText(b []byte) error {
	v, err := ParseCursor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
