package invite

import "errors"

// Sentinel errors returned by the invite service and its stores. The chat
// service maps ErrNotFound and ErrNotActive to the same not-found response so
// a caller cannot probe which codes once existed.
var (
	ErrInvalidInput = errors.New("invite: invalid input")
	ErrNotFound     = errors.New("invite: code not found")
	ErrNotActive    = errors.New("invite: no longer active")
)
