package pagination

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument reports a pagination request that breaks the caller contract.
var ErrInvalidArgument = errors.New("invalid pagination argument")

// Direction selects which end of the collection a request walks from.
type Direction uint8

const (
	DirectionForward Direction = iota
	DirectionBackward
)

func (d Direction) String() string {
	if d == DirectionBackward {
		return "backward"
	}
	return "forward"
}

// Request is a single pagination variant: Forward(first, after) or Backward(last, before).
// The zero value is Forward with no limit and no cursor, which returns everything.
type Request struct {
	dir    Direction
	limit  *int
	cursor *Cursor
}

// Forward builds a request that skips items up to and including after and
// returns at most first items.
func Forward(first *int, after *Cursor) Request {
	return Request{dir: DirectionForward, limit: first, cursor: after}
}

// Backward builds a request that skips items from before onwards and returns
// at most the last items of what remains.
func Backward(last *int, before *Cursor) Request {
	return Request{dir: DirectionBackward, limit: last, cursor: before}
}

func (r Request) Direction() Direction { return r.dir }
func (r Request) Limit() *int          { return r.limit }
func (r Request) Cursor() *Cursor      { return r.cursor }

// Validate rejects negative limits.
func (r Request) Validate() error {
	if r.limit != nil && *r.limit < 0 {
		return fmt.Errorf("%w: %s limit must be non-negative", ErrInvalidArgument, r.dir)
	}
	return nil
}

// Args are the raw arguments a paginated field accepts.
type Args struct {
	First  *int
	After  *Cursor
	Last   *int
	Before *Cursor
}

// Request resolves a to exactly one Request variant.
// Mixing forward (first/after) and backward (last/before) arguments is rejected.
func (a Args) Request() (Request, error) {
	forward := a.First != nil || a.After != nil
	backward := a.Last != nil || a.Before != nil

	var req Request
	switch {
	case forward && backward:
		return Request{}, fmt.Errorf("%w: first/after cannot be combined with last/before", ErrInvalidArgument)
	case backward:
		req = Backward(a.Last, a.Before)
	default:
		req = Forward(a.First, a.After)
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Int returns a pointer to n, for building requests inline.
func Int(n int) *int { return &n }

// At returns a pointer to c, for building requests inline.
func At(c Cursor) *Cursor { return &c }
