package chat

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
//
// Client input: ErrInvalidArgument, ErrNotFound, ErrConflict.
// Authorization: ErrUnauthenticated, ErrForbidden.
// Anything else is internal and must not be shown to clients verbatim.
var (
	ErrInvalidArgument = errors.New("invalid_argument")
	ErrNotFound        = errors.New("not_found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Msg is shown to clients; never put storage detail in it.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness conflict for a logical field ("username", "email_address").
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row.
type NotFoundError struct {
	Op       string
	Resource string
	ID       int64
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s %d", e.Op, ErrNotFound, e.Resource, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError reports whether err belongs to the client-visible taxonomy.
func IsClientError(err error) bool {
	for _, k := range []error{ErrInvalidArgument, ErrNotFound, ErrConflict, ErrUnauthenticated, ErrForbidden} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func invalid(op, msg string) error   { return OpError{Op: op, Kind: ErrInvalidArgument, Msg: msg} }
func forbidden(op, msg string) error { return OpError{Op: op, Kind: ErrForbidden, Msg: msg} }
