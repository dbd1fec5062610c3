package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCompleted signals a normal end of stream. Completion errors returned by
	// Channel.Next wrap it in a *CompletedError carrying the reason.
	ErrCompleted = errors.New("broker: registration completed")

	// ErrClosed is returned by Next after the reader closed its own channel.
	ErrClosed = errors.New("broker: channel closed")
)

// CompletedError carries the reason a registration was completed.
type CompletedError struct {
	Reason string
}

func (e *CompletedError) Error() string {
	if e.Reason == "" {
		return ErrCompleted.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCompleted.Error(), e.Reason)
}

func (e *CompletedError) Unwrap() error { return ErrCompleted }

// CompletionReason extracts the reason from a completion error, or "".
func CompletionReason(err error) string {
	var ce *CompletedError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// Overflow selects what happens when a channel's buffer is full.
type Overflow uint8

const (
	// DropOldest evicts the oldest buffered event to make room.
	DropOldest Overflow = iota
	// DropNewest discards the event being published.
	DropNewest
)

func (o Overflow) String() string {
	if o == DropNewest {
		return "drop-newest"
	}
	return "drop-oldest"
}

// ParseOverflow maps a config string to an Overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, nil
	case "drop-newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("broker: unknown overflow policy %q", s)
	}
}

// Registration is one subscriber's live binding to a topic for a recipient.
type Registration struct {
	ID          string
	Topic       Topic
	RecipientID string
	// ViewerID is the signed-in account behind a shared registration; empty
	// when RecipientID already names the subscriber.
	ViewerID string
	// Scope is an opaque subscriber-supplied key (for example "chat:42") that
	// predicates can match on when tearing registrations down.
	Scope     string
	CreatedAt time.Time
}

type deliveryResult uint8

const (
	delivered deliveryResult = iota
	deliveredAfterEvict
	droppedFull
	deliveryGone
)

// Channel is the handle a subscriber reads events from.
//
// The event buffer is never closed: publishers may still hold a snapshot that
// includes this channel, so termination is signalled through done instead.
type Channel struct {
	reg      Registration
	filter   func(Event) bool
	overflow Overflow
	broker   *Broker

	events chan Event
	done   chan struct{}

	once sync.Once
	err  error
}

func newChannel(b *Broker, reg Registration, size int, overflow Overflow, filter func(Event) bool) *Channel {
	return &Channel{
		reg:      reg,
		filter:   filter,
		overflow: overflow,
		broker:   b,
		events:   make(chan Event, size),
		done:     make(chan struct{}),
	}
}

// ID is the registration's capability for requesting its own removal.
func (c *Channel) ID() string { return c.reg.ID }

// Registration returns the registration metadata.
func (c *Channel) Registration() Registration { return c.reg }

// Done is closed once the registration terminated. Buffered events may remain.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the termination cause, or nil while the registration is live.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Next blocks until an event is available, the registration terminates, or
// ctx is done. Events buffered before termination are still returned; after
// that Next returns the termination cause (a *CompletedError for completion).
func (c *Channel) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		select {
		case ev := <-c.events:
			return ev, nil
		default:
			return nil, c.err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the channel from the reader side and removes the
// registration from the broker before returning.
func (c *Channel) Close() {
	c.finish(ErrClosed)
	if c.broker != nil {
		c.broker.remove(c.reg.ID)
	}
}

// finish records the termination cause once. Later calls are no-ops.
func (c *Channel) finish(err error) bool {
	first := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		first = true
	})
	return first
}

func (c *Channel) wants(ev Event) bool {
	return c.filter == nil || c.filter(ev)
}

// deliver enqueues ev without blocking. Only one publisher delivers to a given
// channel at a time (publishes are serialized per topic).
func (c *Channel) deliver(ev Event) deliveryResult {
	select {
	case <-c.done:
		return deliveryGone
	default:
	}

	select {
	case c.events <- ev:
		return delivered
	default:
	}

	if c.overflow == DropNewest {
		return droppedFull
	}

	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- ev:
		return deliveredAfterEvict
	default:
		return droppedFull
	}
}
