// Package v1 defines the Parley subscription protocol v1 contract.
//
// It is shared between the server and clients (including tools/scripts) so the
// wire format has a single authoritative definition. It depends only on the
// standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "parley.subscriptions.v1"

// Frame types (wire-stable).
const (
	// TypeConnectionInit opens the session and optionally carries a credential (client -> server).
	TypeConnectionInit = "connection_init"
	// TypeConnectionAck acknowledges connection_init (server -> client).
	TypeConnectionAck = "connection_ack"

	// TypeSubscribe carries the subscription document (client -> server).
	TypeSubscribe = "subscribe"
	// TypeNext carries one topic event (server -> client).
	TypeNext = "next"

	// TypePing is the client liveness signal; TypePong answers it.
	TypePing = "ping"
	TypePong = "pong"

	// TypeComplete ends the subscription from the client side.
	TypeComplete = "complete"

	// TypeError reports a recoverable problem with a client frame (server -> client).
	TypeError = "error"
)

// Close reasons sent with the WebSocket close frame.
const (
	CloseReasonUnauthorized      = "unauthorized"
	CloseReasonForbidden         = "forbidden"
	CloseReasonInvalidOperation  = "invalid operation"
	CloseReasonAmbiguousDocument = "ambiguous operation"
	CloseReasonProtocol          = "protocol violation"
	CloseReasonKeepAliveTimeout  = "keep-alive timeout"
	CloseReasonInitTimeout       = "connection init timeout"
	CloseReasonRateLimited       = "rate limited"
	CloseReasonInternal          = "internal error"
	CloseReasonClientComplete    = "complete"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeConnectionInit,
		TypeConnectionAck,
		TypeSubscribe,
		TypeNext,
		TypePing,
		TypePong,
		TypeComplete,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// IsClientType reports whether t may be sent by clients.
func IsClientType(t string) bool {
	switch t {
	case TypeConnectionInit, TypeSubscribe, TypePing, TypeComplete:
		return true
	}
	return false
}
