package v1

import "encoding/json"

// ---- Frame payloads ----

// ConnectionInitPayload is sent first by the client. An empty Token requests
// an anonymous session.
type ConnectionInitPayload struct {
	Token string `json:"token,omitempty"`
}

// ConnectionAckPayload acknowledges the session.
type ConnectionAckPayload struct {
	ConnectionID string `json:"connection_id"`
	// KeepAliveMS is the longest gap the server tolerates between client frames.
	KeepAliveMS int64 `json:"keep_alive_ms"`
	Anonymous   bool  `json:"anonymous,omitempty"`
}

// SubscribePayload carries a subscription document. OperationName selects one
// operation when the document defines several.
type SubscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operation_name,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// NextPayload wraps one event. Event always contains the "__typename" discriminant.
type NextPayload struct {
	Topic string          `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// ErrorPayload reports a rejected client frame without closing the stream.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
