package realtime

import (
	"fmt"

	"github.com/coder/websocket"
)

// State is the lifecycle position of one subscription connection.
type State uint8

const (
	StateConnecting State = iota
	StateAuthenticating
	StateRejected
	StateSubscribed
	StateStreaming
	StateCompleted
	StateErrored
	StatePolicyClosed
)

var stateNames = [...]string{
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateRejected:       "rejected",
	StateSubscribed:     "subscribed",
	StateStreaming:      "streaming",
	StateCompleted:      "completed",
	StateErrored:        "errored",
	StatePolicyClosed:   "policy_closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCompleted, StateErrored, StatePolicyClosed:
		return true
	}
	return false
}

// CloseCode is the websocket status a connection ending in s is closed with.
func (s State) CloseCode() websocket.StatusCode {
	switch s {
	case StateCompleted:
		return websocket.StatusNormalClosure
	case StateRejected, StatePolicyClosed:
		return websocket.StatusPolicyViolation
	default:
		return websocket.StatusInternalError
	}
}

var transitions = map[State][]State{
	StateConnecting:     {StateAuthenticating, StatePolicyClosed, StateErrored},
	StateAuthenticating: {StateSubscribed, StateRejected, StatePolicyClosed, StateCompleted, StateErrored},
	StateSubscribed:     {StateStreaming, StatePolicyClosed, StateCompleted, StateErrored},
	StateStreaming:      {StateCompleted, StatePolicyClosed, StateErrored},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks one connection's state and mirrors it into metrics.
// It is owned by the connection's serving goroutine.
type machine struct {
	state   State
	metrics *Metrics
}

func newMachine(m *Metrics) *machine {
	m.enter(StateConnecting)
	return &machine{state: StateConnecting, metrics: m}
}

func (m *machine) advance(to State) error {
	if !canTransition(m.state, to) {
		return fmt.Errorf("realtime: illegal transition %s -> %s", m.state, to)
	}
	m.metrics.leave(m.state)
	m.state = to
	if to.Terminal() {
		m.metrics.closed(to)
	} else {
		m.metrics.enter(to)
	}
	return nil
}
