package realtime

import (
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

func TestTerminalStatesHaveNoExits(t *testing.T) {
	t.Parallel()

	all := []State{StateConnecting, StateAuthenticating, StateRejected, StateSubscribed,
		StateStreaming, StateCompleted, StateErrored, StatePolicyClosed}
	for _, from := range all {
		for _, to := range all {
			if from.Terminal() && canTransition(from, to) {
				t.Fatalf("terminal %s must not transition to %s", from, to)
			}
		}
		if !from.Terminal() && !canTransition(from, StateErrored) {
			t.Fatalf("%s must be able to error", from)
		}
	}
	if canTransition(StateConnecting, StateStreaming) {
		t.Fatalf("streaming requires authenticating and subscribing first")
	}
	if canTransition(StateStreaming, StateRejected) {
		t.Fatalf("rejection happens only while authenticating")
	}
}

func TestCloseCodes(t *testing.T) {
	t.Parallel()

	cases := map[State]websocket.StatusCode{
		StateCompleted:    websocket.StatusNormalClosure,
		StateRejected:     websocket.StatusPolicyViolation,
		StatePolicyClosed: websocket.StatusPolicyViolation,
		StateErrored:      websocket.StatusInternalError,
	}
	for s, want := range cases {
		if got := s.CloseCode(); got != want {
			t.Fatalf("%s: got %v want %v", s, got, want)
		}
	}
}

func TestMachineMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sm := newMachine(m)
	for _, s := range []State{StateAuthenticating, StateSubscribed, StateStreaming} {
		if err := sm.advance(s); err != nil {
			t.Fatalf("advance %s: %v", s, err)
		}
	}
	if got := metricValue(t, reg, "parley_realtime_connections", "streaming"); got != 1 {
		t.Fatalf("streaming gauge=%v want 1", got)
	}
	if err := sm.advance(StateSubscribed); err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if err := sm.advance(StateCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := metricValue(t, reg, "parley_realtime_connections", "streaming"); got != 0 {
		t.Fatalf("streaming gauge=%v want 0", got)
	}
	if got := metricValue(t, reg, "parley_realtime_closes_total", "completed"); got != 1 {
		t.Fatalf("closes=%v want 1", got)
	}
}

// metricValue reads the gauge or counter sample of family name labelled state.
func metricValue(t *testing.T, reg *prometheus.Registry, name, state string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "state" && l.GetValue() == state {
					if g := m.GetGauge(); g != nil {
						return g.GetValue()
					}
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cfg := Config{OriginRequired: true, AllowedOrigins: []string{"http://localhost:3000", "https://chat.example.com"}}
	cases := []struct {
		origin string
		ok     bool
	}{
		{"", false},
		{"http://localhost:3000", true},
		{"http://localhost:5173", true}, // host match ignores port
		{"https://chat.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/subscriptions", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if err := enforceOrigin(cfg, r); (err == nil) != tc.ok {
			t.Fatalf("origin %q: err=%v want ok=%v", tc.origin, err, tc.ok)
		}
	}

	if got := originPatterns([]string{"https://b.example", "http://a.example:80", "https://b.example:443", "*"}); !slices.Equal(got, []string{"a.example", "b.example"}) {
		t.Fatalf("patterns=%v", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PARLEY_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("PARLEY_WS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PARLEY_WS_KEEPALIVE_TIMEOUT", "15s")
	t.Setenv("PARLEY_WS_RATE_EVENTS", "-3")

	cfg := ConfigFromEnv()
	if cfg.OriginRequired {
		t.Fatalf("origin should not be required")
	}
	if !slices.Equal(cfg.AllowedOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("origins=%v", cfg.AllowedOrigins)
	}
	if cfg.KeepAliveTimeout.String() != "15s" {
		t.Fatalf("keep-alive=%v", cfg.KeepAliveTimeout)
	}
	if cfg.RateEvents != rateLimitEvents {
		t.Fatalf("invalid rate should keep default, got %d", cfg.RateEvents)
	}
}
