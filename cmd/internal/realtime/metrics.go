package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gateway's collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections *prometheus.GaugeVec
	closes      *prometheus.CounterVec
	eventsSent  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open subscription connections by current state.",
		}, []string{"state"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "realtime",
			Name:      "closes_total",
			Help:      "Closed subscription connections by final state.",
		}, []string{"state"}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "realtime",
			Name:      "events_sent_total",
			Help:      "Events written to clients by topic.",
		}, []string{"topic"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.closes, m.eventsSent)
	}
	return m
}

func (m *Metrics) enter(s State) {
	if m != nil {
		m.connections.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) leave(s State) {
	if m != nil {
		m.connections.WithLabelValues(s.String()).Dec()
	}
}

func (m *Metrics) closed(s State) {
	if m != nil {
		m.closes.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) sent(topic string) {
	if m != nil {
		m.eventsSent.WithLabelValues(topic).Inc()
	}
}
