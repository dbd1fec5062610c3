package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the broker's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registrations *prometheus.GaugeVec
	publishedN    *prometheus.CounterVec
	deliveredN    *prometheus.CounterVec
	droppedN      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "broker",
			Name:      "registrations",
			Help:      "Live subscription registrations by topic.",
		}, []string{"topic"}),
		publishedN: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "broker",
			Name:      "notifications_published_total",
			Help:      "Notifications handed to Publish by topic.",
		}, []string{"topic"}),
		deliveredN: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "broker",
			Name:      "events_delivered_total",
			Help:      "Events enqueued into registration buffers by topic.",
		}, []string{"topic"}),
		droppedN: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "broker",
			Name:      "events_dropped_total",
			Help:      "Events not delivered by topic and reason (overflow, gone).",
		}, []string{"topic", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.registrations, m.publishedN, m.deliveredN, m.droppedN)
	}
	return m
}

func (m *Metrics) registered(t Topic) {
	if m != nil {
		m.registrations.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) unregistered(t Topic) {
	if m != nil {
		m.registrations.WithLabelValues(string(t)).Dec()
	}
}

func (m *Metrics) published(t Topic, n int) {
	if m != nil {
		m.publishedN.WithLabelValues(string(t)).Add(float64(n))
	}
}

func (m *Metrics) delivered(t Topic) {
	if m != nil {
		m.deliveredN.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) dropped(t Topic, reason string) {
	if m != nil {
		m.droppedN.WithLabelValues(string(t), reason).Inc()
	}
}
