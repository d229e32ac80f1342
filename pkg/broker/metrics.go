package broker

import (
	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics is the broker's own instrumentation, exposed through the
// monitoring server. A nil receiver is valid and counts nothing, which
// keeps the hub testable without a registry.
type metrics struct {
	roomsOnline    prometheus.Gauge
	sessionsActive prometheus.Gauge
	joinRejections *prometheus.CounterVec
	relayedPackets *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		roomsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teleop",
			Name:      "rooms_online",
			Help:      "Number of rooms with a connected robot.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teleop",
			Name:      "sessions_active",
			Help:      "Number of active operator sessions.",
		}),
		joinRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teleop",
			Name:      "join_rejections_total",
			Help:      "Rejected room join attempts by reason.",
		}, []string{"reason"}),
		relayedPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teleop",
			Name:      "relayed_packets_total",
			Help:      "Negotiation packets relayed between peers by type.",
		}, []string{"type"}),
	}
	prometheus.MustRegister(m.roomsOnline, m.sessionsActive, m.joinRejections, m.relayedPackets)
	return m
}

func (m *metrics) roomOnline() {
	if m != nil {
		m.roomsOnline.Inc()
	}
}

func (m *metrics) roomOffline() {
	if m != nil {
		m.roomsOnline.Dec()
	}
}

func (m *metrics) sessionStarted() {
	if m != nil {
		m.sessionsActive.Inc()
	}
}

func (m *metrics) sessionEnded() {
	if m != nil {
		m.sessionsActive.Dec()
	}
}

func (m *metrics) joinRejected(reason string) {
	if m != nil {
		m.joinRejections.WithLabelValues(reason).Inc()
	}
}

func (m *metrics) packetRelayed(t api.PT) {
	if m != nil {
		m.relayedPackets.WithLabelValues(t.String()).Inc()
	}
}
