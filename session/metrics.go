package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstarscape/starsync/metric"
)

// Metrics holds Prometheus metrics shared by all sessions, labeled by
// transport kind.
type Metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec
	bytesSent       *prometheus.CounterVec
	sendErrors      *prometheus.CounterVec
	sessionsActive  *prometheus.GaugeVec
}

// NewMetrics creates and registers session metrics. Returns nil when the
// registry is nil, and sessions treat a nil Metrics as disabled. A
// registration conflict (a collector with the same name already present)
// is reported, not swallowed.
func NewMetrics(registry *metric.Registry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "session",
			Name:      "packets_sent_total",
			Help:      "Outbound packets written to the transport",
		}, []string{"transport"}),

		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "session",
			Name:      "packets_received_total",
			Help:      "Inbound packets delivered to the receive handler",
		}, []string{"transport"}),

		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "session",
			Name:      "packets_dropped_total",
			Help:      "Outbound packets dropped by the bounded send queue",
		}, []string{"transport"}),

		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "session",
			Name:      "bytes_sent_total",
			Help:      "Outbound bytes written to the transport",
		}, []string{"transport"}),

		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "session",
			Name:      "send_errors_total",
			Help:      "Transport-level send failures",
		}, []string{"transport"}),

		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "starsync",
			Subsystem: "session",
			Name:      "active",
			Help:      "Live sessions by transport",
		}, []string{"transport"}),
	}

	counters := map[string]*prometheus.CounterVec{
		"packets_sent":     m.packetsSent,
		"packets_received": m.packetsReceived,
		"packets_dropped":  m.packetsDropped,
		"bytes_sent":       m.bytesSent,
		"send_errors":      m.sendErrors,
	}
	for name, vec := range counters {
		if err := registry.RegisterCounterVec("session", name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGaugeVec("session", "active", m.sessionsActive); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordSent(kind Kind, bytes int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(kind.String()).Inc()
	m.bytesSent.WithLabelValues(kind.String()).Add(float64(bytes))
}

func (m *Metrics) recordReceived(kind Kind) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) recordDropped(kind Kind) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) recordSendError(kind Kind) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) sessionOpened(kind Kind) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) sessionClosed(kind Kind) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(kind.String()).Dec()
}
