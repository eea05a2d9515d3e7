package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Core contains platform-level metrics shared across components.
type Core struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Subscription and fan-out metrics
	SubscriptionsActive prometheus.Gauge
	UpdatesDelivered    *prometheus.CounterVec
	UpdatesDropped      *prometheus.CounterVec
	DeliveryDuration    prometheus.Histogram

	// Listener metrics
	ListenerState *prometheus.GaugeVec

	// Error accounting
	ErrorsTotal *prometheus.CounterVec

	// Event feed metrics
	FeedConnected prometheus.Gauge
	FeedPublished prometheus.Counter
}

// NewCore creates the core platform metrics.
func NewCore() *Core {
	return &Core{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "starsync",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of live registered connections",
		}),

		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "connections",
			Name:      "total",
			Help:      "Total connections registered since startup",
		}),

		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "starsync",
			Subsystem: "subscriptions",
			Name:      "active",
			Help:      "Number of live property subscriptions",
		}),

		UpdatesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "updates",
			Name:      "delivered_total",
			Help:      "Property change notifications delivered to sessions",
		}, []string{"transport"}),

		UpdatesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "updates",
			Name:      "dropped_total",
			Help:      "Property change notifications dropped before delivery",
		}, []string{"reason"}),

		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "starsync",
			Subsystem: "updates",
			Name:      "delivery_duration_seconds",
			Help:      "Time from property mutation to session enqueue",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		ListenerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "starsync",
			Subsystem: "listener",
			Name:      "state",
			Help:      "Listener state (0=starting, 1=running, 2=shutting_down, 3=stopped)",
		}, []string{"listener"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total errors by component and type",
		}, []string{"component", "type"}),

		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "starsync",
			Subsystem: "feed",
			Name:      "connected",
			Help:      "Event feed broker connection status (0=disconnected, 1=connected)",
		}),

		FeedPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "starsync",
			Subsystem: "feed",
			Name:      "published_total",
			Help:      "Change events mirrored to the event feed",
		}),
	}
}

func (c *Core) mustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		c.ConnectionsActive,
		c.ConnectionsTotal,
		c.SubscriptionsActive,
		c.UpdatesDelivered,
		c.UpdatesDropped,
		c.DeliveryDuration,
		c.ListenerState,
		c.ErrorsTotal,
		c.FeedConnected,
		c.FeedPublished,
	)
}

// RecordDelivery increments the delivered counter for a transport and
// observes the enqueue latency.
func (c *Core) RecordDelivery(transport string, elapsed time.Duration) {
	c.UpdatesDelivered.WithLabelValues(transport).Inc()
	c.DeliveryDuration.Observe(elapsed.Seconds())
}

// RecordDrop increments the dropped counter with a reason label.
func (c *Core) RecordDrop(reason string) {
	c.UpdatesDropped.WithLabelValues(reason).Inc()
}

// RecordError increments the error counter for a component.
func (c *Core) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordListenerState updates the state gauge for a listener.
func (c *Core) RecordListenerState(listener string, state int) {
	c.ListenerState.WithLabelValues(listener).Set(float64(state))
}

// RecordFeedStatus updates the event feed connection gauge.
func (c *Core) RecordFeedStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.FeedConnected.Set(value)
}
