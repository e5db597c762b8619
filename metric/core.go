package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all broker-level metrics (not component-specific)
type Metrics struct {
	// Transport metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	EventsReceived    *prometheus.CounterVec

	// Routing metrics
	EventsDelivered *prometheus.CounterVec

	// Registry metrics
	IdentitiesRegistered *prometheus.GaugeVec

	// Alert service metrics
	AlertRequests *prometheus.CounterVec

	// Error tracking
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all broker metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "iotbridge",
				Subsystem: "transport",
				Name:      "connections_active",
				Help:      "Number of active transport sessions",
			},
		),

		ConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "transport",
				Name:      "connections_total",
				Help:      "Total number of transport sessions accepted",
			},
		),

		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "transport",
				Name:      "events_received_total",
				Help:      "Total inbound events by event name",
			},
			[]string{"event"},
		),

		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "router",
				Name:      "events_delivered_total",
				Help:      "Total outbound event hand-offs by table and status",
			},
			[]string{"table", "event", "status"},
		),

		IdentitiesRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "iotbridge",
				Subsystem: "registry",
				Name:      "identities",
				Help:      "Registered identities by table and category",
			},
			[]string{"table", "category"},
		),

		AlertRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "alertservice",
				Name:      "requests_total",
				Help:      "Total alert service requests by operation and status",
			},
			[]string{"operation", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and type",
			},
			[]string{"component", "type"},
		),
	}
}

// RecordConnectionOpened tracks a new transport session
func (c *Metrics) RecordConnectionOpened() {
	c.ConnectionsActive.Inc()
	c.ConnectionsTotal.Inc()
}

// RecordConnectionClosed tracks a closed transport session
func (c *Metrics) RecordConnectionClosed() {
	c.ConnectionsActive.Dec()
}

// RecordEventReceived increments the inbound event counter
func (c *Metrics) RecordEventReceived(event string) {
	c.EventsReceived.WithLabelValues(event).Inc()
}

// RecordEventDelivered increments the outbound hand-off counter
func (c *Metrics) RecordEventDelivered(table, event, status string) {
	c.EventsDelivered.WithLabelValues(table, event, status).Inc()
}

// RecordIdentities sets the registered identity gauge for a table/category pair
func (c *Metrics) RecordIdentities(table, category string, count int) {
	c.IdentitiesRegistered.WithLabelValues(table, category).Set(float64(count))
}

// RecordAlertRequest increments the alert service request counter
func (c *Metrics) RecordAlertRequest(operation, status string) {
	c.AlertRequests.WithLabelValues(operation, status).Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
