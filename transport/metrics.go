package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
)

// hubMetrics holds wire-level collectors only the hub can observe. Session
// and event counts live in the shared core metrics; these track bytes and
// keepalive traffic.
type hubMetrics struct {
	pingsSent    prometheus.Counter
	payloadBytes *prometheus.CounterVec // by direction: in, out
}

// newHubMetrics creates and registers hub collectors with the provided registry.
func newHubMetrics(registry *metric.MetricsRegistry) (*hubMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &hubMetrics{
		pingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iotbridge",
			Subsystem: "hub",
			Name:      "pings_sent_total",
			Help:      "Total keepalive pings written to sessions",
		}),

		payloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iotbridge",
			Subsystem: "hub",
			Name:      "payload_bytes_total",
			Help:      "Total envelope bytes on the wire by direction",
		}, []string{"direction"}),
	}

	if err := registry.RegisterCounter("hub", "pings_sent", m.pingsSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("hub", "payload_bytes", m.payloadBytes); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *hubMetrics) recordInbound(n int) {
	if m == nil {
		return
	}
	m.payloadBytes.WithLabelValues("in").Add(float64(n))
}

func (m *hubMetrics) recordOutbound(n int) {
	if m == nil {
		return
	}
	m.payloadBytes.WithLabelValues("out").Add(float64(n))
}

func (m *hubMetrics) recordPing() {
	if m == nil {
		return
	}
	m.pingsSent.Inc()
}

// RegisterMetrics registers the hub's own collectors with the shared metrics
// registry. Call it before Start; a nil registry leaves them disabled.
func (h *Hub) RegisterMetrics(registry *metric.MetricsRegistry) error {
	m, err := newHubMetrics(registry)
	if err != nil {
		return errors.Wrap(err, "Hub", "RegisterMetrics", "register collectors")
	}

	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	h.hubMetrics = m
	return nil
}
