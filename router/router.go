// Package router resolves logical identities to live transport sessions and
// delivers named events to one or many targets. Delivery is fire-and-forget:
// a true result means the event was handed to the transport, not that the
// remote peer processed it.
package router

import (
	"log/slog"

	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
	"github.com/LeDonChung/asset-management-iuh-sckt/registry"
)

// Sender is the one-way transport primitive the router delivers through.
type Sender interface {
	Send(connID, event string, payload any) error
}

// Router delivers events to registered identities.
type Router struct {
	sender  Sender
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates a router delivering through sender. metrics may be nil.
func New(sender Sender, logger *slog.Logger, metrics *metric.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sender:  sender,
		logger:  logger.With("component", "router"),
		metrics: metrics,
	}
}

// SendTo delivers event/payload to the identity registered as id in table.
// An unknown identity is a normal negative result: logged, false, no side
// effect. A transport write failure is likewise logged and returns false.
func (r *Router) SendTo(table *registry.Table, id, event string, payload any) bool {
	rec, ok := table.Lookup(id)
	if !ok {
		r.logger.Debug("target not connected", "table", table.Name(), "id", id, "event", event)
		r.record(table.Name(), event, "miss")
		return false
	}

	if err := r.sender.Send(rec.ConnID, event, payload); err != nil {
		r.logger.Warn("event hand-off failed",
			"table", table.Name(), "id", id, "event", event, "error", err)
		r.record(table.Name(), event, "error")
		return false
	}

	r.logger.Debug("event sent", "table", table.Name(), "id", id, "event", event)
	r.record(table.Name(), event, "ok")
	return true
}

// Broadcast delivers event to every identity in table with the given
// category. payloadFn builds the payload per target, so recipients can get
// per-identity content. A failure for one target never aborts delivery to
// the others; the count of successful hand-offs is returned.
func (r *Router) Broadcast(table *registry.Table, category, event string, payloadFn func(registry.Record) any) int {
	targets := table.ListByCategory(category)

	sent := 0
	for _, rec := range targets {
		if err := r.sender.Send(rec.ConnID, event, payloadFn(rec)); err != nil {
			r.logger.Warn("broadcast hand-off failed",
				"table", table.Name(), "id", rec.ID, "category", category, "event", event, "error", err)
			r.record(table.Name(), event, "error")
			continue
		}
		r.record(table.Name(), event, "ok")
		sent++
	}

	r.logger.Debug("broadcast complete",
		"table", table.Name(), "category", category, "event", event,
		"targets", len(targets), "sent", sent)
	return sent
}

func (r *Router) record(table, event, status string) {
	if r.metrics != nil {
		r.metrics.RecordEventDelivered(table, event, status)
	}
}
