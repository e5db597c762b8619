// Package registry implements the connection registry: identity tables that
// map stable logical IDs (device IDs, user IDs) to live transport sessions.
package registry

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
)

// Record is one registered identity. The registry holds a reference to the
// transport session via ConnID; it does not own the connection itself.
type Record struct {
	ID           string            `json:"id"`
	ConnID       string            `json:"connId"`
	Category     string            `json:"category"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	RegisteredAt time.Time         `json:"registeredAt"`
}

// Table is one identity table (devices or users). All operations are single
// atomic steps under the table mutex; snapshots are consistent point-in-time
// views.
//
// One transport session may back multiple logical IDs in the same table; the
// reverse index therefore maps a connection to the set of IDs it backs, and
// a disconnect removes them all.
type Table struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.RWMutex
	records map[string]Record
	byConn  map[string]map[string]struct{}
}

// NewTable creates an empty identity table. metrics may be nil.
func NewTable(name string, logger *slog.Logger, metrics *metric.Metrics) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		name:    name,
		logger:  logger.With("component", "registry", "table", name),
		metrics: metrics,
		records: make(map[string]Record),
		byConn:  make(map[string]map[string]struct{}),
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Register creates or replaces the record for id. Replacement is
// last-writer-wins: the prior record's connection reference is orphaned, not
// closed. An empty id is rejected.
func (t *Table) Register(id, category string, attrs map[string]string, connID string) error {
	if id == "" {
		return errors.WrapInvalid(errors.ErrMissingIdentity, "Table", "Register", "validate identity")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Drop the reverse-index entry of a replaced record
	old, replaced := t.records[id]
	if replaced {
		t.dropIndexLocked(old.ConnID, id)
	}

	t.records[id] = Record{
		ID:           id,
		ConnID:       connID,
		Category:     category,
		Attributes:   maps.Clone(attrs),
		RegisteredAt: time.Now(),
	}

	ids, ok := t.byConn[connID]
	if !ok {
		ids = make(map[string]struct{})
		t.byConn[connID] = ids
	}
	ids[id] = struct{}{}

	t.updateGaugeLocked(category)
	// Gauges recompute from t.records, so the old category must be refreshed
	// after the replacement lands, not before
	if replaced && old.Category != category {
		t.updateGaugeLocked(old.Category)
	}
	t.logger.Info("identity registered", "id", id, "category", category, "conn_id", connID)
	return nil
}

// UnregisterConn removes every record backed by connID and returns the
// removed records. Unknown connections yield an empty result.
func (t *Table) UnregisterConn(connID string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, ok := t.byConn[connID]
	if !ok {
		return nil
	}

	removed := make([]Record, 0, len(ids))
	for id := range ids {
		rec, ok := t.records[id]
		if !ok {
			continue
		}
		delete(t.records, id)
		removed = append(removed, rec)
		t.updateGaugeLocked(rec.Category)
		t.logger.Info("identity unregistered", "id", id, "category", rec.Category, "conn_id", connID)
	}
	delete(t.byConn, connID)

	return removed
}

// Lookup returns the record for id.
func (t *Table) Lookup(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	return rec, ok
}

// ListByCategory returns all records with the given category tag.
// Order is unspecified.
func (t *Table) ListByCategory(category string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, rec := range t.records {
		if rec.Category == category {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot returns a consistent point-in-time copy of all records.
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of registered identities.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.records)
}

// CountByCategory returns identity counts grouped by category tag.
func (t *Table) CountByCategory() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range t.records {
		counts[rec.Category]++
	}
	return counts
}

// dropIndexLocked removes one id from a connection's reverse-index entry.
// Caller must hold t.mu.
func (t *Table) dropIndexLocked(connID, id string) {
	ids, ok := t.byConn[connID]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(t.byConn, connID)
	}
}

// updateGaugeLocked refreshes the identity gauge for one category.
// Caller must hold t.mu.
func (t *Table) updateGaugeLocked(category string) {
	if t.metrics == nil {
		return
	}
	count := 0
	for _, rec := range t.records {
		if rec.Category == category {
			count++
		}
	}
	t.metrics.RecordIdentities(t.name, category, count)
}
