package dsr

import (
	"sync"

	"github.com/n0remac/uavmesh/internal/wire"
)

// RouteEntry is one RouteTable value: the next hop toward Dst and the hop
// count metric. metric >= 1 is an invariant enforced by Update.
type RouteEntry struct {
	NextHop wire.IP
	Metric  int
}

// RouteTable maps destination -> (next hop, metric). It applies an
// improvement-only update policy: a new entry replaces an existing one
// only if its metric is strictly smaller (spec.md §4.2). This trades
// staleness after topology changes for limited routing churn; callers
// that need freshness must Delete the stale entry first and pass
// SEND_REQ_ANYWAY (see resolver.go).
type RouteTable struct {
	mu      sync.Mutex
	entries map[wire.IP]RouteEntry
}

// NewRouteTable returns an empty RouteTable.
func NewRouteTable() *RouteTable {
	return &RouteTable{entries: make(map[wire.IP]RouteEntry)}
}

// Update inserts dst->(nextHop,metric) if absent, or replaces the existing
// entry if metric is strictly smaller. Returns true if the table changed.
func (t *RouteTable) Update(dst, nextHop wire.IP, metric int) bool {
	if metric < 1 {
		metric = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.entries[dst]
	if !ok || metric < cur.Metric {
		t.entries[dst] = RouteEntry{NextHop: nextHop, Metric: metric}
		return true
	}
	return false
}

// Find returns the current entry for dst, if any.
func (t *RouteTable) Find(dst wire.IP) (RouteEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[dst]
	return e, ok
}

// Delete removes the entry for dst, if present, returning whether it
// existed. Used for explicit stale-entry invalidation (spec.md §4.2, §4.4).
func (t *RouteTable) Delete(dst wire.IP) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[dst]
	delete(t.entries, dst)
	return ok
}
