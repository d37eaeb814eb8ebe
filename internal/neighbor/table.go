// Package neighbor implements the local one-hop neighbor table: a
// generational double buffer that ages out entries without a per-entry
// timer (spec.md §3, §4.7).
package neighbor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/live"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

// Position is a node's 2-D location, as carried in Live and report frames.
type Position struct {
	X float64
	Y float64
}

type slot struct {
	mu sync.Mutex
	m  map[wire.IP]Position
}

func newSlot() *slot { return &slot{m: make(map[wire.IP]Position)} }

// Table is the generational double buffer described in spec.md §3: two
// slots, one active for inserts at a time. A background expiry task
// clears the inactive slot and flips which one is active every
// timeoutSec, so any given neighbor stays visible for between
// timeoutSec and 2*timeoutSec after its last heartbeat (§8 invariant 5).
type Table struct {
	timeout time.Duration
	active  atomic.Int32 // 0 or 1: index of the slot new inserts go to
	slots   [2]*slot
	log     logrus.FieldLogger
}

// New returns an empty Table that ages entries out after timeout.
func New(timeout time.Duration, log logrus.FieldLogger) *Table {
	return &Table{
		timeout: timeout,
		slots:   [2]*slot{newSlot(), newSlot()},
		log:     log,
	}
}

// Add records ip at pos in the currently active slot, refreshing its
// heartbeat.
func (t *Table) Add(ip wire.IP, pos Position) {
	s := t.slots[t.active.Load()]
	s.mu.Lock()
	s.m[ip] = pos
	s.mu.Unlock()
}

// Contains reports whether ip is visible in either slot.
func (t *Table) Contains(ip wire.IP) bool {
	for _, s := range t.slots {
		s.mu.Lock()
		_, ok := s.m[ip]
		s.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// Count returns the number of distinct neighbors visible across both
// slots (spec.md §8 invariant 4).
func (t *Table) Count() int {
	return len(t.merged())
}

// Records returns the union of both slots as Live-format records, active
// slot winning on conflict, for use by the neighbor reporter (spec.md
// §4.8) and neighbor-report codec.
func (t *Table) Records() []live.Packet {
	m := t.merged()
	out := make([]live.Packet, 0, len(m))
	for ip, pos := range m {
		out = append(out, live.Packet{IP: ip, PosX: pos.X, PosY: pos.Y})
	}
	return out
}

func (t *Table) merged() map[wire.IP]Position {
	active := int(t.active.Load())
	inactive := 1 - active

	out := make(map[wire.IP]Position)
	// Inactive first so the active slot's entries win on conflict.
	s := t.slots[inactive]
	s.mu.Lock()
	for ip, pos := range s.m {
		out[ip] = pos
	}
	s.mu.Unlock()

	s = t.slots[active]
	s.mu.Lock()
	for ip, pos := range s.m {
		out[ip] = pos
	}
	s.mu.Unlock()

	return out
}

// Run is the expiry task: every timeout, it clears the inactive slot then
// flips which slot is active, so the slot that was just cleared starts
// receiving new inserts while the previously-active slot ages out over
// the next period.
func (t *Table) Run(stop *supervise.Stoppable) error {
	ticker := time.NewTicker(t.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
			active := int(t.active.Load())
			inactive := 1 - active
			s := t.slots[inactive]
			s.mu.Lock()
			s.m = make(map[wire.IP]Position)
			s.mu.Unlock()
			t.active.Store(int32(inactive))
		}
	}
}
