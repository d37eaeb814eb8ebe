package dsr

import (
	"sync"

	"github.com/n0remac/uavmesh/internal/wire"
)

type waitState int

const (
	stateWaiting waitState = iota
	stateArrived
	stateTimeout
)

// waitMap is the (dstIP -> RouteRespondState) map of spec.md §3/§9: one
// mutex, one condition variable, shared by every resolver call, the timer
// tasks it spawns, and the DSR listener. The FSM is
// (absent) -> waiting -> {arrived, timeout} -> (absent); only the first
// goroutine to observe a non-waiting state for a destination erases the
// entry, and every other waiter re-reads the route cache instead of
// trusting its own view of the terminal state.
type waitMap struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[wire.IP]waitState
}

func newWaitMap() *waitMap {
	w := &waitMap{entries: make(map[wire.IP]waitState)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// beginWait registers interest in dst. It returns true if this call is the
// one that transitioned the entry from absent to waiting (and therefore
// owns the single shared broadcast for dst); false means it piggybacked
// on an already-waiting entry, or resolved immediately against a
// leftover arrived/timeout entry (reported via immediate/immediateState).
func (w *waitMap) beginWait(dst wire.IP) (owner bool, immediate bool, immediateState waitState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.entries[dst]
	if !ok {
		w.entries[dst] = stateWaiting
		return true, false, 0
	}
	if st == stateWaiting {
		return false, false, 0
	}
	return false, true, st
}

// markTimeout transitions a still-waiting entry for dst to timeout. No-op
// if the entry was already resolved by a response or erased by another
// waiter.
func (w *waitMap) markTimeout(dst wire.IP) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.entries[dst]; ok && st == stateWaiting {
		w.entries[dst] = stateTimeout
		w.cond.Broadcast()
	}
}

// markArrived transitions a still-waiting entry for dst to arrived. Called
// by the DSR listener after it has applied the response's RouteTable
// update, so the happens-before guarantee in spec.md §5 holds.
func (w *waitMap) markArrived(dst wire.IP) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.entries[dst]; ok && st == stateWaiting {
		w.entries[dst] = stateArrived
		w.cond.Broadcast()
	}
}

// wait blocks until the entry for dst is absent or non-waiting, then
// erases it if present and reports whether this call was the eraser and,
// if so, the terminal state it observed.
func (w *waitMap) wait(dst wire.IP) (erased bool, terminal waitState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		st, ok := w.entries[dst]
		if !ok || st != stateWaiting {
			if ok {
				delete(w.entries, dst)
				return true, st
			}
			return false, 0
		}
		w.cond.Wait()
	}
}
