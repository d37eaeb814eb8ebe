// Package supervise provides the cooperative cancellation primitive shared
// by every long-lived task (spec.md §4.14), plus a thin join helper built
// on golang.org/x/sync/errgroup for startup/shutdown sequencing.
package supervise

import "sync"

// Stoppable is a single-shot cancellation flag. Stop is idempotent;
// StopRequested and Done are safe to call from any goroutine.
type Stoppable struct {
	once sync.Once
	done chan struct{}
}

// NewStoppable returns a ready-to-use Stoppable.
func NewStoppable() *Stoppable {
	return &Stoppable{done: make(chan struct{})}
}

// Stop requests cancellation. Safe to call more than once and from more
// than one goroutine.
func (s *Stoppable) Stop() {
	s.once.Do(func() { close(s.done) })
}

// StopRequested reports whether Stop has been called.
func (s *Stoppable) StopRequested() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when Stop is called, suitable for use in a
// select alongside socket deadlines or timers.
func (s *Stoppable) Done() <-chan struct{} {
	return s.done
}
