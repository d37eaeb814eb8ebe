package supervise

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group starts the fixed set of component goroutines named in
// SPEC_FULL.md §5.1, in spawn order, and stops/joins them in reverse
// order on shutdown. It layers golang.org/x/sync/errgroup on top of the
// per-task Stoppable flags purely for startup/shutdown joining and
// first-failure observability: cancellation itself always flows through
// Stoppable, never through the errgroup's context, so a single noisy
// goroutine returning an error never yanks the others out from under
// in-flight work.
type Group struct {
	log      logrus.FieldLogger
	eg       *errgroup.Group
	stops    []func()
	names    []string
}

// NewGroup returns an empty Group.
func NewGroup(log logrus.FieldLogger) *Group {
	eg, _ := errgroup.WithContext(context.Background())
	return &Group{log: log, eg: eg}
}

// Spawn registers a named task and launches it in its own goroutine. stop
// is called during Shutdown, in reverse registration order.
func (g *Group) Spawn(name string, stop func(), run func() error) {
	g.names = append(g.names, name)
	g.stops = append(g.stops, stop)
	g.eg.Go(func() error {
		if err := run(); err != nil {
			g.log.WithField("task", name).WithError(err).Warn("component task exited with error")
			return err
		}
		g.log.WithField("task", name).Debug("component task exited cleanly")
		return nil
	})
}

// RecoverIteration recovers a panic from the current per-iteration unit of
// work (e.g. one packet reaction, one report tick), logs it, and lets the
// owning goroutine's loop continue to the next iteration. This is the
// mechanism behind spec.md §7's "fatal for the call" ErrParamInvalid
// panics: a programmer error reacting to one packet must not kill the
// long-lived task that keeps processing the rest. Call via
// defer supervise.RecoverIteration(log, "task name") at the top of each
// loop iteration, not once per goroutine lifetime.
func RecoverIteration(log logrus.FieldLogger, task string) {
	if rec := recover(); rec != nil {
		log.WithField("task", task).WithField("panic", rec).Error("recovered panic, skipping this iteration")
	}
}

// Shutdown calls every registered stop function in reverse spawn order,
// then waits for all tasks to return.
func (g *Group) Shutdown() error {
	for i := len(g.stops) - 1; i >= 0; i-- {
		g.log.WithField("task", g.names[i]).Info("stopping component task")
		g.stops[i]()
	}
	return g.eg.Wait()
}
