package dsr

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/meshctl/errs"
	"github.com/n0remac/uavmesh/internal/wire"
)

// Mode selects whether getNextHop may answer from the route cache or must
// always re-probe the network (spec.md §4.2, §4.4).
type Mode int

const (
	// CheckTableFirst returns a cached route immediately if present.
	CheckTableFirst Mode = iota
	// SendReqAnyway always invalidates any cached entry and re-resolves,
	// used by callers that just observed a send failure.
	SendReqAnyway
)

// Resolver implements getNextHop (spec.md §4.4): the synchronous,
// shareable DSR route request.
type Resolver struct {
	myIP  wire.IP
	conn  Transport
	table *RouteTable
	wait  *waitMap
	reqID atomic.Uint32
	log   logrus.FieldLogger

	// timeAfter is swappable in tests to avoid real sleeps.
	timeAfter func(d time.Duration) <-chan time.Time

	// Observe, if set, is called after every GetNextHop with how long
	// resolution took and its outcome. Left nil, it costs nothing; wired
	// by the admin/metrics layer in cmd/uavmesh.
	Observe func(dst wire.IP, elapsed time.Duration, err error)
}

// NewResolver builds a Resolver sharing conn and table with the Listener.
func NewResolver(myIP wire.IP, conn Transport, table *RouteTable, wait *waitMap, log logrus.FieldLogger) *Resolver {
	return &Resolver{
		myIP:      myIP,
		conn:      conn,
		table:     table,
		wait:      wait,
		log:       log,
		timeAfter: time.After,
	}
}

// nextReqID returns the next reqID for a newly built request, wrapping on
// overflow exactly as the original's unsigned counter does (SPEC_FULL.md
// §3.1).
func (r *Resolver) nextReqID() uint32 {
	return r.reqID.Add(1)
}

// GetNextHop resolves the next hop toward dst, per spec.md §4.4.
func (r *Resolver) GetNextHop(dst wire.IP, timeout time.Duration, mode Mode) (hop wire.IP, err error) {
	if r.Observe != nil {
		start := time.Now()
		defer func() { r.Observe(dst, time.Since(start), err) }()
	}
	return r.getNextHop(dst, timeout, mode)
}

func (r *Resolver) getNextHop(dst wire.IP, timeout time.Duration, mode Mode) (wire.IP, error) {
	if dst == r.myIP {
		// SPEC_FULL.md §3.1: the original's getNextHop short-circuits a
		// request to one's own address rather than broadcasting.
		return r.myIP, nil
	}

	if mode == CheckTableFirst {
		if e, ok := r.table.Find(dst); ok {
			return e.NextHop, nil
		}
	} else if mode != SendReqAnyway {
		panic(fmt.Errorf("dsr: %w: unknown resolver mode %d", errs.ErrParamInvalid, mode))
	}

	// Stale-entry invalidation: the next getNextHop caller sees a clean
	// cache regardless of which mode triggered this resolution.
	r.table.Delete(dst)

	owner, immediate, immediateState := r.wait.beginWait(dst)
	if immediate {
		return r.resolveTerminal(dst, immediateState)
	}
	if owner {
		r.broadcastRequest(dst)
	}

	r.spawnTimer(dst, timeout)

	erased, terminal := r.wait.wait(dst)
	if erased {
		return r.resolveTerminal(dst, terminal)
	}
	// Some other waiter already erased the entry; re-read the cache as
	// spec.md §4.4 step 6 requires of every waiter, eraser or not.
	if e, ok := r.table.Find(dst); ok {
		return e.NextHop, nil
	}
	return 0, fmt.Errorf("dsr: no route to %s: %w", dst, errs.ErrDestinationUnreachable)
}

func (r *Resolver) resolveTerminal(dst wire.IP, st waitState) (wire.IP, error) {
	if st == stateTimeout {
		return 0, fmt.Errorf("dsr: getNextHop(%s) timed out: %w", dst, errs.ErrDestinationUnreachable)
	}
	if e, ok := r.table.Find(dst); ok {
		return e.NextHop, nil
	}
	return 0, fmt.Errorf("dsr: no route to %s: %w", dst, errs.ErrDestinationUnreachable)
}

func (r *Resolver) broadcastRequest(dst wire.IP) {
	pkt := &Packet{
		Type:  TypeRequest,
		Src:   r.myIP,
		Dst:   dst,
		Hop:   1,
		ReqID: r.nextReqID(),
		Route: []wire.IP{r.myIP},
	}
	if err := r.conn.Broadcast(pkt.Serialize()); err != nil {
		r.log.WithError(err).WithField("dst", dst).Warn("dsr: broadcast request failed")
	}
}

func (r *Resolver) spawnTimer(dst wire.IP, timeout time.Duration) {
	go func() {
		<-r.timeAfter(timeout)
		r.wait.markTimeout(dst)
	}()
}
