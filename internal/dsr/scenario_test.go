package dsr

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/uavmesh/internal/meshctl/errs"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// node bundles one simulated mesh participant's DSR state: its own
// RouteTable/ReqIDRecorder/waitMap, plus the Resolver and Listener that
// share them, wired to a fakeTransport registered on the shared network.
type node struct {
	ip       wire.IP
	resolver *Resolver
	listener *Listener
	tx       *fakeTransport
}

func newNode(net *fakeNetwork, ip wire.IP) *node {
	tx := newFakeTransport(ip, net)
	table := NewRouteTable()
	wait := newWaitMap()
	l := NewListener(ip, tx, table, NewReqIDRecorder(), wait, testLogger())
	net.register(ip, l)
	r := NewResolver(ip, tx, table, wait, testLogger())
	return &node{ip: ip, resolver: r, listener: l, tx: tx}
}

func TestScenarioS1ThreeNodeRouteDiscovery(t *testing.T) {
	net := newFakeNetwork()
	a := newNode(net, wire1(100))
	b := newNode(net, wire1(101))
	c := newNode(net, wire1(102))
	net.link(a.ip, b.ip)
	net.link(b.ip, c.ip)
	// A and C are out of radio range of each other; B is the sole bridge.

	next, err := a.resolver.GetNextHop(c.ip, time.Second, CheckTableFirst)
	require.NoError(t, err)
	require.Equal(t, b.ip, next)

	entry, ok := a.resolver.table.Find(c.ip)
	require.True(t, ok)
	require.Equal(t, b.ip, entry.NextHop)
	require.Equal(t, 2, entry.Metric)
}

func TestGetNextHopInvokesObserveWithOutcome(t *testing.T) {
	net := newFakeNetwork()
	a := newNode(net, wire1(100))
	b := newNode(net, wire1(101))
	net.link(a.ip, b.ip)

	var gotErr error
	var called bool
	a.resolver.Observe = func(dst wire.IP, elapsed time.Duration, err error) {
		called = true
		gotErr = err
	}

	_, err := a.resolver.GetNextHop(b.ip, time.Second, CheckTableFirst)
	require.NoError(t, err)
	require.True(t, called)
	require.NoError(t, gotErr)
}

func TestScenarioS2DuplicateSuppressionRebroadcastsOnce(t *testing.T) {
	net := newFakeNetwork()
	a := newNode(net, wire1(100))
	b := newNode(net, wire1(101))
	c := newNode(net, wire1(102))
	net.link(a.ip, b.ip)
	net.link(b.ip, c.ip)

	_, err := a.resolver.GetNextHop(c.ip, time.Second, CheckTableFirst)
	require.NoError(t, err)

	// The real Conn already transmits every broadcast twice
	// (transport.go's duplicateGap pair); fakeTransport.Broadcast models
	// that, so B necessarily observes A's request twice. Its reqID dedup
	// (spec.md §8 invariant 7) must still produce exactly one rebroadcast.
	require.Equal(t, 1, b.tx.broadcastCount())
	require.Equal(t, 1, a.tx.broadcastCount())
}

func TestScenarioS3TimeoutClearsWaitEntry(t *testing.T) {
	net := newFakeNetwork()
	a := newNode(net, wire1(100))
	unreachable := wire1(250)

	_, err := a.resolver.GetNextHop(unreachable, 20*time.Millisecond, CheckTableFirst)
	require.ErrorIs(t, err, errs.ErrDestinationUnreachable)
	require.Equal(t, 1, a.tx.broadcastCount())

	// If the wait-map entry weren't cleared on timeout, this second call
	// would resolve immediately against the stale terminal state instead
	// of issuing a fresh broadcast.
	_, err = a.resolver.GetNextHop(unreachable, 20*time.Millisecond, CheckTableFirst)
	require.ErrorIs(t, err, errs.ErrDestinationUnreachable)
	require.Equal(t, 2, a.tx.broadcastCount())
}

func TestListenerRunRespectsStop(t *testing.T) {
	net := newFakeNetwork()
	a := newNode(net, wire1(100))
	stop := supervise.NewStoppable()
	done := make(chan error, 1)
	go func() { done <- a.listener.Run(stop) }()
	stop.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not observe stop")
	}
}
