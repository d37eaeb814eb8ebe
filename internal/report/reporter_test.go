package report

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/uavmesh/internal/dsr"
	"github.com/n0remac/uavmesh/internal/neighbor"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

func TestReporterSinkUsesLocalHandlerNotNetwork(t *testing.T) {
	table := neighbor.New(time.Hour, testLogger())
	table.Add(ip(102), neighbor.Position{X: 3, Y: 4})

	var captured *Report
	localHandler := func(rep *Report) { captured = rep }

	r := NewReporter(ip(101), neighbor.Position{X: 1, Y: 2}, ip(101), true, table, nil, nil, 15*time.Millisecond, localHandler, testLogger())
	stop := supervise.NewStoppable()
	go r.Run(stop)
	defer stop.Stop()

	require.Eventually(t, func() bool { return captured != nil }, time.Second, time.Millisecond)
	require.Equal(t, ip(101), captured.Sender.IP)
	require.Len(t, captured.Neighbors, 1)
	require.Equal(t, ip(102), captured.Neighbors[0].IP)
}

// TestReporterOnSendReportsOutcome wires a pre-seeded route table (so
// GetNextHop resolves without touching the network) and a Dialer that can
// be flipped to fail, checking that OnSend fires with the matching bool
// on each direct tick call.
func TestReporterOnSendReportsOutcome(t *testing.T) {
	self, sink := ip(101), ip(200)
	table := neighbor.New(time.Hour, testLogger())

	routes := dsr.NewRouteTable()
	routes.Update(sink, sink, 1)
	resolver := dsr.NewResolver(self, nil, routes, nil, testLogger())

	var dialFails atomic.Bool
	dial := func(wire.IP) (net.Conn, error) {
		if dialFails.Load() {
			return nil, errors.New("dial refused")
		}
		client, server := net.Pipe()
		go func() {
			buf := make([]byte, 4096)
			_, _ = server.Read(buf)
			server.Close()
		}()
		return client, nil
	}

	var outcomes []bool
	onSend := func(ok bool) { outcomes = append(outcomes, ok) }

	r := NewReporter(self, neighbor.Position{X: 1, Y: 2}, sink, false, table, resolver, dial, time.Hour, nil, testLogger())
	r.OnSend = onSend

	mode := r.tick(dsr.CheckTableFirst)
	require.Equal(t, dsr.CheckTableFirst, mode)
	require.Equal(t, []bool{true}, outcomes)

	dialFails.Store(true)
	r.tick(mode)
	require.Equal(t, []bool{true, false}, outcomes)
}
