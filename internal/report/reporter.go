package report

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/dsr"
	"github.com/n0remac/uavmesh/internal/live"
	"github.com/n0remac/uavmesh/internal/neighbor"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultInterval is how often the reporter pushes a neighbor report.
const DefaultInterval = 5 * time.Second

// routeTimeout bounds the resolver call the reporter makes each cycle.
const routeTimeout = 3 * time.Second

// Dialer opens a TCP connection to ip's report port. Swappable in tests.
type Dialer func(ip wire.IP) (net.Conn, error)

// DefaultDialer dials the real network on DefaultPort.
func DefaultDialer(ip wire.IP) (net.Conn, error) {
	return net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, DefaultPort), routeTimeout)
}

// Reporter periodically pushes this node's neighbor report toward the
// sink (spec.md §4.8).
type Reporter struct {
	self     wire.IP
	selfPos  neighbor.Position
	sinkIP   wire.IP
	isSink   bool
	table    *neighbor.Table
	resolver *dsr.Resolver
	dial     Dialer
	interval time.Duration
	log      logrus.FieldLogger

	// localHandler is invoked instead of dialing out when isSink is true,
	// simulating "the sink sends to itself and handles the report
	// locally" (spec.md §4.8) without a TCP loopback hop.
	localHandler func(*Report)

	// OnSend, if set, is called after every outbound push attempt (not
	// the sink's local delivery) with whether it succeeded. Wired by the
	// admin/metrics layer in cmd/uavmesh.
	OnSend func(ok bool)
}

// NewReporter builds a Reporter. localHandler is only used when isSink is
// true; it is typically Listener.Ingest wired directly.
func NewReporter(self wire.IP, selfPos neighbor.Position, sinkIP wire.IP, isSink bool, table *neighbor.Table, resolver *dsr.Resolver, dial Dialer, interval time.Duration, localHandler func(*Report), log logrus.FieldLogger) *Reporter {
	return &Reporter{
		self:         self,
		selfPos:      selfPos,
		sinkIP:       sinkIP,
		isSink:       isSink,
		table:        table,
		resolver:     resolver,
		dial:         dial,
		interval:     interval,
		localHandler: localHandler,
		log:          log,
	}
}

// Run pushes one report per interval until stop is requested.
func (r *Reporter) Run(stop *supervise.Stoppable) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	mode := dsr.CheckTableFirst
	for {
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
			mode = r.tick(mode)
		}
	}
}

func (r *Reporter) tick(mode dsr.Mode) (next dsr.Mode) {
	defer supervise.RecoverIteration(r.log, "report.Reporter.tick")
	rep := &Report{
		Sender:    live.Packet{IP: r.self, PosX: r.selfPos.X, PosY: r.selfPos.Y},
		Neighbors: r.table.Records(),
	}
	buf, err := rep.Serialize()
	if err != nil {
		r.log.WithError(err).Warn("report: dropping oversize report")
		return dsr.CheckTableFirst
	}

	if r.isSink {
		if r.localHandler != nil {
			r.localHandler(rep)
		}
		return dsr.CheckTableFirst
	}

	nextHop, err := r.resolver.GetNextHop(r.sinkIP, routeTimeout, mode)
	if err != nil {
		r.log.WithError(err).Warn("report: no route to sink")
		return dsr.CheckTableFirst
	}

	err = r.send(nextHop, buf)
	if r.OnSend != nil {
		r.OnSend(err == nil)
	}
	if err != nil {
		r.log.WithError(err).Warn("report: send failed, will re-resolve next cycle")
		return dsr.SendReqAnyway
	}
	return dsr.CheckTableFirst
}

func (r *Reporter) send(nextHop wire.IP, buf []byte) error {
	conn, err := r.dial(nextHop)
	if err != nil {
		return fmt.Errorf("report: dial %s: %w", nextHop, err)
	}
	defer conn.Close()
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("report: write to %s: %w", nextHop, err)
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}
