package report

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/dsr"
	"github.com/n0remac/uavmesh/internal/live"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/topo"
	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultPort is the NEIB_REPORT TCP port (spec.md §6).
const DefaultPort = 9390

const acceptTimeout = 10 * time.Second

const relayAttempts = 5
const relayBackoff = 2 * time.Second

// Listener accepts neighbor-report connections. On the sink, each report
// is ingested into a topo.Graph; everywhere else it's relayed unmodified
// toward the sink (spec.md §4.9).
type Listener struct {
	ln       *net.TCPListener
	isSink   bool
	graph    *topo.Graph // nil unless isSink
	sinkIP   wire.IP
	resolver *dsr.Resolver
	dial     Dialer
	log      logrus.FieldLogger
}

// Listen opens the NEIB_REPORT TCP socket.
func Listen(port int) (*net.TCPListener, error) {
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("report: listen :%d: %w", port, err)
	}
	return ln, nil
}

// NewListener builds a Listener. graph is used (and must be non-nil) only
// when isSink is true; resolver/dial/sinkIP are used only when it's false.
func NewListener(ln *net.TCPListener, isSink bool, graph *topo.Graph, sinkIP wire.IP, resolver *dsr.Resolver, dial Dialer, log logrus.FieldLogger) *Listener {
	return &Listener{ln: ln, isSink: isSink, graph: graph, sinkIP: sinkIP, resolver: resolver, dial: dial, log: log}
}

// Run accepts connections until stop is requested.
func (l *Listener) Run(stop *supervise.Stoppable) error {
	for !stop.StopRequested() {
		if err := l.ln.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			return err
		}
		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if stop.StopRequested() {
				return nil
			}
			l.log.WithError(err).Warn("report: accept error")
			continue
		}
		go l.handle(conn)
	}
	return nil
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, headerLen)
		if _, err := io.ReadFull(conn, header); err != nil {
			if !errors.Is(err, io.EOF) {
				l.log.WithError(err).Warn("report: reading header")
			}
			return
		}
		count := wire.Uint32BE(header[0:4])
		body := make([]byte, live.Len*int(count))
		if _, err := io.ReadFull(conn, body); err != nil {
			l.log.WithError(err).Warn("report: reading body")
			return
		}

		full := append(header, body...)
		rep, err := Parse(full)
		if err != nil {
			l.log.WithError(err).Warn("report: dropping malformed report")
			continue
		}

		if l.isSink {
			l.ingest(rep)
		} else {
			l.relay(full)
		}
	}
}

// Ingest applies rep directly to the sink's TopoGraph, bypassing the
// network — the path a sink's own Reporter uses for "send to yourself"
// (spec.md §4.8), wired from cmd/uavmesh as the Reporter's localHandler.
func (l *Listener) Ingest(rep *Report) { l.ingest(rep) }

func (l *Listener) ingest(rep *Report) {
	for _, n := range rep.Neighbors {
		l.graph.AddLink(rep.Sender.IP, n.IP)
		l.graph.UpdatePos(n.IP, topo.Position{X: n.PosX, Y: n.PosY})
	}
}

func (l *Listener) relay(buf []byte) {
	mode := dsr.CheckTableFirst
	for attempt := 0; attempt < relayAttempts; attempt++ {
		time.Sleep(relayBackoff)

		nextHop, err := l.resolver.GetNextHop(l.sinkIP, routeTimeout, mode)
		if err != nil {
			l.log.WithError(err).Warn("report: relay: no route to sink")
			mode = dsr.SendReqAnyway
			continue
		}

		conn, err := l.dial(nextHop)
		if err != nil {
			l.log.WithError(err).Warn("report: relay: connect failed")
			mode = dsr.SendReqAnyway
			continue
		}
		_, werr := conn.Write(buf)
		time.Sleep(20 * time.Millisecond)
		conn.Close()
		if werr != nil {
			l.log.WithError(werr).Warn("report: relay: write failed")
			mode = dsr.SendReqAnyway
			continue
		}
		return
	}
}
