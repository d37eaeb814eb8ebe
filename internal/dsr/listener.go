package dsr

import (
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

// recvTimeout bounds each blocking receive so Run observes cancellation
// within one interval (spec.md §5, §8 invariant 10).
const recvTimeout = 3 * time.Second

// Listener is the single task bound to the DSR UDP port (spec.md §4.5).
type Listener struct {
	myIP   wire.IP
	conn   Transport
	table  *RouteTable
	reqIDs *ReqIDRecorder
	wait   *waitMap
	log    logrus.FieldLogger
}

// NewListener builds a Listener sharing conn, table, and wait with the
// Resolver constructed from the same dsr.Conn.
func NewListener(myIP wire.IP, conn Transport, table *RouteTable, reqIDs *ReqIDRecorder, wait *waitMap, log logrus.FieldLogger) *Listener {
	return &Listener{myIP: myIP, conn: conn, table: table, reqIDs: reqIDs, wait: wait, log: log}
}

// Run processes packets until stop is requested.
func (l *Listener) Run(stop *supervise.Stoppable) error {
	buf := make([]byte, 2048)
	for !stop.StopRequested() {
		if err := l.conn.SetReadDeadline(recvTimeout); err != nil {
			return err
		}
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if stop.StopRequested() {
				return nil
			}
			l.log.WithError(err).Warn("dsr: receive error")
			continue
		}
		pkt, perr := Parse(buf[:n])
		if perr != nil {
			l.log.WithError(perr).Warn("dsr: dropping malformed packet")
			continue
		}
		l.dispatch(pkt)
	}
	return nil
}

func (l *Listener) dispatch(pkt *Packet) {
	switch pkt.Type {
	case TypeRequest:
		l.processRequest(pkt)
	case TypeResponse:
		l.processResponse(pkt)
	default:
		l.log.WithField("type", pkt.Type).Warn("dsr: dropping packet of unknown type")
	}
}

// processRequest implements spec.md §4.5's request processing order.
func (l *Listener) processRequest(pkt *Packet) {
	if pkt.Src == l.myIP {
		return // our own broadcast echo
	}
	if l.reqIDs.Exists(pkt.Src, pkt.ReqID) {
		return // loop suppression (spec.md §8 invariant 7)
	}
	l.reqIDs.Add(pkt.Src, pkt.ReqID)

	if len(pkt.Route) == 0 {
		l.log.Warn("dsr: dropping request with empty route")
		return
	}
	prevHop := pkt.Route[len(pkt.Route)-1]
	l.table.Update(pkt.Src, prevHop, int(pkt.Hop))
	l.table.Update(prevHop, prevHop, 1)

	if pkt.Dst != l.myIP {
		fwd := pkt.Clone()
		fwd.Route = append(fwd.Route, l.myIP)
		fwd.Hop++
		if err := l.conn.Broadcast(fwd.Serialize()); err != nil {
			l.log.WithError(err).Warn("dsr: rebroadcast failed")
		}
		return
	}

	// We are the destination: degenerate 0-hop requests (src == dst) are
	// rejected per SPEC_FULL.md §9 Open Question 1 — a well-formed
	// request always carries at least the originator in its route, so a
	// reversed two-element route always has an index 1 to unicast to.
	resp := pkt.Clone()
	resp.Type = TypeResponse
	resp.Route = append(resp.Route, l.myIP)
	reverseIPs(resp.Route)
	resp.Hop = 1
	if len(resp.Route) < 2 {
		l.log.Warn("dsr: dropping degenerate request with src == dst")
		return
	}
	if err := l.conn.SendTwice(resp.Route[1], resp.Serialize()); err != nil {
		l.log.WithError(err).Warn("dsr: response unicast failed")
	}
}

// processResponse implements spec.md §4.5's response processing order.
func (l *Listener) processResponse(pkt *Packet) {
	if pkt.Hop == 0 || int(pkt.Hop) > len(pkt.Route) {
		l.log.Warn("dsr: dropping response with out-of-range hop")
		return
	}
	l.table.Update(pkt.Dst, pkt.Route[pkt.Hop-1], int(pkt.Hop))

	if pkt.Src != l.myIP {
		next := pkt.Clone()
		next.Hop++
		if int(next.Hop) >= len(next.Route) {
			l.log.Warn("dsr: dropping response whose next hop index is out of range")
			return
		}
		if err := l.conn.SendTo(next.Route[next.Hop], next.Serialize()); err != nil {
			l.log.WithError(err).Warn("dsr: response forward failed")
		}
		return
	}

	// We are the original requester: the RouteTable update above
	// happens-before this transition, per spec.md §5's ordering
	// guarantee, so any resolver that observes "arrived" sees the
	// updated route.
	l.wait.markArrived(pkt.Dst)
}

func reverseIPs(ips []wire.IP) {
	for i, j := 0, len(ips)-1; i < j; i, j = i+1, j-1 {
		ips[i], ips[j] = ips[j], ips[i]
	}
}
