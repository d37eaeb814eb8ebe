package live

import (
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/neighbor"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

// recvTimeout bounds each blocking receive so Run observes cancellation
// within one interval (spec.md §5, §8 invariant 10).
const recvTimeout = 3 * time.Second

// Listener receives LivePackets and feeds the local NeighborTable
// (spec.md §4.6).
type Listener struct {
	conn  Transport
	self  wire.IP
	table *neighbor.Table
	log   logrus.FieldLogger
}

// NewListener builds a Listener that records neighbors into table.
func NewListener(conn Transport, self wire.IP, table *neighbor.Table, log logrus.FieldLogger) *Listener {
	return &Listener{conn: conn, self: self, table: table, log: log}
}

// Run processes packets until stop is requested.
func (l *Listener) Run(stop *supervise.Stoppable) error {
	buf := make([]byte, Len)
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
			l.log.WithError(err).Warn("live: receive error")
			continue
		}
		pkt, perr := Parse(buf[:n])
		if perr != nil {
			l.log.WithError(perr).Warn("live: dropping malformed packet")
			continue
		}
		if pkt.IP == l.self {
			continue // our own broadcast echo
		}
		l.table.Add(pkt.IP, neighbor.Position{X: pkt.PosX, Y: pkt.PosY})
	}
	return nil
}
