package live

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultInterval is how often the broadcaster sends a heartbeat.
const DefaultInterval = 3 * time.Second

// Broadcaster periodically announces this node's position on the LIVE
// port (spec.md §4.6).
type Broadcaster struct {
	conn     Transport
	self     wire.IP
	posX     float64
	posY     float64
	interval time.Duration
	log      logrus.FieldLogger
}

// NewBroadcaster builds a Broadcaster for this node's fixed position.
func NewBroadcaster(conn Transport, self wire.IP, posX, posY float64, interval time.Duration, log logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{conn: conn, self: self, posX: posX, posY: posY, interval: interval, log: log}
}

// Run sends a heartbeat every interval until stop is requested.
func (b *Broadcaster) Run(stop *supervise.Stoppable) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
			pkt := &Packet{IP: b.self, PosX: b.posX, PosY: b.posY}
			buf, err := pkt.Serialize()
			if err != nil {
				b.log.WithError(err).Error("live: encode heartbeat")
				continue
			}
			if err := b.conn.Broadcast(buf); err != nil {
				b.log.WithError(err).Warn("live: broadcast failed")
			}
		}
	}
}
