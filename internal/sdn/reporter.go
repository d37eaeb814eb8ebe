package sdn

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/topo"
	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultInterval is how often the sink pushes a topology frame to the
// controller.
const DefaultInterval = 8 * time.Second

// Reporter periodically sends the current topology snapshot to the SDN
// controller (spec.md §4.11). Sink-only.
type Reporter struct {
	conn         Transport
	sinkIP       wire.IP
	controllerIP wire.IP
	graph        *topo.Graph
	interval     time.Duration
	log          logrus.FieldLogger
}

// NewReporter builds a Reporter.
func NewReporter(conn Transport, sinkIP, controllerIP wire.IP, graph *topo.Graph, interval time.Duration, log logrus.FieldLogger) *Reporter {
	return &Reporter{conn: conn, sinkIP: sinkIP, controllerIP: controllerIP, graph: graph, interval: interval, log: log}
}

// Run sends one frame per interval until stop is requested.
func (r *Reporter) Run(stop *supervise.Stoppable) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reporter) tick() {
	nodes, matrix := r.graph.ToMatrix()
	positions := make(map[wire.IP]topo.Position, len(nodes))
	for _, ip := range nodes {
		if pos, ok := r.graph.Position(ip); ok {
			positions[ip] = pos
		}
	}
	if _, ok := positions[r.sinkIP]; !ok {
		if pos, ok := r.graph.Position(r.sinkIP); ok {
			positions[r.sinkIP] = pos
		}
	}

	frame := &Frame{SinkIP: r.sinkIP, Nodes: nodes, Matrix: matrix, Positions: positions}
	buf, err := frame.Serialize()
	if err != nil {
		r.log.WithError(err).Warn("sdn: dropping unencodable frame")
		return
	}
	if err := r.conn.SendTo(r.controllerIP, buf); err != nil {
		r.log.WithError(err).Warn("sdn: send to controller failed")
	}
}
