package sdn

import (
	"fmt"

	"github.com/n0remac/uavmesh/internal/topo"
	"github.com/n0remac/uavmesh/internal/wire"
)

// posFieldLen is the width of each ASCII-encoded position-delta field in
// the SDN frame; half the 32-byte width used by Live/report frames
// (spec.md §4.11, §9 design notes).
const posFieldLen = 16

// Frame is the outbound topology snapshot sent to the SDN controller:
// 1-byte node count, one byte per node (its last octet), an N*N 0/1
// adjacency matrix, then for every non-sink node a pair of ASCII position
// deltas relative to the sink.
type Frame struct {
	SinkIP    wire.IP
	Nodes     []wire.IP
	Matrix    [][]bool
	Positions map[wire.IP]topo.Position
}

// Serialize renders f into a freshly allocated buffer. There is no
// companion Parse: the frame is one-way telemetry to an external
// controller outside this system's scope.
func (f *Frame) Serialize() ([]byte, error) {
	n := len(f.Nodes)
	if n > 255 {
		return nil, fmt.Errorf("sdn: %d nodes exceeds the 1-byte node count field", n)
	}
	sinkPos := f.Positions[f.SinkIP]

	buf := make([]byte, 0, 1+n+n*n+2*posFieldLen*n)
	buf = append(buf, byte(n))
	for _, ip := range f.Nodes {
		buf = append(buf, ip.LastOctet())
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var b byte
			if j < len(f.Matrix[i]) && f.Matrix[i][j] {
				b = 1
			}
			buf = append(buf, b)
		}
	}
	for _, ip := range f.Nodes {
		if ip == f.SinkIP {
			continue
		}
		pos := f.Positions[ip]
		var dxField, dyField [posFieldLen]byte
		if err := wire.PutASCIIDouble(dxField[:], pos.X-sinkPos.X); err != nil {
			return nil, fmt.Errorf("sdn: encode dx for %s: %w", ip, err)
		}
		if err := wire.PutASCIIDouble(dyField[:], pos.Y-sinkPos.Y); err != nil {
			return nil, fmt.Errorf("sdn: encode dy for %s: %w", ip, err)
		}
		buf = append(buf, dxField[:]...)
		buf = append(buf, dyField[:]...)
	}
	return buf, nil
}
