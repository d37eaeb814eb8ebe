// Package live implements the LivePacket broadcast/listen pair: the
// periodic one-hop neighbor heartbeat that feeds the local NeighborTable
// (spec.md §4.6).
package live

import (
	"fmt"

	"github.com/n0remac/uavmesh/internal/meshctl/errs"
	"github.com/n0remac/uavmesh/internal/wire"
)

// Len is the fixed wire size of a LivePacket: a 4-byte IP followed by two
// 32-byte zero-padded ASCII decimal fields for posX and posY.
const Len = 4 + 32 + 32

// Packet is one heartbeat: sender address and position.
type Packet struct {
	IP   wire.IP
	PosX float64
	PosY float64
}

// Serialize renders p into a freshly allocated Len-byte buffer.
func (p *Packet) Serialize() ([]byte, error) {
	buf := make([]byte, Len)
	wire.PutIP(buf[0:4], p.IP)
	if err := wire.PutASCIIDouble(buf[4:36], p.PosX); err != nil {
		return nil, fmt.Errorf("live: encode posX: %w", err)
	}
	if err := wire.PutASCIIDouble(buf[36:68], p.PosY); err != nil {
		return nil, fmt.Errorf("live: encode posY: %w", err)
	}
	return buf, nil
}

// Parse decodes a Len-byte buffer into a Packet.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < Len {
		return nil, fmt.Errorf("live: need %d bytes, got %d: %w", Len, len(buf), errs.ErrMalformedPacket)
	}
	posX, err := wire.ASCIIDouble(buf[4:36])
	if err != nil {
		return nil, fmt.Errorf("live: decode posX: %w", err)
	}
	posY, err := wire.ASCIIDouble(buf[36:68])
	if err != nil {
		return nil, fmt.Errorf("live: decode posY: %w", err)
	}
	return &Packet{IP: wire.ReadIP(buf[0:4]), PosX: posX, PosY: posY}, nil
}
