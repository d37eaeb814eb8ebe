// Package video implements the video-transport control plane: the
// VideoTransPacket wire format, the per-capturer relayer lifecycle, and the
// controller that reacts to start/ready/stop/lost commands (spec.md §4.12,
// §4.13).
package video

import (
	"fmt"

	"github.com/n0remac/uavmesh/internal/meshctl/errs"
	"github.com/n0remac/uavmesh/internal/wire"
)

// Cmd is the one-byte VideoTransPacket command.
type Cmd byte

const (
	CmdUnknown Cmd = 0
	CmdStart   Cmd = 1
	CmdReady   Cmd = 2
	CmdStop    Cmd = 4
	CmdLost    Cmd = 8
)

func (c Cmd) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdReady:
		return "ready"
	case CmdStop:
		return "stop"
	case CmdLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Len is the fixed wire size of a VideoTransPacket: 1 command byte plus
// four big-endian u32 fields.
const Len = 1 + 4*4

// Packet is the control record exchanged hop-by-hop over UDP to set up and
// tear down a video relay chain.
type Packet struct {
	Cmd       Cmd
	Src       wire.IP // this hop's address
	Dst       wire.IP // next hop on the overlay
	Requester wire.IP // node that originally asked for the stream
	Capturer  wire.IP // node whose camera is the source
}

// Serialize renders p into a freshly allocated Len-byte buffer.
func (p *Packet) Serialize() ([]byte, error) {
	buf := make([]byte, Len)
	buf[0] = byte(p.Cmd)
	wire.PutIP(buf[1:5], p.Src)
	wire.PutIP(buf[5:9], p.Dst)
	wire.PutIP(buf[9:13], p.Requester)
	wire.PutIP(buf[13:17], p.Capturer)
	return buf, nil
}

// Parse decodes a VideoTransPacket from buf.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < Len {
		return nil, fmt.Errorf("video: packet too short (%d bytes): %w", len(buf), errs.ErrMalformedPacket)
	}
	return &Packet{
		Cmd:       Cmd(buf[0]),
		Src:       wire.ReadIP(buf[1:5]),
		Dst:       wire.ReadIP(buf[5:9]),
		Requester: wire.ReadIP(buf[9:13]),
		Capturer:  wire.ReadIP(buf[13:17]),
	}, nil
}
