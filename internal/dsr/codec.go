// Package dsr implements reactive source-route discovery: the packet
// codec, route cache, request-id dedup set, the synchronous resolver
// (getNextHop), and the listener that drives the request/response state
// machine (spec.md §4.1-§4.5).
package dsr

import (
	"fmt"

	"github.com/n0remac/uavmesh/internal/meshctl/errs"
	"github.com/n0remac/uavmesh/internal/wire"
)

// PacketType distinguishes a route request from a route response.
type PacketType byte

const (
	TypeRequest  PacketType = 1
	TypeResponse PacketType = 2
)

// HeaderLen is the fixed portion of a DsrRoutePacket: 1 byte type + 5
// big-endian u32 fields (srcIP, dstIP, hop, reqID, routeLen).
const HeaderLen = 1 + 5*4

// Packet is one DSR request/response frame (spec.md §3).
type Packet struct {
	Type  PacketType
	Src   wire.IP
	Dst   wire.IP
	Hop   uint32
	ReqID uint32
	Route []wire.IP
}

// Serialize renders p into a freshly allocated buffer of length
// HeaderLen + 4*len(Route).
func (p *Packet) Serialize() []byte {
	buf := make([]byte, HeaderLen+4*len(p.Route))
	n := p.SerializeInto(buf)
	return buf[:n]
}

// SerializeInto writes p into buf, which must be at least
// HeaderLen+4*len(p.Route) bytes, and returns the number of bytes written.
func (p *Packet) SerializeInto(buf []byte) int {
	buf[0] = byte(p.Type)
	wire.PutIP(buf[1:5], p.Src)
	wire.PutIP(buf[5:9], p.Dst)
	wire.PutUint32BE(buf[9:13], p.Hop)
	wire.PutUint32BE(buf[13:17], p.ReqID)
	wire.PutUint32BE(buf[17:21], uint32(len(p.Route)))
	off := HeaderLen
	for _, ip := range p.Route {
		wire.PutIP(buf[off:off+4], ip)
		off += 4
	}
	return off
}

// Parse decodes buf into a Packet. It fails with ErrMalformedPacket if buf
// is shorter than HeaderLen+4*routeLen, matching spec.md §4.1.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < HeaderLen {
		return nil, fmt.Errorf("dsr: header needs %d bytes, got %d: %w", HeaderLen, len(buf), errs.ErrMalformedPacket)
	}
	p := &Packet{
		Type:  PacketType(buf[0]),
		Src:   wire.ReadIP(buf[1:5]),
		Dst:   wire.ReadIP(buf[5:9]),
		Hop:   wire.Uint32BE(buf[9:13]),
		ReqID: wire.Uint32BE(buf[13:17]),
	}
	routeLen := wire.Uint32BE(buf[17:21])
	need := HeaderLen + 4*int(routeLen)
	if len(buf) < need {
		return nil, fmt.Errorf("dsr: route needs %d bytes, got %d: %w", need, len(buf), errs.ErrMalformedPacket)
	}
	p.Route = make([]wire.IP, routeLen)
	off := HeaderLen
	for i := range p.Route {
		p.Route[i] = wire.ReadIP(buf[off : off+4])
		off += 4
	}
	return p, nil
}

// Clone returns a deep copy of p (the route slice is copied), used by the
// listener when turning a request into its response in place (spec.md
// §4.5 step 6).
func (p *Packet) Clone() *Packet {
	route := make([]wire.IP, len(p.Route))
	copy(route, p.Route)
	return &Packet{Type: p.Type, Src: p.Src, Dst: p.Dst, Hop: p.Hop, ReqID: p.ReqID, Route: route}
}
