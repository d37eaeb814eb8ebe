// Package report implements the periodic neighbor report: the
// sender-plus-neighbors frame pushed toward the sink over TCP, and the
// accept loop that ingests it there (spec.md §3, §4.8, §4.9).
package report

import (
	"fmt"

	"github.com/n0remac/uavmesh/internal/live"
	"github.com/n0remac/uavmesh/internal/meshctl/errs"
	"github.com/n0remac/uavmesh/internal/wire"
)

// headerLen is the 4-byte neighbor-count prefix plus the 68-byte sender
// record.
const headerLen = 4 + live.Len

// MaxSize is the largest a serialized Report may be before the reporter
// drops it rather than send (spec.md §4.8).
const MaxSize = 800

// Report is one neighbor-report frame: the sender's own record plus its
// currently-visible neighbors.
type Report struct {
	Sender    live.Packet
	Neighbors []live.Packet
}

// Serialize renders r into a freshly allocated buffer. It fails if the
// result would exceed MaxSize.
func (r *Report) Serialize() ([]byte, error) {
	size := headerLen + live.Len*len(r.Neighbors)
	if size > MaxSize {
		return nil, fmt.Errorf("report: %d bytes exceeds max %d", size, MaxSize)
	}
	buf := make([]byte, size)
	wire.PutUint32BE(buf[0:4], uint32(len(r.Neighbors)))
	senderBuf, err := r.Sender.Serialize()
	if err != nil {
		return nil, fmt.Errorf("report: encode sender: %w", err)
	}
	copy(buf[4:headerLen], senderBuf)
	off := headerLen
	for _, n := range r.Neighbors {
		nb, err := n.Serialize()
		if err != nil {
			return nil, fmt.Errorf("report: encode neighbor %s: %w", n.IP, err)
		}
		copy(buf[off:off+live.Len], nb)
		off += live.Len
	}
	return buf, nil
}

// Parse decodes a complete report frame (header + body, already fully
// read off the wire by the caller).
func Parse(buf []byte) (*Report, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("report: need %d header bytes, got %d: %w", headerLen, len(buf), errs.ErrMalformedPacket)
	}
	count := wire.Uint32BE(buf[0:4])
	sender, err := live.Parse(buf[4:headerLen])
	if err != nil {
		return nil, fmt.Errorf("report: decode sender: %w", err)
	}
	need := headerLen + live.Len*int(count)
	if len(buf) < need {
		return nil, fmt.Errorf("report: need %d total bytes, got %d: %w", need, len(buf), errs.ErrMalformedPacket)
	}
	neighbors := make([]live.Packet, count)
	off := headerLen
	for i := range neighbors {
		n, err := live.Parse(buf[off : off+live.Len])
		if err != nil {
			return nil, fmt.Errorf("report: decode neighbor %d: %w", i, err)
		}
		neighbors[i] = *n
		off += live.Len
	}
	return &Report{Sender: *sender, Neighbors: neighbors}, nil
}
