// Package wire holds the byte-order and fixed-width field helpers shared by
// every wire codec in this module: big-endian integers, raw IPv4 addresses,
// and the zero-padded ASCII decimal doubles used by the Live, neighbor
// report, and SDN frames.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// IP is a 32-bit IPv4 address carried on the wire in big-endian order and
// kept in host order once parsed, matching the original's in_addr_t usage.
type IP uint32

// ParseIPv4 converts a dotted-quad string into its 32-bit representation.
func ParseIPv4(s string) (IP, error) {
	ip4 := net.ParseIP(s)
	if ip4 == nil {
		return 0, fmt.Errorf("wire: invalid IPv4 address %q", s)
	}
	ip4 = ip4.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("wire: not an IPv4 address %q", s)
	}
	return IP(binary.BigEndian.Uint32(ip4)), nil
}

// String renders the address as a dotted quad.
func (ip IP) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(ip))
	return net.IP(b[:]).String()
}

// LastOctet returns the low byte of the address, used as a compact node id
// in the SDN frame and in the video relay URL scheme.
func (ip IP) LastOctet() byte { return byte(ip) }

// PutUint32BE writes v into buf[:4] in big-endian order.
func PutUint32BE(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }

// Uint32BE reads a big-endian uint32 from buf[:4].
func Uint32BE(buf []byte) uint32 { return binary.BigEndian.Uint32(buf) }

// PutUint16BE writes v into buf[:2] in big-endian order.
func PutUint16BE(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }

// Uint16BE reads a big-endian uint16 from buf[:2].
func Uint16BE(buf []byte) uint16 { return binary.BigEndian.Uint16(buf) }

// PutIP writes ip into buf[:4] in big-endian order.
func PutIP(buf []byte, ip IP) { binary.BigEndian.PutUint32(buf, uint32(ip)) }

// ReadIP reads a big-endian IP from buf[:4].
func ReadIP(buf []byte) IP { return IP(binary.BigEndian.Uint32(buf)) }

// PutASCIIDouble encodes v as a decimal string, zero-padded on the right to
// exactly len(buf) bytes. This mirrors the original's to_string()/stod()
// wire format (§9 design notes: "do not substitute binary floats").
func PutASCIIDouble(buf []byte, v float64) error {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if len(s) > len(buf) {
		return fmt.Errorf("wire: ascii double %q exceeds field width %d", s, len(buf))
	}
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// ASCIIDouble decodes a zero-padded ASCII decimal field back into a float64.
func ASCIIDouble(buf []byte) (float64, error) {
	s := strings.TrimRight(string(buf), "\x00")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("wire: malformed ascii double %q: %w", s, err)
	}
	return v, nil
}
