// Package sdn implements the sink-only SDN control-plane link: the
// periodic topology/position frame sent to the external controller, and
// the inbound start/stop command decoder (spec.md §4.11).
package sdn

import (
	"fmt"
	"net"
	"time"

	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultPort is the SDN UDP port (spec.md §6).
const DefaultPort = 7777

// Transport is the socket boundary Reporter and Listener depend on.
type Transport interface {
	SendTo(ip wire.IP, buf []byte) error
	SetReadDeadline(d time.Duration) error
	ReadFromUDP(buf []byte) (int, *net.UDPAddr, error)
}

// Conn is the real UDP-backed Transport.
type Conn struct {
	udp  *net.UDPConn
	port int
}

// Listen opens the SDN UDP socket bound to port on all interfaces.
func Listen(port int) (*Conn, error) {
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("sdn: listen :%d: %w", port, err)
	}
	return &Conn{udp: udp, port: port}, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.udp.Close() }

// SendTo unicasts buf to ip on the SDN port.
func (c *Conn) SendTo(ip wire.IP, buf []byte) error {
	b := make(net.IP, 4)
	wire.PutIP(b, ip)
	_, err := c.udp.WriteToUDP(buf, &net.UDPAddr{IP: b, Port: c.port})
	return err
}

// SetReadDeadline arranges for the next ReadFromUDP to return
// os.ErrDeadlineExceeded after d.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	return c.udp.SetReadDeadline(time.Now().Add(d))
}

// ReadFromUDP reads the next datagram into buf.
func (c *Conn) ReadFromUDP(buf []byte) (int, *net.UDPAddr, error) {
	return c.udp.ReadFromUDP(buf)
}
