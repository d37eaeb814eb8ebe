package live

import (
	"fmt"
	"net"
	"time"

	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultPort is the LIVE UDP port (spec.md §6).
const DefaultPort = 9290

// duplicateGap separates the two transmissions of every broadcast, as on
// the DSR port.
const duplicateGap = 20 * time.Microsecond

// Transport is the socket boundary Broadcaster and Listener depend on, so
// tests can substitute an in-memory fake instead of a real UDP socket.
type Transport interface {
	Broadcast(buf []byte) error
	SetReadDeadline(d time.Duration) error
	ReadFromUDP(buf []byte) (int, *net.UDPAddr, error)
}

// Conn is the real UDP-backed Transport.
type Conn struct {
	udp   *net.UDPConn
	bcast *net.UDPAddr
	port  int
}

// Listen opens the LIVE UDP socket bound to port on all interfaces.
func Listen(port int, broadcastIP wire.IP) (*Conn, error) {
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("live: listen :%d: %w", port, err)
	}
	b := make(net.IP, 4)
	wire.PutIP(b, broadcastIP)
	return &Conn{udp: udp, bcast: &net.UDPAddr{IP: b, Port: port}, port: port}, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.udp.Close() }

// Broadcast sends buf to the broadcast address twice, duplicateGap apart.
func (c *Conn) Broadcast(buf []byte) error {
	if _, err := c.udp.WriteToUDP(buf, c.bcast); err != nil {
		return err
	}
	time.Sleep(duplicateGap)
	_, err := c.udp.WriteToUDP(buf, c.bcast)
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
