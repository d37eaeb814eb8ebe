package dsr

import (
	"fmt"
	"net"
	"time"

	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultPort is the DSR UDP port (spec.md §6).
const DefaultPort = 9190

// duplicateGap is the inter-transmission delay between the two copies sent
// by Broadcast and SendTwice (spec.md §4.4, §4.5); SendTo sends one copy.
const duplicateGap = 20 * time.Microsecond

// Transport is the sending half of the DSR wire boundary that Resolver and
// Listener depend on. *Conn is the real UDP implementation; tests use an
// in-memory fake to exercise the route-discovery state machine (scenarios
// S1-S3 in spec.md §8) without relying on actual subnet broadcast, which
// isn't reproducible in a sandboxed test environment.
type Transport interface {
	Broadcast(buf []byte) error
	SendTo(ip wire.IP, buf []byte) error
	SendTwice(ip wire.IP, buf []byte) error
	SetReadDeadline(d time.Duration) error
	ReadFromUDP(buf []byte) (int, *net.UDPAddr, error)
}

// Conn wraps the single UDP socket a node uses for all DSR traffic:
// broadcasting requests, unicasting responses, and receiving both.
type Conn struct {
	udp     *net.UDPConn
	bcast   *net.UDPAddr
	port    int
}

// Listen opens the DSR UDP socket bound to port on all interfaces, with
// broadcastIP as the destination used by Broadcast.
func Listen(port int, broadcastIP wire.IP) (*Conn, error) {
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("dsr: listen :%d: %w", port, err)
	}
	return &Conn{
		udp:   udp,
		bcast: &net.UDPAddr{IP: ipToNetIP(broadcastIP), Port: port},
		port:  port,
	}, nil
}

func ipToNetIP(ip wire.IP) net.IP {
	b := make(net.IP, 4)
	wire.PutIP(b, ip)
	return b
}

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.udp.Close() }

// SendTo unicasts buf to ip on the DSR port.
func (c *Conn) SendTo(ip wire.IP, buf []byte) error {
	_, err := c.udp.WriteToUDP(buf, &net.UDPAddr{IP: ipToNetIP(ip), Port: c.port})
	return err
}

// SendTwice sends buf to ip twice, duplicateGap apart. The listener uses it
// for the destination's route response; requests and rebroadcasts go
// through Broadcast, which also sends two copies.
func (c *Conn) SendTwice(ip wire.IP, buf []byte) error {
	if err := c.SendTo(ip, buf); err != nil {
		return err
	}
	time.Sleep(duplicateGap)
	return c.SendTo(ip, buf)
}

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
// os.ErrDeadlineExceeded after d, so a receive loop can observe
// cancellation without blocking forever.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	return c.udp.SetReadDeadline(time.Now().Add(d))
}

// ReadFromUDP reads the next datagram into buf.
func (c *Conn) ReadFromUDP(buf []byte) (int, *net.UDPAddr, error) {
	return c.udp.ReadFromUDP(buf)
}
