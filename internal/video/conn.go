package video

import (
	"fmt"
	"net"
	"time"

	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultPort is the UDP port VideoTransPackets travel on.
const DefaultPort = 8600

// Transport is the send/receive surface the controller needs; *Conn
// implements it over a real UDP socket, tests substitute an in-memory fake.
type Transport interface {
	SendTo(ip wire.IP, buf []byte) error
	SetReadDeadline(d time.Duration) error
	ReadFromUDP(buf []byte) (int, *net.UDPAddr, error)
}

// Conn is the real UDP transport for VideoTransPackets.
type Conn struct {
	sock *net.UDPConn
	port int
}

// Listen opens a UDP socket bound to port for both sending and receiving.
func Listen(port int) (*Conn, error) {
	addr := &net.UDPAddr{Port: port}
	sock, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("video: listen on :%d: %w", port, err)
	}
	return &Conn{sock: sock, port: port}, nil
}

// Close releases the socket.
func (c *Conn) Close() error { return c.sock.Close() }

// SendTo sends buf to ip on the video-transport port.
func (c *Conn) SendTo(ip wire.IP, buf []byte) error {
	dst := &net.UDPAddr{IP: net.ParseIP(ip.String()), Port: c.port}
	_, err := c.sock.WriteToUDP(buf, dst)
	return err
}

// SetReadDeadline arms the next read's deadline.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	return c.sock.SetReadDeadline(time.Now().Add(d))
}

// ReadFromUDP reads one datagram.
func (c *Conn) ReadFromUDP(buf []byte) (int, *net.UDPAddr, error) {
	return c.sock.ReadFromUDP(buf)
}
