package video

import (
	"net"
	"sync"
	"time"

	"github.com/n0remac/uavmesh/internal/wire"
)

// dsrFakeNet is a minimal in-memory radio topology used to give each
// simulated node's dsr.Resolver something real to resolve routes over, so
// the video controller's packetReact can be exercised against genuine
// multi-hop forwarding (spec.md §8 scenarios S6/S7) instead of a stub.
type dsrFakeNet struct {
	mu         sync.Mutex
	transports map[wire.IP]*dsrFakeTransport
	links      map[wire.IP]map[wire.IP]bool
}

func newDSRFakeNet() *dsrFakeNet {
	return &dsrFakeNet{
		transports: make(map[wire.IP]*dsrFakeTransport),
		links:      make(map[wire.IP]map[wire.IP]bool),
	}
}

func (n *dsrFakeNet) register(ip wire.IP, t *dsrFakeTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transports[ip] = t
	if n.links[ip] == nil {
		n.links[ip] = make(map[wire.IP]bool)
	}
}

func (n *dsrFakeNet) link(a, b wire.IP) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[a] == nil {
		n.links[a] = make(map[wire.IP]bool)
	}
	if n.links[b] == nil {
		n.links[b] = make(map[wire.IP]bool)
	}
	n.links[a][b] = true
	n.links[b][a] = true
}

func (n *dsrFakeNet) neighbors(self wire.IP) []wire.IP {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]wire.IP, 0, len(n.links[self]))
	for ip := range n.links[self] {
		out = append(out, ip)
	}
	return out
}

func (n *dsrFakeNet) transportIfLinked(self, ip wire.IP) *dsrFakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.links[self][ip] {
		return nil
	}
	return n.transports[ip]
}

// dsrFakeTransport implements dsr.Transport over dsrFakeNet: Broadcast and
// SendTo only reach direct neighbors, and delivery happens by feeding the
// target's ReadFromUDP loop rather than by calling into dsr internals, so a
// real dsr.Listener.Run goroutine drives message processing exactly as it
// would over a UDP socket.
type dsrFakeTransport struct {
	self wire.IP
	net  *dsrFakeNet
	in   chan []byte
}

func newDSRFakeTransport(self wire.IP, net *dsrFakeNet) *dsrFakeTransport {
	return &dsrFakeTransport{self: self, net: net, in: make(chan []byte, 64)}
}

func (t *dsrFakeTransport) Broadcast(buf []byte) error {
	for _, ip := range t.net.neighbors(t.self) {
		if peer := t.net.transportIfLinked(t.self, ip); peer != nil {
			peer.deliver(buf)
			peer.deliver(buf)
		}
	}
	return nil
}

func (t *dsrFakeTransport) SendTo(ip wire.IP, buf []byte) error {
	if peer := t.net.transportIfLinked(t.self, ip); peer != nil {
		peer.deliver(buf)
	}
	return nil
}

func (t *dsrFakeTransport) SendTwice(ip wire.IP, buf []byte) error {
	if err := t.SendTo(ip, buf); err != nil {
		return err
	}
	return t.SendTo(ip, buf)
}

func (t *dsrFakeTransport) deliver(buf []byte) {
	cp := append([]byte(nil), buf...)
	t.in <- cp
}

func (t *dsrFakeTransport) SetReadDeadline(d time.Duration) error { return nil }

func (t *dsrFakeTransport) ReadFromUDP(buf []byte) (int, *net.UDPAddr, error) {
	select {
	case b := <-t.in:
		return copy(buf, b), nil, nil
	case <-time.After(time.Second):
		return 0, nil, &net.OpError{Op: "read", Err: fakeTimeoutErr{}}
	}
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

// videoFakeNet mirrors dsrFakeNet for VideoTransPackets: point-to-point
// delivery to a direct neighbor only, matching the controller's
// hop-by-hop addressing (it never broadcasts).
type videoFakeNet struct {
	mu         sync.Mutex
	transports map[wire.IP]*videoFakeTransport
	links      map[wire.IP]map[wire.IP]bool
}

func newVideoFakeNet() *videoFakeNet {
	return &videoFakeNet{
		transports: make(map[wire.IP]*videoFakeTransport),
		links:      make(map[wire.IP]map[wire.IP]bool),
	}
}

func (n *videoFakeNet) register(ip wire.IP, t *videoFakeTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transports[ip] = t
	if n.links[ip] == nil {
		n.links[ip] = make(map[wire.IP]bool)
	}
}

func (n *videoFakeNet) link(a, b wire.IP) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[a] == nil {
		n.links[a] = make(map[wire.IP]bool)
	}
	if n.links[b] == nil {
		n.links[b] = make(map[wire.IP]bool)
	}
	n.links[a][b] = true
	n.links[b][a] = true
}

func (n *videoFakeNet) transportIfLinked(self, ip wire.IP) *videoFakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.links[self][ip] {
		return nil
	}
	return n.transports[ip]
}

type videoFakeTransport struct {
	self wire.IP
	net  *videoFakeNet
	in   chan []byte
}

func newVideoFakeTransport(self wire.IP, net *videoFakeNet) *videoFakeTransport {
	return &videoFakeTransport{self: self, net: net, in: make(chan []byte, 64)}
}

func (t *videoFakeTransport) SendTo(ip wire.IP, buf []byte) error {
	if peer := t.net.transportIfLinked(t.self, ip); peer != nil {
		cp := append([]byte(nil), buf...)
		peer.in <- cp
	}
	return nil
}

func (t *videoFakeTransport) SetReadDeadline(d time.Duration) error { return nil }

func (t *videoFakeTransport) ReadFromUDP(buf []byte) (int, *net.UDPAddr, error) {
	select {
	case b := <-t.in:
		return copy(buf, b), nil, nil
	case <-time.After(time.Second):
		return 0, nil, &net.OpError{Op: "read", Err: fakeTimeoutErr{}}
	}
}
