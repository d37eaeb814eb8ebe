package dsr

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/n0remac/uavmesh/internal/wire"
)

// fakeNetwork is an in-memory stand-in for radio-range broadcast domains:
// a node's Broadcast/SendTo only reaches nodes explicitly connected to it
// via link, so multi-hop scenarios (S1's "B is the only bridge between A
// and C") are representable, not just a fully-connected mesh. Delivery is
// synchronous, direct dispatch into the target's Listener — route
// discovery (spec.md §8 scenarios S1-S3) depends only on who receives
// which packet, not on actual subnet broadcast.
type fakeNetwork struct {
	mu        sync.Mutex
	listeners map[wire.IP]*Listener
	links     map[wire.IP]map[wire.IP]bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		listeners: make(map[wire.IP]*Listener),
		links:     make(map[wire.IP]map[wire.IP]bool),
	}
}

func (n *fakeNetwork) register(ip wire.IP, l *Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[ip] = l
	if n.links[ip] == nil {
		n.links[ip] = make(map[wire.IP]bool)
	}
}

// link makes a and b direct radio neighbors of one another.
func (n *fakeNetwork) link(a, b wire.IP) {
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

func (n *fakeNetwork) neighbors(self wire.IP) []*Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Listener, 0, len(n.links[self]))
	for ip := range n.links[self] {
		if l, ok := n.listeners[ip]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (n *fakeNetwork) listenerIfLinked(self, ip wire.IP) *Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.links[self][ip] {
		return nil
	}
	return n.listeners[ip]
}

// fakeTransport is the per-node Transport backed by a fakeNetwork. Every
// send also records what it sent so tests can assert on rebroadcast
// counts (S2).
type fakeTransport struct {
	self wire.IP
	net  *fakeNetwork

	mu         sync.Mutex
	broadcasts int
	unicasts   map[wire.IP]int
}

func newFakeTransport(self wire.IP, net *fakeNetwork) *fakeTransport {
	return &fakeTransport{self: self, net: net, unicasts: make(map[wire.IP]int)}
}

// Broadcast delivers buf twice to every node linked to this one, matching
// the real Conn's two-transmissions-per-broadcast behavior (transport.go),
// which is what makes duplicate suppression in processRequest observable.
func (f *fakeTransport) Broadcast(buf []byte) error {
	f.mu.Lock()
	f.broadcasts++
	f.mu.Unlock()
	pkt, err := Parse(buf)
	if err != nil {
		return err
	}
	for _, l := range f.net.neighbors(f.self) {
		l.dispatch(pkt.Clone())
		l.dispatch(pkt.Clone())
	}
	return nil
}

func (f *fakeTransport) SendTo(ip wire.IP, buf []byte) error {
	f.mu.Lock()
	f.unicasts[ip]++
	f.mu.Unlock()
	pkt, err := Parse(buf)
	if err != nil {
		return err
	}
	if l := f.net.listenerIfLinked(f.self, ip); l != nil {
		l.dispatch(pkt)
	}
	return nil
}

func (f *fakeTransport) SendTwice(ip wire.IP, buf []byte) error {
	if err := f.SendTo(ip, buf); err != nil {
		return err
	}
	return f.SendTo(ip, buf)
}

func (f *fakeTransport) SetReadDeadline(d time.Duration) error { return nil }

func (f *fakeTransport) ReadFromUDP(buf []byte) (int, *net.UDPAddr, error) {
	return 0, nil, errors.New("dsr: fakeTransport has no receive loop; dispatch is driven directly")
}

func (f *fakeTransport) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcasts
}
