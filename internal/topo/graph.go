// Package topo implements the sink-only aggregated topology view: an
// undirected adjacency graph with timestamp-based edge eviction, plus the
// node position list consumed by the SDN reporter (spec.md §3, §4.10).
package topo

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

// Position is a node's 2-D location.
type Position struct {
	X float64
	Y float64
}

type edgeKey struct {
	a wire.IP
	b wire.IP
}

func normalizeKey(a, b wire.IP) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a: a, b: b}
}

type timestampedEdge struct {
	key edgeKey
	at  time.Time
}

// Graph is the sink's adjacency view of the mesh. All methods are
// thread-safe.
type Graph struct {
	mu  sync.Mutex
	adj map[wire.IP]map[wire.IP]struct{}

	tmu   sync.Mutex
	order []timestampedEdge // ascending by .at; upserts move an edge to the end

	pmu sync.Mutex
	pos map[wire.IP]Position

	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

// New returns an empty Graph that evicts edges idle longer than timeout.
func New(timeout time.Duration, log logrus.FieldLogger) *Graph {
	return &Graph{
		adj:     make(map[wire.IP]map[wire.IP]struct{}),
		pos:     make(map[wire.IP]Position),
		timeout: timeout,
		now:     time.Now,
		log:     log,
	}
}

// AddLink inserts both directions of the edge {a,b} and refreshes its
// timestamp (spec.md §4.10).
func (g *Graph) AddLink(a, b wire.IP) {
	g.mu.Lock()
	g.insertDirected(a, b)
	g.insertDirected(b, a)
	g.mu.Unlock()

	key := normalizeKey(a, b)
	g.tmu.Lock()
	g.removeFromOrderLocked(key)
	g.order = append(g.order, timestampedEdge{key: key, at: g.now()})
	g.tmu.Unlock()
}

func (g *Graph) insertDirected(from, to wire.IP) {
	if g.adj[from] == nil {
		g.adj[from] = make(map[wire.IP]struct{})
	}
	g.adj[from][to] = struct{}{}
}

// RemoveLink removes both directions of {a,b}, pruning either vertex that
// becomes isolated, and drops its timestamp record.
func (g *Graph) RemoveLink(a, b wire.IP) {
	g.mu.Lock()
	g.removeDirected(a, b)
	g.removeDirected(b, a)
	g.mu.Unlock()

	g.tmu.Lock()
	g.removeFromOrderLocked(normalizeKey(a, b))
	g.tmu.Unlock()
}

func (g *Graph) removeDirected(from, to wire.IP) {
	if neighbors, ok := g.adj[from]; ok {
		delete(neighbors, to)
		if len(neighbors) == 0 {
			delete(g.adj, from)
		}
	}
}

func (g *Graph) removeFromOrderLocked(key edgeKey) {
	for i, e := range g.order {
		if e.key == key {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

// HasEdge reports whether b is a neighbor of a.
func (g *Graph) HasEdge(a, b wire.IP) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.adj[a][b]
	return ok
}

// NodeCount returns the number of vertices with at least one edge.
func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.adj)
}

// EdgeCount returns the number of undirected edges, for the admin/metrics
// gauge.
func (g *Graph) EdgeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, neighbors := range g.adj {
		n += len(neighbors)
	}
	return n / 2
}

// UpdatePos records ip's position, append-or-overwrite. Positions are
// never removed, even once a node leaves the graph (spec.md §4.10).
func (g *Graph) UpdatePos(ip wire.IP, pos Position) {
	g.pmu.Lock()
	defer g.pmu.Unlock()
	g.pos[ip] = pos
}

// Position returns ip's last-known position.
func (g *Graph) Position(ip wire.IP) (Position, bool) {
	g.pmu.Lock()
	defer g.pmu.Unlock()
	p, ok := g.pos[ip]
	return p, ok
}

// ToMatrix returns the node list and a nodeCount x nodeCount adjacency
// matrix consistent with that ordering (spec.md §4.10). Node order is
// sorted by address for determinism; the original only guarantees
// internal consistency, which sorted order trivially satisfies.
func (g *Graph) ToMatrix() (nodes []wire.IP, matrix [][]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes = make([]wire.IP, 0, len(g.adj))
	for ip := range g.adj {
		nodes = append(nodes, ip)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	idx := make(map[wire.IP]int, len(nodes))
	for i, ip := range nodes {
		idx[ip] = i
	}
	matrix = make([][]bool, len(nodes))
	for i, a := range nodes {
		row := make([]bool, len(nodes))
		for b := range g.adj[a] {
			row[idx[b]] = true
		}
		matrix[i] = row
	}
	return nodes, matrix
}

// Run is the edge-eviction task: it wakes every timeout and removes any
// edge whose timestamp is now older than timeout, oldest-first.
func (g *Graph) Run(stop *supervise.Stoppable) error {
	ticker := time.NewTicker(g.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
			g.evictStale()
		}
	}
}

func (g *Graph) evictStale() {
	now := g.now()
	for {
		g.tmu.Lock()
		if len(g.order) == 0 {
			g.tmu.Unlock()
			return
		}
		oldest := g.order[0]
		if now.Sub(oldest.at) <= g.timeout {
			g.tmu.Unlock()
			return
		}
		g.order = g.order[1:]
		g.tmu.Unlock()
		g.RemoveLink(oldest.key.a, oldest.key.b)
	}
}
