// Package metrics is the node's Prometheus instrumentation: route-
// resolution latency, neighbor/topology gauges, video-relayer counts, and
// report push outcomes (SPEC_FULL.md §6.1), exposed over the admin port
// alongside a readiness probe. This is ambient observability, not a
// protocol feature — none of it changes wire behavior.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/n0remac/uavmesh/internal/wire"
)

// Registry wires one node's metric collectors. Every field is a
// prometheus collector registered at construction time; callers record
// against them directly or through the small Observe*/Set* helpers below.
type Registry struct {
	routeResolutionSeconds *prometheus.HistogramVec
	neighborCount          prometheus.Gauge
	topoNodeCount          prometheus.Gauge
	topoEdgeCount          prometheus.Gauge
	relayerActive          prometheus.Gauge
	relayerLost            prometheus.Gauge
	reportsSent            *prometheus.CounterVec
}

// New builds a Registry and registers its collectors with reg. Passing a
// fresh *prometheus.Registry (rather than the global DefaultRegisterer)
// keeps repeated construction in tests from panicking on duplicate
// registration.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		routeResolutionSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uavmesh",
			Subsystem: "dsr",
			Name:      "route_resolution_seconds",
			Help:      "Time taken by GetNextHop to resolve a route, labeled by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		neighborCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "uavmesh",
			Subsystem: "neighbor",
			Name:      "table_size",
			Help:      "Number of neighbors currently in this node's NeighborTable.",
		}),
		topoNodeCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "uavmesh",
			Subsystem: "topo",
			Name:      "node_count",
			Help:      "Number of nodes known to the sink's TopoGraph.",
		}),
		topoEdgeCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "uavmesh",
			Subsystem: "topo",
			Name:      "edge_count",
			Help:      "Number of undirected edges known to the sink's TopoGraph.",
		}),
		relayerActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "uavmesh",
			Subsystem: "video",
			Name:      "relayers_active",
			Help:      "Number of currently running video relayer tasks.",
		}),
		relayerLost: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "uavmesh",
			Subsystem: "video",
			Name:      "relayers_lost",
			Help:      "Number of streams currently awaiting retry in LostList.",
		}),
		reportsSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "uavmesh",
			Subsystem: "report",
			Name:      "pushes_total",
			Help:      "Neighbor-report pushes attempted, labeled by outcome.",
		}, []string{"outcome"}),
	}
	return r
}

// ObserveRouteResolution records how long a GetNextHop call took. Matches
// dsr.Resolver.Observe's signature so it can be wired directly:
// resolver.Observe = registry.ObserveRouteResolution.
func (r *Registry) ObserveRouteResolution(dst wire.IP, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.routeResolutionSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SetNeighborCount sets the neighbor-table-size gauge.
func (r *Registry) SetNeighborCount(n int) { r.neighborCount.Set(float64(n)) }

// SetTopoCounts sets the sink's topology node/edge gauges.
func (r *Registry) SetTopoCounts(nodes, edges int) {
	r.topoNodeCount.Set(float64(nodes))
	r.topoEdgeCount.Set(float64(edges))
}

// SetRelayerCounts sets the video-controller relayer gauges.
func (r *Registry) SetRelayerCounts(active, lost int) {
	r.relayerActive.Set(float64(active))
	r.relayerLost.Set(float64(lost))
}

// ReportSent records the outcome of one neighbor-report push attempt.
// Matches report.Reporter.OnSend's signature: reporter.OnSend =
// func(ok bool) { registry.ReportSent(ok) }.
func (r *Registry) ReportSent(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	r.reportsSent.WithLabelValues(outcome).Inc()
}
