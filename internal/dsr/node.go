package dsr

import (
	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/wire"
)

// NewNode builds a Resolver and Listener that share one RouteTable,
// ReqIdRecorder, and wait-map over conn — the matched pair every caller
// of getNextHop and the DSR port needs (spec.md §4.4, §4.5). This is the
// normal way to wire up DSR for a node; NewResolver and NewListener are
// exported separately mainly for testing with independent fakes.
func NewNode(myIP wire.IP, conn Transport, log logrus.FieldLogger) (*Resolver, *Listener) {
	table := NewRouteTable()
	wait := newWaitMap()
	reqIDs := NewReqIDRecorder()
	resolver := NewResolver(myIP, conn, table, wait, log)
	listener := NewListener(myIP, conn, table, reqIDs, wait, log)
	return resolver, listener
}
