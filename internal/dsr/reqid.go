package dsr

import (
	"sync"

	"github.com/n0remac/uavmesh/internal/wire"
)

// ReqIDRecorder deduplicates (srcIP, reqID) pairs so a request is never
// rebroadcast twice (spec.md §4.3). It grows monotonically for the
// process lifetime; compaction is explicitly out of scope.
type ReqIDRecorder struct {
	mu   sync.Mutex
	seen map[wire.IP]map[uint32]struct{}
}

// NewReqIDRecorder returns an empty recorder.
func NewReqIDRecorder() *ReqIDRecorder {
	return &ReqIDRecorder{seen: make(map[wire.IP]map[uint32]struct{})}
}

// Add records (src, id) as forwarded.
func (r *ReqIDRecorder) Add(src wire.IP, id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.seen[src]
	if !ok {
		ids = make(map[uint32]struct{})
		r.seen[src] = ids
	}
	ids[id] = struct{}{}
}

// Exists reports whether (src, id) has already been recorded.
func (r *ReqIDRecorder) Exists(src wire.IP, id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.seen[src]
	if !ok {
		return false
	}
	_, ok = ids[id]
	return ok
}
