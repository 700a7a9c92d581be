package ldp

import (
	"sync"
)

// FECNH is a nexthop entry: an IPv4 nexthop address and the remote label
// currently installed in the FIB for it, or NoLabel (spec §3 "fec_nh").
// Multiple FECNH per FECNode support ECMP.
type FECNH struct {
	Gateway     [4]byte
	RemoteLabel uint32
	Connected   bool
}

// PerNeighborLIB holds the five FEC-keyed tables spec §3 assigns to each
// neighbor: which labels we learned, advertised, requested, were asked for,
// and withdrew from this peer.
type PerNeighborLIB struct {
	RecvMap   map[FECKey]uint32 // labels peer sent us
	SentMap   map[FECKey]uint32 // labels we sent peer
	RecvReq   map[FECKey]uint32 // request-ids peer sent us
	SentReq   map[FECKey]uint32 // request-ids we sent peer
	SentWdraw map[FECKey]uint32 // labels we withdrew from peer
}

func newPerNeighborLIB() *PerNeighborLIB {
	return &PerNeighborLIB{
		RecvMap:   make(map[FECKey]uint32),
		SentMap:   make(map[FECKey]uint32),
		RecvReq:   make(map[FECKey]uint32),
		SentReq:   make(map[FECKey]uint32),
		SentWdraw: make(map[FECKey]uint32),
	}
}

// FECNode is a FEC of type IPv4-prefix or PWid, carrying one local label (or
// NoLabel), a set of nexthops, and two per-neighbor maps (spec §3
// "LIB Entry — fec_node").
type FECNode struct {
	Key        FECKey
	LocalLabel uint32
	Nexthops   []FECNH
	Upstream   map[uint32]uint32 // peer LSR-id -> label we sent peer
	Downstream map[uint32]uint32 // peer LSR-id -> label peer sent us
}

func newFECNode(key FECKey) *FECNode {
	return &FECNode{
		Key:        key,
		LocalLabel: NoLabel,
		Upstream:   make(map[uint32]uint32),
		Downstream: make(map[uint32]uint32),
	}
}

// Orphan reports the LIB garbage-collector predicate of spec §3:
// "local_label is NO_LABEL iff the FEC has no nexthops AND no downstream
// bindings" and spec §4.4's GC walk additionally requires no upstream.
func (f *FECNode) Orphan() bool {
	return len(f.Nexthops) == 0 && len(f.Upstream) == 0 && len(f.Downstream) == 0
}

func (f *FECNode) addNexthop(nh FECNH) {
	for i, e := range f.Nexthops {
		if e.Gateway == nh.Gateway {
			f.Nexthops[i] = nh
			return
		}
	}
	f.Nexthops = append(f.Nexthops, nh)
}

func (f *FECNode) removeNexthop(gw [4]byte) bool {
	for i, e := range f.Nexthops {
		if e.Gateway == gw {
			f.Nexthops = append(f.Nexthops[:i], f.Nexthops[i+1:]...)
			return true
		}
	}
	return false
}

// LIB is the Label Information Base: the process-wide table of FECNodes
// plus per-neighbor state, guarded by a single mutex since the LDE process
// is strictly single-threaded (spec §5) — the mutex exists only to let
// tests and the control-socket read path observe consistent snapshots
// without running on the event-loop goroutine.
type LIB struct {
	mu        sync.RWMutex
	fecs      map[FECKey]*FECNode
	neighbors map[uint32]*PerNeighborLIB // keyed by peer LSR-id
}

func NewLIB() *LIB {
	return &LIB{
		fecs:      make(map[FECKey]*FECNode),
		neighbors: make(map[uint32]*PerNeighborLIB),
	}
}

func (l *LIB) findOrCreateFEC(key FECKey) *FECNode {
	if n, ok := l.fecs[key]; ok {
		return n
	}
	n := newFECNode(key)
	l.fecs[key] = n
	return n
}

func (l *LIB) findOrCreateNeighbor(peerID uint32) *PerNeighborLIB {
	if n, ok := l.neighbors[peerID]; ok {
		return n
	}
	n := newPerNeighborLIB()
	l.neighbors[peerID] = n
	return n
}

// FEC returns the FECNode for key, if any, for read-only inspection
// (control-socket "show lib").
func (l *LIB) FEC(key FECKey) (*FECNode, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.fecs[key]
	return n, ok
}

// Snapshot returns every FECNode currently in the LIB, for "show lib".
func (l *LIB) Snapshot() []*FECNode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*FECNode, 0, len(l.fecs))
	for _, n := range l.fecs {
		out = append(out, n)
	}
	return out
}

// GC walks the LIB and frees every orphan FECNode (spec §4.4 "Garbage
// collector"). Returns the number of entries removed.
func (l *LIB) GC() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, n := range l.fecs {
		if n.Orphan() {
			delete(l.fecs, k)
			removed++
		}
	}
	return removed
}
