package ldp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrIfaceNotFound    = errors.New("ldp: interface not found")
	ErrTnbrNotFound     = errors.New("ldp: targeted neighbor not found")
	ErrAdjNotFound      = errors.New("ldp: adjacency not found")
	ErrNbrNotFound      = errors.New("ldp: neighbor not found")
	ErrDuplicateIface   = errors.New("ldp: interface already exists")
	ErrDuplicateTnbr    = errors.New("ldp: targeted neighbor already exists")
)

// Manager owns the Interface/Tnbr/Adjacency/Neighbor arenas and provides the
// CRUD and demultiplexing API the discovery and session layers use (spec §3,
// §4.7). It is a dual-index arena behind one RWMutex, with one index per
// entity kind.
type Manager struct {
	mu sync.RWMutex

	ifaces   map[IfaceHandle]*Iface
	ifaceIdx map[string]IfaceHandle // by name

	tnbrs   map[TnbrHandle]*Tnbr
	tnbrIdx map[[4]byte]TnbrHandle // by remote address

	adjs   map[AdjHandle]*Adj
	adjIdx map[adjKey]AdjHandle

	nbrs      map[NbrHandle]*Nbr
	nbrByLSR  map[uint32]NbrHandle
	nbrByPeer map[uint32]NbrHandle // by process-local PeerID

	nextHandle uint32

	onNeighborEvent  NeighborEventCallback
	onStateTransition StateTransitionCallback

	logger *slog.Logger
}

// adjKey demultiplexes adjacencies by (peer LSR-id, hello source), matching
// the Adjacency invariant of spec §3: "at most one adjacency per (peer
// LSR-id, source)".
type adjKey struct {
	lsrID  uint32
	source HelloSource
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		ifaces:     make(map[IfaceHandle]*Iface),
		ifaceIdx:   make(map[string]IfaceHandle),
		tnbrs:      make(map[TnbrHandle]*Tnbr),
		tnbrIdx:    make(map[[4]byte]TnbrHandle),
		adjs:       make(map[AdjHandle]*Adj),
		adjIdx:     make(map[adjKey]AdjHandle),
		nbrs:       make(map[NbrHandle]*Nbr),
		nbrByLSR:   make(map[uint32]NbrHandle),
		nbrByPeer:  make(map[uint32]NbrHandle),
		nextHandle: InvalidHandle + 1,
		logger:     logger.With(slog.String("component", "ldp.manager")),
	}
}

func (m *Manager) allocHandle() uint32 {
	h := m.nextHandle
	m.nextHandle++
	return h
}

// OnNeighborEvent registers the callback invoked on NEIGHBOR_UP/DOWN.
func (m *Manager) OnNeighborEvent(cb NeighborEventCallback) { m.onNeighborEvent = cb }

// OnStateTransition registers the callback invoked on every session FSM
// transition (spec §9).
func (m *Manager) OnStateTransition(cb StateTransitionCallback) { m.onStateTransition = cb }

// --- Interface CRUD ---

func (m *Manager) CreateIface(iface *Iface) (IfaceHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ifaceIdx[iface.Name]; exists {
		return InvalidHandle, fmt.Errorf("create iface %s: %w", iface.Name, ErrDuplicateIface)
	}
	h := IfaceHandle(m.allocHandle())
	iface.Handle = h
	m.ifaces[h] = iface
	m.ifaceIdx[iface.Name] = h
	return h, nil
}

func (m *Manager) Iface(h IfaceHandle) (*Iface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.ifaces[h]
	return i, ok
}

func (m *Manager) IfaceByName(name string) (*Iface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.ifaceIdx[name]
	if !ok {
		return nil, false
	}
	return m.ifaces[h], true
}

func (m *Manager) DeleteIface(h IfaceHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.ifaces[h]
	if !ok {
		return ErrIfaceNotFound
	}
	delete(m.ifaceIdx, i.Name)
	delete(m.ifaces, h)
	return nil
}

func (m *Manager) Ifaces() []*Iface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Iface, 0, len(m.ifaces))
	for _, i := range m.ifaces {
		out = append(out, i)
	}
	return out
}

// ReconcileIfaces reconciles the interface set against the wanted names
// (the interface part of spec §4.7's merge; no reload path calls it): names present in want but not in the manager are created via
// newFn; names present in the manager but absent from want and not
// currently ACTIVE are deleted; names present in both are left untouched
// (their mutable fields are updated in place by the caller before calling
// this, matching printconf-then-diff semantics).
func (m *Manager) ReconcileIfaces(want map[string]struct{}, newFn func(name string) *Iface) (created, deleted []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range want {
		if _, exists := m.ifaceIdx[name]; !exists {
			iface := newFn(name)
			h := IfaceHandle(m.allocHandle())
			iface.Handle = h
			m.ifaces[h] = iface
			m.ifaceIdx[name] = h
			created = append(created, name)
		}
	}

	for name, h := range m.ifaceIdx {
		if _, wanted := want[name]; wanted {
			continue
		}
		iface := m.ifaces[h]
		if iface.Active() {
			iface.InConfig = false
			continue
		}
		delete(m.ifaceIdx, name)
		delete(m.ifaces, h)
		deleted = append(deleted, name)
	}
	return created, deleted
}

// --- Targeted Neighbor CRUD ---

func (m *Manager) CreateTnbr(t *Tnbr) (TnbrHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tnbrIdx[t.RemoteAddr]; exists {
		return InvalidHandle, fmt.Errorf("create tnbr %v: %w", t.RemoteAddr, ErrDuplicateTnbr)
	}
	h := TnbrHandle(m.allocHandle())
	t.Handle = h
	m.tnbrs[h] = t
	m.tnbrIdx[t.RemoteAddr] = h
	return h, nil
}

func (m *Manager) Tnbr(h TnbrHandle) (*Tnbr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tnbrs[h]
	return t, ok
}

func (m *Manager) TnbrByAddr(addr [4]byte) (*Tnbr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.tnbrIdx[addr]
	if !ok {
		return nil, false
	}
	return m.tnbrs[h], true
}

// DeleteTnbrIfUnused removes t if ShouldDestroy holds, per spec §3.
func (m *Manager) DeleteTnbrIfUnused(h TnbrHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tnbrs[h]
	if !ok || !t.ShouldDestroy() {
		return false
	}
	delete(m.tnbrIdx, t.RemoteAddr)
	delete(m.tnbrs, h)
	return true
}

func (m *Manager) Tnbrs() []*Tnbr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Tnbr, 0, len(m.tnbrs))
	for _, t := range m.tnbrs {
		out = append(out, t)
	}
	return out
}

// --- Adjacency CRUD ---

func (m *Manager) CreateAdj(a *Adj, lsrID uint32) AdjHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := AdjHandle(m.allocHandle())
	a.Handle = h
	m.adjs[h] = a
	m.adjIdx[adjKey{lsrID: lsrID, source: a.Source}] = h
	return h
}

func (m *Manager) AdjBySource(lsrID uint32, src HelloSource) (*Adj, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.adjIdx[adjKey{lsrID: lsrID, source: src}]
	if !ok {
		return nil, false
	}
	return m.adjs[h], true
}

func (m *Manager) Adj(h AdjHandle) (*Adj, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adjs[h]
	return a, ok
}

func (m *Manager) DeleteAdj(h AdjHandle, lsrID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adjs[h]
	if !ok {
		return ErrAdjNotFound
	}
	delete(m.adjIdx, adjKey{lsrID: lsrID, source: a.Source})
	delete(m.adjs, h)
	return nil
}

func (m *Manager) AdjsExpiring() []*Adj {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Adj, 0)
	for _, a := range m.adjs {
		if a.Expires() {
			out = append(out, a)
		}
	}
	return out
}

// --- Neighbor CRUD ---

// FindOrCreateNbr returns the existing Nbr for lsrID, or creates one in
// StateDown (spec §3: "a neighbor exists independently of whether a session
// to it exists").
func (m *Manager) FindOrCreateNbr(lsrID uint32, peerID uint32) (*Nbr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.nbrByLSR[lsrID]; ok {
		return m.nbrs[h], false
	}
	h := NbrHandle(m.allocHandle())
	n := &Nbr{Handle: h, LSRID: lsrID, PeerID: peerID, State: StateDown}
	m.nbrs[h] = n
	m.nbrByLSR[lsrID] = h
	m.nbrByPeer[peerID] = h
	return n, true
}

func (m *Manager) Nbr(h NbrHandle) (*Nbr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nbrs[h]
	return n, ok
}

func (m *Manager) NbrByLSRID(lsrID uint32) (*Nbr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.nbrByLSR[lsrID]
	if !ok {
		return nil, false
	}
	return m.nbrs[h], true
}

func (m *Manager) NbrByPeerID(peerID uint32) (*Nbr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.nbrByPeer[peerID]
	if !ok {
		return nil, false
	}
	return m.nbrs[h], true
}

// DeleteNbrIfIdle removes n if it has no adjacencies and no session (spec
// §3: a neighbor with zero adjacencies and State==Down is discarded).
func (m *Manager) DeleteNbrIfIdle(h NbrHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nbrs[h]
	if !ok || len(n.Adjacencies) > 0 || n.State != StateDown {
		return false
	}
	delete(m.nbrByLSR, n.LSRID)
	delete(m.nbrByPeer, n.PeerID)
	delete(m.nbrs, h)
	return true
}

func (m *Manager) Nbrs() []*Nbr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Nbr, 0, len(m.nbrs))
	for _, n := range m.nbrs {
		out = append(out, n)
	}
	return out
}

// TransitionNbr applies event to n's session FSM, runs the resulting
// actions' observable side effects (state update, callback dispatch), and
// returns the FSMResult for the caller to act on for I/O-producing actions
// (spec §4.3, §9 "single dispatcher that logs every transition").
func (m *Manager) TransitionNbr(n *Nbr, event SessionEvent) FSMResult {
	res := ApplyEvent(n.State, event)
	if !res.Changed {
		return res
	}

	m.mu.Lock()
	n.State = res.NewState
	m.mu.Unlock()

	if m.onStateTransition != nil {
		m.onStateTransition(n.PeerID, res.OldState, res.NewState)
	}

	wasOperational := res.OldState == StateOperational
	isOperational := res.NewState == StateOperational

	if !wasOperational && isOperational && m.onNeighborEvent != nil {
		m.onNeighborEvent(NeighborEvent{Kind: NeighborUp, PeerID: n.PeerID, Handle: n.Handle})
	}
	if wasOperational && !isOperational && m.onNeighborEvent != nil {
		m.onNeighborEvent(NeighborEvent{Kind: NeighborDown, PeerID: n.PeerID, Handle: n.Handle})
	}

	return res
}
