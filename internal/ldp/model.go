package ldp

import (
	"net"
	"time"
)

// LinkType distinguishes point-to-point from broadcast interfaces
// (SPEC_FULL.md §4 supplement, grounded on original_source/interface.c).
// It is recorded on the Iface only; hello sending does not consult it, and
// link hellos always go to 224.0.0.2.
type LinkType uint8

const (
	LinkBroadcast LinkType = iota
	LinkPointToPoint
)

// IfaceState is the Interface entity's operational state (spec §3).
type IfaceState uint8

const (
	IfaceDown IfaceState = iota
	IfaceActive
)

// Iface is a local L3 interface LDP operates on (spec §3 "Interface
// (iface)"). It exclusively owns its adjacency list and hello timer.
type Iface struct {
	Handle       IfaceHandle
	Name         string
	Index        int
	MTU          int
	LinkType     LinkType
	LinkUp       bool
	Addresses    []net.IP
	HelloHoldTime uint16
	HelloInterval time.Duration
	State        IfaceState
	Adjacencies  []AdjHandle
	InConfig     bool
}

// Active reports whether the interface satisfies the ACTIVE invariant of
// spec §3: "ACTIVE iff link is up AND at least one address is configured
// AND interface is in config."
func (i *Iface) Active() bool {
	return i.LinkUp && len(i.Addresses) > 0 && i.InConfig
}

// TnbrFlags are the lifecycle flags of a Targeted Neighbor (spec §3).
type TnbrFlags uint8

const (
	TnbrConfigured TnbrFlags = 1 << iota
	TnbrDynamic
)

// Tnbr is a remote address LDP sends targeted hellos to (spec §3
// "Targeted Neighbor (tnbr)").
type Tnbr struct {
	Handle        TnbrHandle
	RemoteAddr    [4]byte
	HelloHoldTime uint16
	HelloInterval time.Duration
	Adjacency     AdjHandle // InvalidHandle if none
	PWCount       int
	Flags         TnbrFlags
}

// ShouldDestroy reports the destruction condition of spec §3: "Destroyed
// when it is neither CONFIGURED, nor DYNAMIC, nor referenced by any
// pseudowire."
func (t *Tnbr) ShouldDestroy() bool {
	return t.Flags&(TnbrConfigured|TnbrDynamic) == 0 && t.PWCount == 0
}

// Adj is a successful hello exchange with a specific peer LSR over a
// specific source (spec §3 "Adjacency (adj)").
type Adj struct {
	Handle          AdjHandle
	Neighbor        NbrHandle
	Source          HelloSource
	SourceDiscr     uint32
	TransportAddr   [4]byte
	EffectiveHoldTime uint16
	LastHelloAt     time.Time
}

// Expires reports whether the adjacency's inactivity timer can fire: an
// adjacency with holdtime 0xFFFF never times out (spec §3 invariant).
func (a *Adj) Expires() bool { return a.EffectiveHoldTime != InfiniteHoldTime }

// TCPConn wraps a connected stream with read/write buffers and an optional
// back-pointer to the neighbor it serves (spec §3 "TCP Connection (tcp)").
type TCPConn struct {
	Conn        net.Conn
	ReadBuf     []byte
	WriteBuf    []byte
	Neighbor    NbrHandle // InvalidHandle before the peer identity is known
}

// Nbr is an LSR we have at least one adjacency to (spec §3 "Neighbor
// (nbr)").
type Nbr struct {
	Handle          NbrHandle
	LSRID           uint32
	TransportAddr   [4]byte
	Adjacencies     []AdjHandle
	State           SessionState
	ActiveRole      bool
	TCP             *TCPConn
	NegotiatedKeepAlive uint16
	NegotiatedMaxPDU    uint16
	PeerID          uint32 // unique per-process peer identifier

	InitDelayAttempt int
	LastMsgID        uint32

	PendingMappings []FECKey
	PendingWithdraws []FECKey
	PendingRequests []FECKey
	PendingReleases []FECKey
}

// SessionExists reports the invariant of spec §3: "the TCP connection
// exists only in states {INITIAL, OPENSENT, OPENREC, OPERATIONAL}."
func (n *Nbr) SessionExists() bool {
	switch n.State {
	case StateInitial, StateOpenSent, StateOpenRec, StateOperational:
		return true
	default:
		return false
	}
}

// ActiveRoleFor implements the role-selection rule of spec §4.3: the
// endpoint whose transport address is numerically greater (unsigned
// network-byte-order integer comparison) is active.
func ActiveRoleFor(localTransport, peerTransport uint32) bool {
	return localTransport > peerTransport
}
