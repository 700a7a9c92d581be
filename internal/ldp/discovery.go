package ldp

import (
	"time"
)

// HelloParams carries the decoded fields of an inbound hello PDU's single
// message, already stripped of wire framing, for the 9-step receive
// procedure of spec §4.1.
type HelloParams struct {
	LSRID         uint32
	LabelSpace    uint16
	SourceIP      [4]byte
	Iface         IfaceHandle // InvalidHandle for targeted hellos
	Targeted      bool
	HoldTime      uint16
	TransportAddr [4]byte // zero value means "use source IP"
	ConfigSeqNo   uint32
}

// DiscoveryEngine drives hello production and the receive procedure against
// a Manager, producing Adj/Nbr lifecycle transitions and MATCH_ADJ session
// events (spec §4.1, §4.3).
type DiscoveryEngine struct {
	mgr       *Manager
	localLSR  uint32
	labelSpace uint16

	onMatchAdj func(nbr *Nbr, adj *Adj)
	onAdjDown  func(nbr *Nbr, adj *Adj)

	now func() time.Time
}

func NewDiscoveryEngine(mgr *Manager, localLSR uint32) *DiscoveryEngine {
	return &DiscoveryEngine{mgr: mgr, localLSR: localLSR, now: time.Now}
}

func (d *DiscoveryEngine) OnMatchAdj(fn func(nbr *Nbr, adj *Adj)) { d.onMatchAdj = fn }
func (d *DiscoveryEngine) OnAdjDown(fn func(nbr *Nbr, adj *Adj))  { d.onAdjDown = fn }

// BuildHello encodes a link hello, or a targeted hello when targeted is set,
// per spec §6's CommonHelloParams/IPv4Transport TLV layout. The IPv4
// Transport Address TLV is included only when transportAddr is nonzero.
func BuildHello(msgID uint32, holdTime uint16, targeted, requestTargeted bool, transportAddr [4]byte) Message {
	hello := EncodeCommonHello(CommonHelloParams{
		HoldTime: holdTime,
		Targeted: targeted,
		Request:  requestTargeted,
	})
	tlvs := []TLV{{Type: TLVCommonHello, Value: hello}}
	if transportAddr != ([4]byte{}) {
		tlvs = append(tlvs, TLV{Type: TLVIPv4Transport, Value: EncodeIPv4Transport(addrToUint32(transportAddr))})
	}
	return Message{Type: MsgHello, ID: msgID, TLVs: tlvs}
}

// hopSource builds the HelloSource key for a received hello, per spec §3's
// Adjacency invariant that link hellos key on (iface, source IP) and
// targeted hellos key on the tnbr.
func hopSource(p HelloParams, tnbr TnbrHandle) HelloSource {
	if p.Targeted {
		return HelloSource{Kind: SourceTargeted, Tnbr: tnbr, SourceIP: p.SourceIP}
	}
	return HelloSource{Kind: SourceLink, Iface: p.Iface, SourceIP: p.SourceIP}
}

// ReceiveHello implements the §4.1 receive procedure: resolve or create the
// Neighbor, resolve or create/refresh the Adjacency for this source, and
// raise MATCH_ADJ on the neighbor's session FSM the first time a neighbor
// gets its first live adjacency.
//
// Steps (spec §4.1):
//  1. Reject hellos with LSR-id 0 or equal to the local LSR-id.
//  2. Look up or create the Nbr keyed by LSR-id.
//  3. Compute the effective hold time: min(local configured, peer advertised),
//     or infinite if the peer advertised 0xFFFF and so did we. A peer hold
//     time of 0 stands for LinkDefaultHoldTime or TargetedDefaultHoldTime.
//  4. Look up the Adj for this (LSR-id, source); if absent, create it and
//     note peerIsNew for the MATCH_ADJ decision; otherwise refresh its
//     LastHelloAt and EffectiveHoldTime.
//  5. Record the transport address carried in the hello's IPv4 Transport
//     Address TLV, defaulting to the hello's source IP.
//  6. If this is the Neighbor's first Adj, raise MATCH_ADJ.
func (d *DiscoveryEngine) ReceiveHello(p HelloParams, tnbr TnbrHandle, localHoldTime uint16) (*Nbr, *Adj, error) {
	if p.LSRID == 0 || p.LSRID == d.localLSR {
		return nil, nil, ErrBadLSRID
	}

	nbr, _ := d.mgr.FindOrCreateNbr(p.LSRID, p.LSRID)

	peerHold := p.HoldTime
	if peerHold == 0 {
		peerHold = LinkDefaultHoldTime
		if p.Targeted {
			peerHold = TargetedDefaultHoldTime
		}
	}
	eff := effectiveHoldTime(localHoldTime, peerHold)
	src := hopSource(p, tnbr)

	transport := p.TransportAddr
	if transport == ([4]byte{}) {
		transport = p.SourceIP
	}

	adj, created := d.mgr.AdjBySource(p.LSRID, src)
	if !created {
		adj.LastHelloAt = d.now()
		adj.EffectiveHoldTime = eff
		adj.TransportAddr = transport
		return nbr, adj, nil
	}

	newAdj := &Adj{
		Neighbor:          nbr.Handle,
		Source:            src,
		TransportAddr:     transport,
		EffectiveHoldTime: eff,
		LastHelloAt:       d.now(),
	}
	h := d.mgr.CreateAdj(newAdj, p.LSRID)
	newAdj.Handle = h

	wasFirst := len(nbr.Adjacencies) == 0
	nbr.Adjacencies = append(nbr.Adjacencies, h)

	if wasFirst && d.onMatchAdj != nil {
		d.onMatchAdj(nbr, newAdj)
	}

	return nbr, newAdj, nil
}

// effectiveHoldTime applies the negotiation rule of spec §4.1: the smaller
// of the two configured hold times wins, unless both sides advertise the
// infinite value.
func effectiveHoldTime(local, remote uint16) uint16 {
	if local == InfiniteHoldTime && remote == InfiniteHoldTime {
		return InfiniteHoldTime
	}
	if remote == InfiniteHoldTime {
		return local
	}
	if local == InfiniteHoldTime {
		return remote
	}
	if local < remote {
		return local
	}
	return remote
}

// ExpireAdjacencies walks the manager's adjacencies and tears down any whose
// deadline, LastHelloAt+EffectiveHoldTime, is not after now. The caller
// supplies now; the per-adjacency comparison is done here.
func (d *DiscoveryEngine) ExpireAdjacencies(now time.Time) {
	for _, adj := range d.mgr.AdjsExpiring() {
		deadline := adj.LastHelloAt.Add(time.Duration(adj.EffectiveHoldTime) * time.Second)
		if now.Before(deadline) {
			continue
		}
		nbr, ok := d.mgr.Nbr(adj.Neighbor)
		if !ok {
			continue
		}
		removeAdjFromNbr(nbr, adj.Handle)
		_ = d.mgr.DeleteAdj(adj.Handle, nbr.LSRID)
		if d.onAdjDown != nil {
			d.onAdjDown(nbr, adj)
		}
		if len(nbr.Adjacencies) == 0 {
			d.mgr.TransitionNbr(nbr, EventCloseSession)
		}
	}
}

func removeAdjFromNbr(nbr *Nbr, h AdjHandle) {
	for i, a := range nbr.Adjacencies {
		if a == h {
			nbr.Adjacencies = append(nbr.Adjacencies[:i], nbr.Adjacencies[i+1:]...)
			return
		}
	}
}
