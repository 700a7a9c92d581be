package ldp

import (
	"log/slog"
)

// LDE implements the RFC 5036 Label Decision Engine procedures against a
// LIB, using a LabelAllocator for local label assignment and emitting
// outbound label messages, kernel install requests, and request replies via
// the send callbacks (spec §4.4). It runs exclusively on the LDE process's
// single event-loop goroutine.
type LDE struct {
	lib   *LIB
	alloc *LabelAllocator

	explicitNullPolicy bool

	sendMapping      func(peerID uint32, fec FECKey, label uint32, reqID uint32)
	sendWithdraw     func(peerID uint32, fec FECKey, label uint32)
	sendRelease      func(peerID uint32, fec FECKey, label uint32, wildcard bool)
	sendRequest      func(peerID uint32, fec FECKey)
	sendKLabelChange func(fec FECKey, add bool, inLabel, outLabel uint32, gateway [4]byte, ifIndex uint32)
	sendNotify       func(peerID uint32, fec FECKey, status StatusCode)

	operationalPeers map[uint32]struct{}

	logger *slog.Logger
}

func NewLDE(lib *LIB, logger *slog.Logger) *LDE {
	return &LDE{
		lib:              lib,
		alloc:            NewLabelAllocator(),
		operationalPeers: make(map[uint32]struct{}),
		logger:           logger.With(slog.String("component", "ldp.lde")),
	}
}

// SetSenders wires the LDE's outbound effects to the LDPE/Parent bridge
// (spec §4.4, §4.6): mapping/withdraw/release/request drive label messages
// on the wire, klabelChange asks the Parent to install or remove a kernel
// MPLS/IPv4 forwarding entry, and notify asks LDPE to send a Notification in
// reply to a Label Request that could not be satisfied.
func (l *LDE) SetSenders(
	mapping func(peerID uint32, fec FECKey, label uint32, reqID uint32),
	withdraw func(peerID uint32, fec FECKey, label uint32),
	release func(peerID uint32, fec FECKey, label uint32, wildcard bool),
	request func(peerID uint32, fec FECKey),
	klabelChange func(fec FECKey, add bool, inLabel, outLabel uint32, gateway [4]byte, ifIndex uint32),
	notify func(peerID uint32, fec FECKey, status StatusCode),
) {
	l.sendMapping, l.sendWithdraw, l.sendRelease, l.sendRequest = mapping, withdraw, release, request
	l.sendKLabelChange, l.sendNotify = klabelChange, notify
}

// NeighborUp records peerID as operational and advertises every FEC with a
// local label to it (spec §4.4: "upon NEIGHBOR_UP, advertise the whole LIB
// under liberal retention").
func (l *LDE) NeighborUp(peerID uint32) {
	l.operationalPeers[peerID] = struct{}{}
	for _, n := range l.lib.Snapshot() {
		if n.LocalLabel == NoLabel {
			continue
		}
		l.advertiseTo(peerID, n)
	}
}

// NeighborDown implements spec §4.4's cleanup: every FEC this peer
// contributed a downstream binding for loses that binding (and may become
// orphaned), every upstream binding we sent this peer is forgotten (the
// peer no longer exists to hold it), and any FIB entry installed through a
// nexthop owned by this peer is torn down.
func (l *LDE) NeighborDown(peerID uint32) {
	delete(l.operationalPeers, peerID)
	peerAddr := uint32ToAddr(peerID)
	for _, n := range l.lib.Snapshot() {
		delete(n.Upstream, peerID)
		delete(n.Downstream, peerID)
		for i, nh := range n.Nexthops {
			if nh.Gateway != peerAddr || nh.RemoteLabel == NoLabel {
				continue
			}
			label := nh.RemoteLabel
			n.Nexthops[i].RemoteLabel = NoLabel
			l.sendKLabelChange(n.Key, false, NoLabel, label, peerAddr, 0)
		}
	}
	l.lib.mu.Lock()
	delete(l.lib.neighbors, peerID)
	l.lib.mu.Unlock()
	l.lib.GC()
}

// NetworkAdd implements FEC.1: a directly-connected or IGP-learned prefix
// appears. A local label is assigned (implicit-null unless explicit-null
// policy applies) and advertised to every operational peer.
func (l *LDE) NetworkAdd(key FECKey, nh FECNH, isIPv6 bool) {
	l.lib.mu.Lock()
	n := l.lib.findOrCreateFEC(key)
	n.addNexthop(nh)
	if n.LocalLabel == NoLabel {
		n.LocalLabel = EgressLabel(l.explicitNullPolicy, isIPv6)
	}
	l.lib.mu.Unlock()

	for peerID := range l.operationalPeers {
		l.advertiseTo(peerID, n)
	}
}

// NetworkDel implements the FEC withdrawal half of FEC.1: a prefix stops
// being reachable. Any FIB entry installed for the removed nexthop is torn
// down; if no nexthops remain the local label is withdrawn from every
// upstream peer and the FEC becomes eligible for garbage collection.
func (l *LDE) NetworkDel(key FECKey, gw [4]byte) {
	l.lib.mu.Lock()
	n, ok := l.lib.fecs[key]
	if !ok {
		l.lib.mu.Unlock()
		return
	}
	var removedLabel uint32 = NoLabel
	for _, nh := range n.Nexthops {
		if nh.Gateway == gw {
			removedLabel = nh.RemoteLabel
			break
		}
	}
	n.removeNexthop(gw)
	becameOrphan := len(n.Nexthops) == 0
	if becameOrphan {
		n.LocalLabel = NoLabel
	}
	l.lib.mu.Unlock()

	if removedLabel != NoLabel {
		l.sendKLabelChange(key, false, NoLabel, removedLabel, gw, 0)
	}

	if becameOrphan {
		for peerID, label := range n.Upstream {
			plib := l.lib.findOrCreateNeighbor(peerID)
			delete(plib.SentMap, key)
			plib.SentWdraw[key] = label
			l.sendWithdraw(peerID, key, label)
		}
		l.lib.GC()
	}
}

func (l *LDE) advertiseTo(peerID uint32, n *FECNode) {
	if _, already := n.Upstream[peerID]; already {
		return
	}
	n.Upstream[peerID] = n.LocalLabel
	l.lib.findOrCreateNeighbor(peerID).SentMap[n.Key] = n.LocalLabel
	l.sendMapping(peerID, n.Key, n.LocalLabel, 0)
}

// RecvLabelMapping implements LMp.1-4 (spec §4.4):
//  1. clear an outstanding sent_req for this FEC to this peer;
//  2. if a prior recv_map exists with a different label and no outstanding
//     request, release the old label to this peer and tear down its FIB
//     entry;
//  3. for each local nexthop whose gateway is an address advertised by this
//     peer, record the new remote label and program the kernel;
//  4. record the mapping in recv_map.
func (l *LDE) RecvLabelMapping(peerID uint32, fec FECKey, label uint32) {
	plib := l.lib.findOrCreateNeighbor(peerID)

	_, hadSentReq := plib.SentReq[fec]
	delete(plib.SentReq, fec)

	if prev, had := plib.RecvMap[fec]; had && prev != label && !hadSentReq {
		l.sendRelease(peerID, fec, prev, false)
		l.sendKLabelChange(fec, false, NoLabel, prev, uint32ToAddr(peerID), 0)
	}

	peerAddr := uint32ToAddr(peerID)
	l.lib.mu.Lock()
	n := l.lib.findOrCreateFEC(fec)
	n.Downstream[peerID] = label
	for i, nh := range n.Nexthops {
		if nh.Gateway != peerAddr {
			continue
		}
		n.Nexthops[i].RemoteLabel = label
		l.sendKLabelChange(fec, true, n.LocalLabel, label, nh.Gateway, 0)
	}
	l.lib.mu.Unlock()

	plib.RecvMap[fec] = label
}

// RecvLabelWithdraw implements LWd.1-4 (spec §4.4): remove any FIB entry
// installed through a nexthop owned by this peer for the FEC, acknowledge
// with a Label Release carrying the withdrawn label (RFC 5036 §3.5.8, always
// sent even if no binding existed), and clear the recv_map entry. A
// wildcard-FEC withdraw repeats this for every FEC currently recorded for
// the peer and answers with a single wildcard Release.
func (l *LDE) RecvLabelWithdraw(peerID uint32, el FECElement, label uint32) {
	plib := l.lib.findOrCreateNeighbor(peerID)

	if el.Wildcard {
		for fec, recvLabel := range plib.RecvMap {
			l.uninstallFromPeer(fec, peerID, recvLabel)
			delete(plib.RecvMap, fec)
		}
		l.sendRelease(peerID, FECKey{}, label, true)
		l.lib.GC()
		return
	}

	recvLabel, had := plib.RecvMap[el.Key]
	if !had {
		recvLabel = NoLabel
	}
	delete(plib.RecvMap, el.Key)
	l.uninstallFromPeer(el.Key, peerID, recvLabel)
	l.sendRelease(peerID, el.Key, label, false)
	l.lib.GC()
}

// uninstallFromPeer clears the remote label LMp.3 recorded for fec through a
// nexthop owned by peerID and, if one was installed, tells the Parent to
// remove it (spec §4.4 LWd step 1).
func (l *LDE) uninstallFromPeer(fec FECKey, peerID uint32, label uint32) {
	if label == NoLabel {
		return
	}
	peerAddr := uint32ToAddr(peerID)
	l.lib.mu.Lock()
	n, ok := l.lib.fecs[fec]
	var gw [4]byte
	found := false
	if ok {
		for i, nh := range n.Nexthops {
			if nh.Gateway == peerAddr {
				gw = nh.Gateway
				n.Nexthops[i].RemoteLabel = NoLabel
				found = true
				break
			}
		}
	}
	l.lib.mu.Unlock()
	if found {
		l.sendKLabelChange(fec, false, NoLabel, label, gw, 0)
	}
}

// RecvLabelRequest implements LRq (spec §4.4): NO_ROUTE when the FEC has no
// nexthop, LOOP_DETECTED when the nexthop resolves back through the
// requesting peer, silent drop of an exact duplicate request, and otherwise
// an immediate Label Mapping reply using the already-allocated local_label,
// with the request-id threaded into the mapping.
func (l *LDE) RecvLabelRequest(peerID uint32, fec FECKey, reqID uint32) {
	l.lib.mu.RLock()
	n, ok := l.lib.fecs[fec]
	l.lib.mu.RUnlock()
	if !ok || len(n.Nexthops) == 0 {
		l.sendNotify(peerID, fec, StatusNoRoute)
		return
	}

	peerAddr := uint32ToAddr(peerID)
	for _, nh := range n.Nexthops {
		if nh.Gateway == peerAddr {
			l.sendNotify(peerID, fec, StatusLoopDetected)
			return
		}
	}

	plib := l.lib.findOrCreateNeighbor(peerID)
	if prev, dup := plib.RecvReq[fec]; dup && prev == reqID {
		return
	}
	plib.RecvReq[fec] = reqID

	if n.LocalLabel == NoLabel {
		return
	}
	n.Upstream[peerID] = n.LocalLabel
	plib.SentMap[fec] = n.LocalLabel
	l.sendMapping(peerID, fec, n.LocalLabel, reqID)
}

// RecvLabelRelease implements LRl (spec §4.4): match the release against
// sent_wdraw and sent_map with the RFC label filter (NO_LABEL matches any
// label, otherwise only an exact match clears the record), and drop the
// matching upstream binding so the FEC can be garbage collected. A
// wildcard-FEC release clears every record for the peer.
func (l *LDE) RecvLabelRelease(peerID uint32, el FECElement, label uint32) {
	plib := l.lib.findOrCreateNeighbor(peerID)
	matches := func(sent uint32) bool { return label == NoLabel || sent == label }

	if el.Wildcard {
		for fec, sent := range plib.SentWdraw {
			if matches(sent) {
				delete(plib.SentWdraw, fec)
				l.clearUpstream(fec, peerID)
			}
		}
		for fec, sent := range plib.SentMap {
			if matches(sent) {
				delete(plib.SentMap, fec)
				l.clearUpstream(fec, peerID)
			}
		}
		l.lib.GC()
		return
	}

	if sent, had := plib.SentWdraw[el.Key]; had && matches(sent) {
		delete(plib.SentWdraw, el.Key)
		l.clearUpstream(el.Key, peerID)
	}
	if sent, had := plib.SentMap[el.Key]; had && matches(sent) {
		delete(plib.SentMap, el.Key)
		l.clearUpstream(el.Key, peerID)
	}
	l.lib.GC()
}

func (l *LDE) clearUpstream(fec FECKey, peerID uint32) {
	l.lib.mu.Lock()
	if n, ok := l.lib.fecs[fec]; ok {
		delete(n.Upstream, peerID)
	}
	l.lib.mu.Unlock()
}
