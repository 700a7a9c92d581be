package bus

import "encoding/binary"

// NeighborEventPayload is the TypeNeighborEvent frame payload: kind(1)
// peer-id(4).
type NeighborEventPayload struct {
	Up     bool
	PeerID uint32
}

func EncodeNeighborEvent(p NeighborEventPayload) []byte {
	buf := make([]byte, 5)
	if p.Up {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:5], p.PeerID)
	return buf
}

func DecodeNeighborEvent(buf []byte) (NeighborEventPayload, bool) {
	if len(buf) < 5 {
		return NeighborEventPayload{}, false
	}
	return NeighborEventPayload{Up: buf[0] != 0, PeerID: binary.BigEndian.Uint32(buf[1:5])}, true
}

// LabelMessagePayload is the shared wire shape for TypeLabelMapping,
// TypeLabelWithdraw, TypeLabelRequest, and TypeLabelRelease frames: peer-id(4)
// label(4, 0xFFFFFFFF when not applicable) req-id(4, 0 when not replying to a
// request) fec-len(2) fec-bytes. ReqID is only meaningful on a Label Mapping
// sent in answer to a Label Request: it threads the request's message id
// into the mapping's Label-Request-Message-ID TLV (spec §4.4 LRq step 4).
type LabelMessagePayload struct {
	PeerID uint32
	Label  uint32
	ReqID  uint32
	FEC    []byte // an already-encoded FEC TLV value (ldp.EncodeFECPrefix/PWid)
}

func EncodeLabelMessage(p LabelMessagePayload) []byte {
	buf := make([]byte, 14+len(p.FEC))
	binary.BigEndian.PutUint32(buf[0:4], p.PeerID)
	binary.BigEndian.PutUint32(buf[4:8], p.Label)
	binary.BigEndian.PutUint32(buf[8:12], p.ReqID)
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(p.FEC)))
	copy(buf[14:], p.FEC)
	return buf
}

func DecodeLabelMessage(buf []byte) (LabelMessagePayload, bool) {
	if len(buf) < 14 {
		return LabelMessagePayload{}, false
	}
	peerID := binary.BigEndian.Uint32(buf[0:4])
	label := binary.BigEndian.Uint32(buf[4:8])
	reqID := binary.BigEndian.Uint32(buf[8:12])
	fecLen := binary.BigEndian.Uint16(buf[12:14])
	if len(buf) < 14+int(fecLen) {
		return LabelMessagePayload{}, false
	}
	return LabelMessagePayload{PeerID: peerID, Label: label, ReqID: reqID, FEC: buf[14 : 14+int(fecLen)]}, true
}

// KRouteChangePayload mirrors an internal/kroute route-table change pushed
// from the Parent to the LDE (spec §4.6).
type KRouteChangePayload struct {
	Add     bool
	Prefix  [4]byte
	PrefixLen uint8
	Gateway [4]byte
	IfIndex uint32
}

func EncodeKRouteChange(p KRouteChangePayload) []byte {
	buf := make([]byte, 14)
	if p.Add {
		buf[0] = 1
	}
	copy(buf[1:5], p.Prefix[:])
	buf[5] = p.PrefixLen
	copy(buf[6:10], p.Gateway[:])
	binary.BigEndian.PutUint32(buf[10:14], p.IfIndex)
	return buf
}

func DecodeKRouteChange(buf []byte) (KRouteChangePayload, bool) {
	if len(buf) < 14 {
		return KRouteChangePayload{}, false
	}
	var p KRouteChangePayload
	p.Add = buf[0] != 0
	copy(p.Prefix[:], buf[1:5])
	p.PrefixLen = buf[5]
	copy(p.Gateway[:], buf[6:10])
	p.IfIndex = binary.BigEndian.Uint32(buf[10:14])
	return p, true
}

// KLabelChangePayload asks the Parent to install/remove an MPLS forwarding
// entry: add(1) prefix(4) len(1) in-label(4) out-label(4) gateway(4)
// ifindex(4) (spec §4.6 KLABEL_CHANGE).
type KLabelChangePayload struct {
	Add       bool
	Prefix    [4]byte
	PrefixLen uint8
	InLabel   uint32
	OutLabel  uint32
	Gateway   [4]byte
	IfIndex   uint32
}

func EncodeKLabelChange(p KLabelChangePayload) []byte {
	buf := make([]byte, 22)
	if p.Add {
		buf[0] = 1
	}
	copy(buf[1:5], p.Prefix[:])
	buf[5] = p.PrefixLen
	binary.BigEndian.PutUint32(buf[6:10], p.InLabel)
	binary.BigEndian.PutUint32(buf[10:14], p.OutLabel)
	copy(buf[14:18], p.Gateway[:])
	binary.BigEndian.PutUint32(buf[18:22], p.IfIndex)
	return buf
}

func DecodeKLabelChange(buf []byte) (KLabelChangePayload, bool) {
	if len(buf) < 22 {
		return KLabelChangePayload{}, false
	}
	var p KLabelChangePayload
	p.Add = buf[0] != 0
	copy(p.Prefix[:], buf[1:5])
	p.PrefixLen = buf[5]
	p.InLabel = binary.BigEndian.Uint32(buf[6:10])
	p.OutLabel = binary.BigEndian.Uint32(buf[10:14])
	copy(p.Gateway[:], buf[14:18])
	p.IfIndex = binary.BigEndian.Uint32(buf[18:22])
	return p, true
}

// PWLabelChangePayload asks the Parent to bind/unbind a pseudowire ioctl on
// the kernel interface: ifindex(4) pw-type(2) nexthop(4) local-label(4)
// remote-label(4) flags(1) add(1) (spec §4.5 KPWLABEL_CHANGE).
type PWLabelChangePayload struct {
	Add         bool
	IfIndex     uint32
	PWType      uint16
	Nexthop     [4]byte
	LocalLabel  uint32
	RemoteLabel uint32
	Flags       uint8
}

func EncodePWLabelChange(p PWLabelChangePayload) []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:4], p.IfIndex)
	binary.BigEndian.PutUint16(buf[4:6], p.PWType)
	copy(buf[6:10], p.Nexthop[:])
	binary.BigEndian.PutUint32(buf[10:14], p.LocalLabel)
	binary.BigEndian.PutUint32(buf[14:18], p.RemoteLabel)
	buf[18] = p.Flags
	if p.Add {
		buf[19] = 1
	}
	return buf
}

func DecodePWLabelChange(buf []byte) (PWLabelChangePayload, bool) {
	if len(buf) < 20 {
		return PWLabelChangePayload{}, false
	}
	var p PWLabelChangePayload
	p.IfIndex = binary.BigEndian.Uint32(buf[0:4])
	p.PWType = binary.BigEndian.Uint16(buf[4:6])
	copy(p.Nexthop[:], buf[6:10])
	p.LocalLabel = binary.BigEndian.Uint32(buf[10:14])
	p.RemoteLabel = binary.BigEndian.Uint32(buf[14:18])
	p.Flags = buf[18]
	p.Add = buf[19] != 0
	return p, true
}

// LabelNotificationPayload is the TypeLabelNotification frame payload: a
// Notification the LDE wants sent to a peer in reply to a Label Request
// that could not be satisfied (spec §4.4 LRq NO_ROUTE/LOOP_DETECTED):
// peer-id(4) status(4) fec-len(2) fec-bytes.
type LabelNotificationPayload struct {
	PeerID uint32
	Status uint32
	FEC    []byte
}

func EncodeLabelNotification(p LabelNotificationPayload) []byte {
	buf := make([]byte, 10+len(p.FEC))
	binary.BigEndian.PutUint32(buf[0:4], p.PeerID)
	binary.BigEndian.PutUint32(buf[4:8], p.Status)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(p.FEC)))
	copy(buf[10:], p.FEC)
	return buf
}

func DecodeLabelNotification(buf []byte) (LabelNotificationPayload, bool) {
	if len(buf) < 10 {
		return LabelNotificationPayload{}, false
	}
	peerID := binary.BigEndian.Uint32(buf[0:4])
	status := binary.BigEndian.Uint32(buf[4:8])
	fecLen := binary.BigEndian.Uint16(buf[8:10])
	if len(buf) < 10+int(fecLen) {
		return LabelNotificationPayload{}, false
	}
	return LabelNotificationPayload{PeerID: peerID, Status: status, FEC: buf[10 : 10+int(fecLen)]}, true
}
