package ldp

import (
	"errors"
	"log/slog"
)

// PWStatus mirrors the RFC 4447 §5.4.3 pseudowire status bitmask carried in
// the Status TLV of a PW Label Mapping/Notification.
type PWStatus uint32

const (
	PWStatusUp                 PWStatus = 0
	PWForwardingNotXconnect    PWStatus = 1 << 0
	PWLocalRxFault             PWStatus = 1 << 1
	PWLocalTxFault             PWStatus = 1 << 2
	PWPeerStatusNotForwarding  PWStatus = 1 << 3 // derived locally, not a wire bit
)

var (
	ErrPWTypeMismatch = errors.New("ldp: pseudowire type mismatch between local and peer configuration")
	ErrPWCWordMismatch = errors.New("ldp: pseudowire control-word negotiation failed")
	ErrPWMTUMismatch  = errors.New("ldp: pseudowire interface mtu mismatch")
)

// PW is one configured or dynamically signaled pseudowire (spec §4.5,
// SUPPLEMENTED FEATURES: fib-couple/decouple symmetry). It binds a local
// attachment circuit to a remote PWid FEC over a specific neighbor.
type PW struct {
	Key          FECKey
	PeerID       uint32
	LocalIfName  string
	LocalMTU     uint16
	RemoteMTU    uint16
	CWordWanted  bool
	CWordAgreed  bool
	LocalLabel   uint32
	RemoteLabel  uint32
	LocalStatus  PWStatus
	RemoteStatus PWStatus
	Coupled      bool // fib-couple: eligible for installation in the kernel mirror

	installed bool // mirrors whether the Parent currently has this pw's ioctl binding
}

// Up reports whether both directions of the pseudowire are usable: labels
// exchanged both ways and neither side reports a fault (RFC 4447 §5.4.3).
func (p *PW) Up() bool {
	return p.LocalLabel != NoLabel && p.RemoteLabel != NoLabel &&
		p.LocalStatus == PWStatusUp && p.RemoteStatus == PWStatusUp
}

// PWManager implements RFC 4447 signaling on top of the shared LDE label
// procedures: it negotiates control word and MTU via the FEC element's
// interface-parameter sub-TLVs and tracks per-PW status independently of
// the generic FECNode.Upstream/Downstream maps (a pseudowire additionally
// needs the richer liveness state the generic label procedures don't track).
type PWManager struct {
	lde *LDE
	pws map[FECKey]*PW

	onStatusChange func(pw *PW)
	sendInstall    func(pw *PW, add bool)

	logger *slog.Logger
}

func NewPWManager(lde *LDE, logger *slog.Logger) *PWManager {
	return &PWManager{
		lde:    lde,
		pws:    make(map[FECKey]*PW),
		logger: logger.With(slog.String("component", "ldp.pw")),
	}
}

func (m *PWManager) OnStatusChange(fn func(pw *PW)) { m.onStatusChange = fn }

// OnInstall wires the Parent's pseudowire ioctl binding (spec §4.5
// KPWLABEL_CHANGE): called with add=true when pw becomes up while
// fib-coupled, and add=false when it stops being either.
func (m *PWManager) OnInstall(fn func(pw *PW, add bool)) { m.sendInstall = fn }

// reconcileInstall asserts or retracts the kernel binding for pw after any
// state change that could affect Up() or Coupled, and is a no-op if nothing
// changed since the last call.
func (m *PWManager) reconcileInstall(pw *PW) {
	if m.sendInstall == nil {
		return
	}
	want := pw.Up() && pw.Coupled
	if want == pw.installed {
		return
	}
	pw.installed = want
	m.sendInstall(pw, want)
}

// Configure creates or updates a locally-configured pseudowire and signals
// it to peerID if it is not already signaled (spec §4.5).
func (m *PWManager) Configure(key FECKey, peerID uint32, localIfName string, mtu uint16, cword bool) *PW {
	pw, ok := m.pws[key]
	if !ok {
		pw = &PW{Key: key, PeerID: peerID, LocalMTU: mtu, CWordWanted: cword, LocalLabel: NoLabel, RemoteLabel: NoLabel}
		m.pws[key] = pw
	}
	pw.LocalIfName = localIfName
	pw.LocalMTU = mtu
	pw.CWordWanted = cword

	if pw.LocalLabel == NoLabel {
		pw.LocalLabel = m.lde.alloc.Allocate()
		m.lde.sendMapping(peerID, key, pw.LocalLabel, 0)
	}
	return pw
}

// RecvPWMapping implements the PW half of LMp.1-4 (RFC 4447 §6.2). Only the
// interface MTU is checked: when both sides carry one and they differ, it
// calls sendPWStatus with PWForwardingNotXconnect and returns
// ErrPWMTUMismatch, without sending a Label Release. The PW type is not
// checked. The control word is agreed only when both sides set it; a
// disagreement produces no error and no Label Release. The remote label is
// left as NoLabel until SetRemoteLabel records it.
func (m *PWManager) RecvPWMapping(peerID uint32, el FECElement) error {
	pw, ok := m.pws[el.Key]
	if !ok {
		// No local configuration for this PWid yet; record it for when
		// Configure is called (out-of-order signaling, common at startup).
		pw = &PW{Key: el.Key, PeerID: peerID, LocalLabel: NoLabel, RemoteLabel: NoLabel}
		m.pws[el.Key] = pw
	}

	if pw.LocalMTU != 0 && el.PWIfMTU != 0 && pw.LocalMTU != el.PWIfMTU {
		m.sendPWStatus(pw, PWForwardingNotXconnect)
		return ErrPWMTUMismatch
	}
	pw.RemoteMTU = el.PWIfMTU
	pw.CWordAgreed = pw.CWordWanted && el.PWCWord

	wasUp := pw.Up()
	pw.RemoteLabel = NoLabel // set by SetRemoteLabel from the Generic Label TLV decoded alongside el
	if !wasUp && pw.Up() && m.onStatusChange != nil {
		m.onStatusChange(pw)
	}
	m.reconcileInstall(pw)
	return nil
}

// SetRemoteLabel records the label carried alongside the FEC element in a PW
// Label Mapping message (the generic label TLV is decoded separately from
// the FEC TLV per RFC 5036 §3.4.1, so callers pass it in after RecvPWMapping).
func (m *PWManager) SetRemoteLabel(key FECKey, label uint32) {
	pw, ok := m.pws[key]
	if !ok {
		return
	}
	wasUp := pw.Up()
	pw.RemoteLabel = label
	if !wasUp && pw.Up() && m.onStatusChange != nil {
		m.onStatusChange(pw)
	}
	m.reconcileInstall(pw)
}

// RecvPWStatus implements RFC 4447 §5.4.3's Notification-carried PW status
// update: track the peer's reported status and raise/clear the fault.
func (m *PWManager) RecvPWStatus(key FECKey, status PWStatus) {
	pw, ok := m.pws[key]
	if !ok {
		return
	}
	wasUp := pw.Up()
	pw.RemoteStatus = status
	if wasUp != pw.Up() && m.onStatusChange != nil {
		m.onStatusChange(pw)
	}
	m.reconcileInstall(pw)
}

// sendPWStatus sends a PW status Notification (non-fatal) for local faults,
// e.g. attachment-circuit down (RFC 4447 §5.4.3).
func (m *PWManager) sendPWStatus(pw *PW, status PWStatus) {
	pw.LocalStatus = status
	if m.onStatusChange != nil {
		m.onStatusChange(pw)
	}
	m.reconcileInstall(pw)
}

// FibCouple marks pw as installed in the kernel forwarding mirror (spec
// §4.6/§12 supplement: fib-couple/decouple applies symmetrically to both
// prefix FECs and pseudowires).
func (m *PWManager) FibCouple(key FECKey)   { m.setCoupled(key, true) }
func (m *PWManager) FibDecouple(key FECKey) { m.setCoupled(key, false) }

func (m *PWManager) setCoupled(key FECKey, coupled bool) {
	pw, ok := m.pws[key]
	if !ok {
		return
	}
	pw.Coupled = coupled
	m.reconcileInstall(pw)
}

func (m *PWManager) PW(key FECKey) (*PW, bool) {
	pw, ok := m.pws[key]
	return pw, ok
}

func (m *PWManager) PWs() []*PW {
	out := make([]*PW, 0, len(m.pws))
	for _, pw := range m.pws {
		out = append(out, pw)
	}
	return out
}
