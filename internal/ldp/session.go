package ldp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionConfig carries the negotiable parameters a Session proposes in its
// own Initialization message (spec §4.3).
type SessionConfig struct {
	LocalLSRID     uint32
	LocalLabelSpace uint16
	KeepAlive      uint16
	MaxPDULen      uint16
	LoopDetection  bool
}

// Session drives one neighbor's TCP connection through the session FSM,
// translating FSM actions into PDU reads/writes and timer resets. It owns
// exactly one TCP connection and is driven exclusively by the event loop
// goroutine (spec §5: "exactly one goroutine per process executes protocol
// logic"); this type has no internal locking.
type Session struct {
	cfg SessionConfig
	mgr *Manager
	nbr *Nbr
	lib *LIB

	conn *TCPConn

	inactivityDeadline time.Time
	keepAliveSendAt    time.Time
	keepAliveRecvDeadline time.Time

	nextMsgID uint32

	logger *slog.Logger

	onOperational func(nbr *Nbr)
	onDown        func(nbr *Nbr)
}

func NewSession(cfg SessionConfig, mgr *Manager, lib *LIB, nbr *Nbr, logger *slog.Logger) *Session {
	return &Session{
		cfg:    cfg,
		mgr:    mgr,
		lib:    lib,
		nbr:    nbr,
		logger: logger.With(slog.Uint64("peer_lsr_id", uint64(nbr.LSRID))),
	}
}

func (s *Session) OnOperational(fn func(nbr *Nbr)) { s.onOperational = fn }
func (s *Session) OnDown(fn func(nbr *Nbr))        { s.onDown = fn }

func (s *Session) nextID() uint32 {
	s.nextMsgID++
	return s.nextMsgID
}

// HandleMatchAdj drives MATCH_ADJ into the FSM and, when the neighbor's
// numeric role makes us active and no TCP connection yet exists, dials the
// peer's transport address through dialFn and drives CONNECT_UP itself
// (spec §4.3: active role opens the TCP connection).
func (s *Session) HandleMatchAdj(peerTransport uint32, dialFn func(addr [4]byte) (*TCPConn, error)) error {
	res := s.mgr.TransitionNbr(s.nbr, EventMatchAdj)
	s.applyActions(res.Actions)

	if res.NewState != StatePresent && res.NewState != StateDown {
		return nil // already progressing or operational; nothing to do
	}
	if s.conn != nil {
		return nil
	}

	localTransport := addrToUint32(s.nbr.TransportAddr)
	if !ActiveRoleFor(localTransport, peerTransport) {
		return nil // passive: wait for the peer to connect
	}

	conn, err := dialFn(uint32ToAddr(peerTransport))
	if err != nil {
		return fmt.Errorf("dial transport session: %w", err)
	}
	s.conn = conn
	s.nbr.TCP = conn
	return s.HandleConnectUp(true)
}

// HandleConnectUp drives CONNECT_UP, then immediately sends our own
// Initialization PDU (spec §4.3: "upon CONNECT_UP, send Initialization").
func (s *Session) HandleConnectUp(active bool) error {
	s.nbr.ActiveRole = active
	res := s.mgr.TransitionNbr(s.nbr, EventConnectUp)
	s.applyActions(res.Actions)
	return s.sendInitialization()
}

func (s *Session) sendInitialization() error {
	params := CommonSessionParams{
		ProtoVersion:      Version,
		KeepAlive:         s.cfg.KeepAlive,
		LoopDetection:     s.cfg.LoopDetection,
		MaxPDULen:         s.cfg.MaxPDULen,
		ReceiverLSRID:     s.nbr.LSRID,
		ReceiverLabelSpace: 0,
	}
	tlv := EncodeTLV(nil, TLVCommonSession, false, EncodeCommonSession(params))
	msg := EncodeMessage(nil, MsgInitialization, s.nextID(), tlv)
	pdu := EncodePDU(s.cfg.LocalLSRID, s.cfg.LocalLabelSpace, msg)

	res := s.mgr.TransitionNbr(s.nbr, EventInitSent)
	s.applyActions(res.Actions)

	return s.write(pdu)
}

// HandleInitialization validates a received Initialization message per spec
// §4.3's three checks (protocol version, keepalive range, max-PDU floor),
// negotiates the session parameters, and drives the FSM with the
// role-appropriate INIT_RCVD event.
func (s *Session) HandleInitialization(msg Message) error {
	var params CommonSessionParams
	found := false
	for _, t := range msg.TLVs {
		if t.Type == TLVCommonSession {
			p, err := DecodeCommonSession(t.Value)
			if err != nil {
				return s.fatalf(StatusMissingMsgParm, err)
			}
			params = p
			found = true
			break
		}
	}
	if !found {
		return s.fatalf(StatusMissingMsgParm, fmt.Errorf("ldp: initialization message missing common session parameters tlv"))
	}
	if params.ProtoVersion != Version {
		return s.fatalf(StatusBadProtoVer, fmt.Errorf("%w: got %d", ErrBadVersion, params.ProtoVersion))
	}
	if params.KeepAlive != 0 && params.KeepAlive < MinKeepAlive {
		return s.fatalf(StatusKeepaliveTmr, fmt.Errorf("ldp: keepalive %d below minimum %d", params.KeepAlive, MinKeepAlive))
	}
	if params.MaxPDULen != 0 && params.MaxPDULen < MinMaxPDULen {
		return s.fatalf(StatusBadPDULen, fmt.Errorf("ldp: max pdu len %d below floor %d", params.MaxPDULen, MinMaxPDULen))
	}

	s.nbr.NegotiatedKeepAlive = min16(s.cfg.KeepAlive, orDefault16(params.KeepAlive, s.cfg.KeepAlive))
	s.nbr.NegotiatedMaxPDU = min16(s.cfg.MaxPDULen, orDefault16(params.MaxPDULen, s.cfg.MaxPDULen))

	event := EventInitRcvdPassive
	if s.nbr.ActiveRole {
		event = EventInitRcvdActive
	}
	res := s.mgr.TransitionNbr(s.nbr, event)
	s.applyActions(res.Actions)

	if res.NewState == StateOpenRec {
		return s.sendKeepAlive()
	}
	return nil
}

// SendMessage frames and writes an arbitrary message on this session's
// connection, allocating the next message ID. It is the entry point the
// label-distribution layer uses to emit Label Mapping/Request/Withdraw/
// Release and PW Notification messages, which carry content only the
// caller (LDE/PW layer) knows how to build (spec §4.4, §4.5).
func (s *Session) SendMessage(typ MessageType, tlvPayload []byte) error {
	pdu := EncodePDU(s.cfg.LocalLSRID, s.cfg.LocalLabelSpace, EncodeMessage(nil, typ, s.nextID(), tlvPayload))
	return s.write(pdu)
}

// Nbr exposes the neighbor this session drives, for callers that need its
// identity or negotiated parameters outside the package.
func (s *Session) Nbr() *Nbr { return s.nbr }

// Attach binds an already-accepted TCP connection to this session, for the
// passive side of session establishment where the event loop's listener
// accepts the connection before the FSM has reached CONNECT_UP.
func (s *Session) Attach(conn *TCPConn) {
	s.conn = conn
	s.nbr.TCP = conn
}

// HasConn reports whether a TCP connection is already attached.
func (s *Session) HasConn() bool { return s.conn != nil }

func (s *Session) sendKeepAlive() error {
	pdu := EncodePDU(s.cfg.LocalLSRID, s.cfg.LocalLabelSpace, BuildKeepAlive(s.nextID()))
	return s.write(pdu)
}

// HandlePDU drives PDU_RCVD and dispatches every message in the PDU to the
// appropriate handler (spec §4.3/§4.4 message dispatch table). KeepAlive
// messages additionally drive KEEPALIVE_RCVD for the OPENREC->OPERATIONAL
// edge.
func (s *Session) HandlePDU(pdu *PDU, dispatchLabel func(msg Message) error) error {
	res := s.mgr.TransitionNbr(s.nbr, EventPDURcvd)
	s.applyActions(res.Actions)

	for _, msg := range pdu.Messages {
		switch msg.Type {
		case MsgInitialization:
			if err := s.HandleInitialization(msg); err != nil {
				return err
			}
		case MsgKeepAlive:
			kres := s.mgr.TransitionNbr(s.nbr, EventKeepAliveRcvd)
			s.applyActions(kres.Actions)
			if kres.NewState == StateOperational && s.onOperational != nil {
				s.onOperational(s.nbr)
			}
		case MsgNotification:
			s.handleNotification(msg)
		default:
			if err := dispatchLabel(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) handleNotification(msg Message) {
	for _, t := range msg.TLVs {
		if t.Type != TLVStatus {
			continue
		}
		sv, err := DecodeStatus(t.Value)
		if err != nil {
			continue
		}
		if sv.Status.Fatal() {
			s.logger.Warn("received fatal notification, closing session", slog.Uint64("status", uint64(sv.Status.Value())))
			s.Close()
		}
	}
}

// fatalf sends a fatal Notification and closes the session, per spec §7
// taxon 1 (malformed/invalid PDU content terminates the session).
func (s *Session) fatalf(status StatusCode, err error) error {
	notif := BuildNotification(s.nextID(), StatusValue{Status: status.WithFatal(), MsgType: 0})
	pdu := EncodePDU(s.cfg.LocalLSRID, s.cfg.LocalLabelSpace, notif)
	_ = s.write(pdu)
	s.Close()
	return &ProtocolError{Status: status.WithFatal(), Err: err}
}

// Close drives CLOSE_SESSION and tears down the TCP connection.
func (s *Session) Close() {
	res := s.mgr.TransitionNbr(s.nbr, EventCloseSession)
	s.applyActions(res.Actions)
	if s.conn != nil {
		_ = s.conn.Conn.Close()
		s.conn = nil
		s.nbr.TCP = nil
	}
	if s.onDown != nil {
		s.onDown(s.nbr)
	}
}

// applyActions executes the non-I/O side effects of an FSM transition;
// I/O-producing actions (SendInitActive/Passive, SendKeepAlive) are handled
// by their respective call sites above since they need the message content,
// not just the action tag.
func (s *Session) applyActions(actions []SessionAction) {
	for _, a := range actions {
		switch a {
		case ActionStartInactivityTimer, ActionRestartInactivityTimer:
			s.inactivityDeadline = time.Now().Add(holdTimeDuration(s.nbr))
		case ActionRestartKeepAliveTimeout:
			s.keepAliveRecvDeadline = time.Now().Add(time.Duration(s.nbr.NegotiatedKeepAlive) * time.Second)
		case ActionRestartKeepAliveTimer:
			s.keepAliveSendAt = time.Now().Add(KeepAliveInterval(s.nbr.NegotiatedKeepAlive))
		case ActionMarkOperational:
			s.keepAliveRecvDeadline = time.Now().Add(time.Duration(s.nbr.NegotiatedKeepAlive) * time.Second)
			s.keepAliveSendAt = time.Now().Add(KeepAliveInterval(s.nbr.NegotiatedKeepAlive))
		}
	}
}

func holdTimeDuration(n *Nbr) time.Duration {
	if len(n.Adjacencies) == 0 {
		return time.Duration(LinkDefaultHoldTime) * time.Second
	}
	return 0 // inactivity timer scope belongs to discovery.go's per-adjacency tracking
}

func (s *Session) write(pdu []byte) error {
	if s.conn == nil {
		return fmt.Errorf("ldp: write on neighbor %d with no tcp connection", s.nbr.LSRID)
	}
	_, err := s.conn.Conn.Write(pdu)
	if err == nil {
		res := s.mgr.TransitionNbr(s.nbr, EventPDUSent)
		s.applyActions(res.Actions)
	}
	return err
}

// ReadLoop pumps DecodePDU over conn's stream, assembling PDUs from an
// internal buffer and calling handle for each one. It returns when ctx is
// canceled or the connection errs/EOFs (spec §5: one reader per source,
// framing only — protocol handling happens in handle, which runs back on the
// event-loop goroutine via the caller's dispatch).
func ReadLoop(ctx context.Context, conn *TCPConn, expectedLSRID uint32, handle func(*PDU) error) error {
	buf := bytes.NewBuffer(nil)
	tmp := make([]byte, MaxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := conn.Conn.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
			for {
				pdu, consumed, derr := DecodePDU(buf.Bytes(), expectedLSRID)
				if derr != nil {
					if IsInsufficientData(derr) {
						break
					}
					return derr
				}
				if herr := handle(pdu); herr != nil {
					return herr
				}
				buf.Next(consumed)
			}
		}
		if err != nil {
			return err
		}
	}
}

func min16(a, b uint16) uint16 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func orDefault16(v, def uint16) uint16 {
	if v == 0 {
		return def
	}
	return v
}
