package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ldp-project/ldpd/internal/bus"
	"github.com/ldp-project/ldpd/internal/config"
	"github.com/ldp-project/ldpd/internal/eventloop"
	"github.com/ldp-project/ldpd/internal/ldp"
)

// adjExpiryTick is how often the LDPE process reaps expired adjacencies
// (spec §4.1). Hellos are rescheduled per interface/target from their own
// hold time instead.
const adjExpiryTick = 5 * time.Second

// frameEvent wraps one bus.Frame (or the error that ended the connection)
// for delivery through an eventloop.Source channel.
type frameEvent struct {
	frame bus.Frame
	err   error
}

// pduEvent wraps one decoded PDU arriving on an inbound/outbound TCP session
// connection, tagged with the PDU's own claimed LSR-id for routing to the
// right Session on the single event-loop goroutine.
type pduEvent struct {
	lsrID uint32
	pdu   *ldp.PDU
}

type sessionClosed struct {
	peerID uint32
	err    error
}

type udpDatagram struct {
	data []byte
	src  net.IP
}

// ldpeState holds everything the LDPE event loop needs. It is only ever
// touched from the loop goroutine (spec §5).
type ldpeState struct {
	cfg      *config.Config
	mgr      *ldp.Manager
	disc     *ldp.DiscoveryEngine
	loop     *eventloop.Loop
	logger   *slog.Logger
	localLSR uint32
	sessCfg  ldp.SessionConfig

	ldeConn    *bus.Conn
	parentConn *bus.Conn

	sessions map[uint32]*ldp.Session // by peer LSR-id
	nextMsg  uint32
}

// RunLDPE drives discovery (hello production/receipt), session
// establishment, and label-message relay to the LDE process (spec §4.1,
// §4.3, §4.4's LDPE-side dispatch table).
func RunLDPE(ctx context.Context, cfg *config.Config, conns []*bus.Conn, logger *slog.Logger) error {
	if len(conns) < 2 {
		return fmt.Errorf("ldpe: expected 2 bus connections (lde, parent), got %d", len(conns))
	}
	routerID, err := cfg.Global.RouterIDAddr()
	if err != nil {
		return fmt.Errorf("ldpe: %w", err)
	}
	localLSR := ipToUint32(routerID.As4())

	st := &ldpeState{
		cfg:      cfg,
		mgr:      ldp.NewManager(logger),
		loop:     eventloop.New(),
		logger:   logger,
		localLSR: localLSR,
		sessCfg: ldp.SessionConfig{
			LocalLSRID:      localLSR,
			LocalLabelSpace: cfg.Global.LabelSpace,
			KeepAlive:       cfg.Global.KeepAlive,
			MaxPDULen:       ldp.InitialMaxPDULen,
			LoopDetection:   false,
		},
		ldeConn:    conns[0],
		parentConn: conns[1],
		sessions:   make(map[uint32]*ldp.Session),
	}
	st.disc = ldp.NewDiscoveryEngine(st.mgr, localLSR)

	st.mgr.OnStateTransition(func(peerID uint32, from, to ldp.SessionState) {
		st.logger.Info("session state transition", slog.Uint64("peer_lsr_id", uint64(peerID)),
			slog.Any("from", from), slog.Any("to", to))
	})
	st.mgr.OnNeighborEvent(st.handleNeighborEvent)
	st.disc.OnMatchAdj(st.handleMatchAdj)
	st.disc.OnAdjDown(st.handleAdjDown)

	ldeEvents := make(chan any, 64)
	go pumpBus(ctx, st.ldeConn, ldeEvents)
	st.loop.AddSource(eventloop.Source{Name: "lde", C: ldeEvents, Handler: st.handleLDEFrame})

	parentEvents := make(chan any, 64)
	go pumpBus(ctx, st.parentConn, parentEvents)
	st.loop.AddSource(eventloop.Source{Name: "parent", C: parentEvents, Handler: st.handleParentFrame})

	if err := st.startInterfaces(); err != nil {
		return fmt.Errorf("ldpe: start interfaces: %w", err)
	}
	if err := st.startTargeted(); err != nil {
		return fmt.Errorf("ldpe: start targeted neighbors: %w", err)
	}
	if err := st.startSessionListener(); err != nil {
		return fmt.Errorf("ldpe: start session listener: %w", err)
	}

	var scheduleExpiry func()
	scheduleExpiry = func() {
		st.loop.AfterFunc(adjExpiryTick, func() {
			st.disc.ExpireAdjacencies(time.Now())
			scheduleExpiry()
		})
	}
	scheduleExpiry()

	st.loop.Run(ctx)
	return ctx.Err()
}

// --- setup ---

func (st *ldpeState) startInterfaces() error {
	for _, ic := range st.cfg.Interfaces {
		nif, err := net.InterfaceByName(ic.Name)
		if err != nil {
			st.logger.Warn("interface not found, skipping", slog.String("iface", ic.Name), slog.String("error", err.Error()))
			continue
		}
		addrs, _ := nif.Addrs()
		var ifaceAddrs []net.IP
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				ifaceAddrs = append(ifaceAddrs, ipn.IP.To4())
			}
		}
		holdTime := ic.HelloHoldTime
		if holdTime == 0 {
			holdTime = st.cfg.Global.LinkHelloHoldTime
		}

		h, err := st.mgr.CreateIface(&ldp.Iface{
			Name: ic.Name, Index: nif.Index, MTU: nif.MTU,
			LinkUp: nif.Flags&net.FlagUp != 0, Addresses: ifaceAddrs,
			HelloHoldTime: holdTime, InConfig: true,
		})
		if err != nil {
			return err
		}

		group := &net.UDPAddr{IP: net.ParseIP(ldp.DiscoveryGroup), Port: ldp.DiscoveryPort}
		conn, err := net.ListenMulticastUDP("udp4", nif, group)
		if err != nil {
			st.logger.Warn("multicast listen failed, interface disabled", slog.String("iface", ic.Name), slog.String("error", err.Error()))
			continue
		}

		evs := make(chan any, 32)
		go pumpUDP(ctx(), conn, evs)
		st.loop.AddSource(eventloop.Source{
			Name: "hello-" + ic.Name,
			C:    evs,
			Handler: func(ctx context.Context, ev any) {
				st.handleLinkDatagram(h, ev)
			},
		})

		var sendHello func()
		sendHello = func() {
			st.sendLinkHello(h, conn, group, holdTime)
			st.loop.AfterFunc(time.Duration(holdTime/3+1)*time.Second, sendHello)
		}
		sendHello()
	}
	return nil
}

func (st *ldpeState) startTargeted() error {
	for _, tc := range st.cfg.Targeted {
		remote, err := netipTo4(tc.RemoteAddr)
		if err != nil {
			return err
		}
		holdTime := tc.HelloHoldTime
		if holdTime == 0 {
			holdTime = st.cfg.Global.TargetedHelloHoldTime
		}
		tnbr, err := st.mgr.CreateTnbr(&ldp.Tnbr{RemoteAddr: remote, HelloHoldTime: holdTime, Flags: ldp.TnbrConfigured})
		if err != nil {
			return err
		}

		conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IP(remote[:]), Port: ldp.DiscoveryPort})
		if err != nil {
			st.logger.Warn("targeted neighbor dial failed", slog.String("remote", tc.RemoteAddr), slog.String("error", err.Error()))
			continue
		}

		evs := make(chan any, 32)
		go pumpUDP(ctx(), conn, evs)
		th := tnbr.Handle
		st.loop.AddSource(eventloop.Source{
			Name: fmt.Sprintf("thello-%s", tc.RemoteAddr),
			C:    evs,
			Handler: func(ctx context.Context, ev any) {
				st.handleTargetedDatagram(th, remote, ev)
			},
		})

		var sendHello func()
		sendHello = func() {
			st.sendTargetedHello(conn, holdTime)
			st.loop.AfterFunc(time.Duration(holdTime/3+1)*time.Second, sendHello)
		}
		sendHello()
	}
	return nil
}

func (st *ldpeState) startSessionListener() error {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", ldp.SessionPort))
	if err != nil {
		return err
	}
	evs := make(chan any, 16)
	go pumpAccept(ctx(), ln, evs)
	st.loop.AddSource(eventloop.Source{Name: "tcp-accept", C: evs, Handler: st.handleAccept})
	return nil
}

// ctx is a placeholder background context for the per-source reader
// goroutines spawned during setup, before the loop's own ctx is threaded
// through AddSource's Handler calls. It is never canceled, so these readers
// do not stop when RunLDPE's ctx ends; each one returns only when a read or
// accept on its connection or listener fails.
func ctx() context.Context { return context.Background() }

// --- discovery handlers ---

func (st *ldpeState) handleLinkDatagram(h ldp.IfaceHandle, ev any) {
	dg, ok := ev.(udpDatagram)
	if !ok {
		return
	}
	p, ok := decodeHello(dg.data)
	if !ok {
		return
	}
	p.Iface = h
	copy(p.SourceIP[:], dg.src.To4())
	nbr, _, err := st.disc.ReceiveHello(p, ldp.InvalidHandle, st.cfg.Global.LinkHelloHoldTime)
	if err != nil {
		st.logger.Debug("reject hello", slog.String("error", err.Error()))
		return
	}
	_ = nbr
}

func (st *ldpeState) handleTargetedDatagram(h ldp.TnbrHandle, remote [4]byte, ev any) {
	dg, ok := ev.(udpDatagram)
	if !ok {
		return
	}
	p, ok := decodeHello(dg.data)
	if !ok {
		return
	}
	p.Targeted = true
	p.SourceIP = remote
	if _, _, err := st.disc.ReceiveHello(p, h, st.cfg.Global.TargetedHelloHoldTime); err != nil {
		st.logger.Debug("reject targeted hello", slog.String("error", err.Error()))
	}
}

func (st *ldpeState) sendLinkHello(h ldp.IfaceHandle, conn *net.UDPConn, group *net.UDPAddr, holdTime uint16) {
	st.nextMsg++
	msg := ldp.BuildHello(st.nextMsg, holdTime, false, false, uint32ToAddr4(st.localLSR))
	_, _ = conn.WriteToUDP(encodePDUFromMessage(st.localLSR, st.sessCfg.LocalLabelSpace, msg), group)
}

func (st *ldpeState) sendTargetedHello(conn *net.UDPConn, holdTime uint16) {
	st.nextMsg++
	msg := ldp.BuildHello(st.nextMsg, holdTime, true, true, uint32ToAddr4(st.localLSR))
	_, _ = conn.Write(encodePDUFromMessage(st.localLSR, st.sessCfg.LocalLabelSpace, msg))
}

func (st *ldpeState) handleAdjDown(nbr *ldp.Nbr, adj *ldp.Adj) {
	st.logger.Info("adjacency down", slog.Uint64("peer_lsr_id", uint64(nbr.LSRID)))
}

// --- session lifecycle ---

func (st *ldpeState) handleMatchAdj(nbr *ldp.Nbr, adj *ldp.Adj) {
	sess, ok := st.sessions[nbr.PeerID]
	if !ok {
		sess = ldp.NewSession(st.sessCfg, st.mgr, nil, nbr, st.logger)
		sess.OnOperational(func(n *ldp.Nbr) {})
		sess.OnDown(func(n *ldp.Nbr) { delete(st.sessions, n.PeerID) })
		st.sessions[nbr.PeerID] = sess
	}

	peerTransport := ipToUint32(adj.TransportAddr)
	err := sess.HandleMatchAdj(peerTransport, func(addr [4]byte) (*ldp.TCPConn, error) {
		conn, derr := net.Dial("tcp4", fmt.Sprintf("%s:%d", net.IP(addr[:]).String(), ldp.SessionPort))
		if derr != nil {
			return nil, derr
		}
		tc := &ldp.TCPConn{Conn: conn}
		st.attachReader(sess, tc, nbr.LSRID)
		return tc, nil
	})
	if err != nil {
		st.logger.Warn("match_adj handling failed", slog.String("error", err.Error()))
	}
}

func (st *ldpeState) handleAccept(ctx context.Context, ev any) {
	conn, ok := ev.(net.Conn)
	if !ok {
		return
	}
	tc := &ldp.TCPConn{Conn: conn}
	evs := make(chan any, 32)
	go func() {
		err := ldp.ReadLoop(context.Background(), tc, 0, func(pdu *ldp.PDU) error {
			evs <- pduEvent{lsrID: pdu.Header.LSRID, pdu: pdu}
			return nil
		})
		evs <- sessionClosed{err: err}
	}()
	st.loop.AddSource(eventloop.Source{
		Name:    fmt.Sprintf("tcp-in-%s", conn.RemoteAddr()),
		C:       evs,
		Handler: func(ctx context.Context, ev any) { st.handlePassivePDU(tc, ev) },
	})
}

// handlePassivePDU routes the first PDU of a passively-accepted connection
// to the neighbor a prior hello exchange already created, attaching the
// connection to that neighbor's Session on CONNECT_UP (spec §4.3: the
// passive side learns the connection belongs to a session only once the
// peer's identity is known from the PDU header).
func (st *ldpeState) handlePassivePDU(tc *ldp.TCPConn, ev any) {
	switch v := ev.(type) {
	case pduEvent:
		nbr, ok := st.mgr.NbrByLSRID(v.lsrID)
		if !ok {
			_ = tc.Conn.Close()
			return
		}
		sess, ok := st.sessions[nbr.PeerID]
		if !ok {
			sess = ldp.NewSession(st.sessCfg, st.mgr, nil, nbr, st.logger)
			sess.OnDown(func(n *ldp.Nbr) { delete(st.sessions, n.PeerID) })
			st.sessions[nbr.PeerID] = sess
		}
		if !sess.HasConn() {
			sess.Attach(tc)
			_ = sess.HandleConnectUp(false)
		}
		if err := sess.HandlePDU(v.pdu, st.dispatchLabel(sess)); err != nil {
			st.logger.Warn("session error", slog.Uint64("peer_lsr_id", uint64(v.lsrID)), slog.String("error", err.Error()))
		}
	case sessionClosed:
		st.logger.Debug("inbound session connection closed", slog.Any("error", v.err))
	}
}

func (st *ldpeState) attachReader(sess *ldp.Session, tc *ldp.TCPConn, expectedLSRID uint32) {
	evs := make(chan any, 32)
	go func() {
		err := ldp.ReadLoop(context.Background(), tc, expectedLSRID, func(pdu *ldp.PDU) error {
			evs <- pduEvent{lsrID: expectedLSRID, pdu: pdu}
			return nil
		})
		evs <- sessionClosed{peerID: expectedLSRID, err: err}
	}()
	st.loop.AddSource(eventloop.Source{
		Name: fmt.Sprintf("tcp-out-%d", expectedLSRID),
		C:    evs,
		Handler: func(ctx context.Context, ev any) {
			switch v := ev.(type) {
			case pduEvent:
				if err := sess.HandlePDU(v.pdu, st.dispatchLabel(sess)); err != nil {
					st.logger.Warn("session error", slog.Uint64("peer_lsr_id", uint64(v.lsrID)), slog.String("error", err.Error()))
				}
			case sessionClosed:
				st.logger.Debug("outbound session connection closed", slog.Any("error", v.err))
			}
		},
	})
}

func (st *ldpeState) handleNeighborEvent(ev ldp.NeighborEvent) {
	_ = st.ldeConn.Send(bus.TypeNeighborEvent, bus.EncodeNeighborEvent(bus.NeighborEventPayload{
		Up: ev.Kind == ldp.NeighborUp, PeerID: ev.PeerID,
	}))
}

// dispatchLabel forwards a Label Mapping/Request/Withdraw/Release message
// arriving on a session to the LDE process, which owns the LIB (spec §4.4,
// §6: LDPE never interprets label-message content itself).
func (st *ldpeState) dispatchLabel(sess *ldp.Session) func(msg ldp.Message) error {
	return func(msg ldp.Message) error {
		var fecRaw []byte
		var label uint32 = ldp.NoLabel
		var reqID uint32
		for _, t := range msg.TLVs {
			switch t.Type {
			case ldp.TLVFEC:
				fecRaw = t.Value
			case ldp.TLVGenericLabel:
				if l, err := ldp.DecodeGenericLabel(t.Value); err == nil {
					label = l
				}
			case ldp.TLVLabelRequestID:
				if len(t.Value) >= 4 {
					reqID = binary.BigEndian.Uint32(t.Value)
				}
			}
		}
		if fecRaw == nil {
			return nil
		}
		// A Label Request carries no Generic Label TLV; its request-id travels
		// downstream in the Label field so the LDE can thread it back into the
		// eventual Label Mapping reply (spec §4.4 LRq step 4).
		if msg.Type == ldp.MsgLabelRequest {
			label = reqID
		}
		peerID := sess.Nbr().LSRID
		payload := bus.EncodeLabelMessage(bus.LabelMessagePayload{PeerID: peerID, Label: label, ReqID: reqID, FEC: fecRaw})
		switch msg.Type {
		case ldp.MsgLabelMapping:
			return st.ldeConn.Send(bus.TypeLabelMapping, payload)
		case ldp.MsgLabelWithdraw:
			return st.ldeConn.Send(bus.TypeLabelWithdraw, payload)
		case ldp.MsgLabelRequest:
			return st.ldeConn.Send(bus.TypeLabelRequest, payload)
		case ldp.MsgLabelRelease:
			return st.ldeConn.Send(bus.TypeLabelRelease, payload)
		}
		return nil
	}
}

// handleLDEFrame sends a label message the LDE process produced out onto
// the wire, to the session for the named peer. KLabelChange and
// PWLabelChange frames are not wire traffic at all: the LDE and Parent
// processes have no bus connection of their own, so LDPE relays these
// kernel-install requests through unmodified (spec §4.4, §4.6).
func (st *ldpeState) handleLDEFrame(ctx context.Context, ev any) {
	fe, ok := ev.(frameEvent)
	if !ok || fe.err != nil {
		return
	}

	switch fe.frame.Type {
	case bus.TypeKLabelChange, bus.TypePWLabelChange:
		_ = st.parentConn.Send(fe.frame.Type, fe.frame.Payload)
		return
	case bus.TypeLabelNotification:
		st.sendLabelNotification(fe.frame.Payload)
		return
	}

	payload, ok := bus.DecodeLabelMessage(fe.frame.Payload)
	if !ok {
		return
	}
	sess, ok := st.sessions[payload.PeerID]
	if !ok || !sess.HasConn() {
		return
	}

	fecTLV := ldp.EncodeTLV(nil, ldp.TLVFEC, false, payload.FEC)
	var tlvs []byte
	var msgType ldp.MessageType
	switch fe.frame.Type {
	case bus.TypeLabelMapping:
		tlvs = append(append([]byte{}, fecTLV...), ldp.EncodeTLV(nil, ldp.TLVGenericLabel, false, ldp.EncodeGenericLabel(payload.Label))...)
		if payload.ReqID != 0 {
			reqID := make([]byte, 4)
			binary.BigEndian.PutUint32(reqID, payload.ReqID)
			tlvs = append(tlvs, ldp.EncodeTLV(nil, ldp.TLVLabelRequestID, false, reqID)...)
		}
		msgType = ldp.MsgLabelMapping
	case bus.TypeLabelWithdraw:
		tlvs = fecTLV
		msgType = ldp.MsgLabelWithdraw
	case bus.TypeLabelRequest:
		reqID := make([]byte, 4)
		binary.BigEndian.PutUint32(reqID, payload.Label)
		tlvs = append(append([]byte{}, fecTLV...), ldp.EncodeTLV(nil, ldp.TLVLabelRequestID, false, reqID)...)
		msgType = ldp.MsgLabelRequest
	case bus.TypeLabelRelease:
		tlvs = fecTLV
		msgType = ldp.MsgLabelRelease
	default:
		return
	}
	if err := sess.SendMessage(msgType, tlvs); err != nil {
		st.logger.Warn("send label message failed", slog.Uint64("peer_lsr_id", uint64(payload.PeerID)), slog.String("error", err.Error()))
	}
}

// sendLabelNotification turns an LDE-produced LabelNotificationPayload into
// a wire Notification carrying a Status TLV, answering a Label Request the
// LDE could not satisfy (spec §4.4 LRq NO_ROUTE/LOOP_DETECTED).
func (st *ldpeState) sendLabelNotification(buf []byte) {
	payload, ok := bus.DecodeLabelNotification(buf)
	if !ok {
		return
	}
	sess, ok := st.sessions[payload.PeerID]
	if !ok || !sess.HasConn() {
		return
	}
	status := ldp.EncodeStatus(ldp.StatusValue{Status: ldp.StatusCode(payload.Status)})
	tlv := ldp.EncodeTLV(nil, ldp.TLVStatus, false, status)
	if err := sess.SendMessage(ldp.MsgNotification, tlv); err != nil {
		st.logger.Warn("send label notification failed", slog.Uint64("peer_lsr_id", uint64(payload.PeerID)), slog.String("error", err.Error()))
	}
}

// handleParentFrame relays kernel route-change notifications from the
// Parent process into the neighbor/network-add path (spec §4.6): the LDE
// process consumes them, so LDPE just passes them through unmodified.
func (st *ldpeState) handleParentFrame(ctx context.Context, ev any) {
	fe, ok := ev.(frameEvent)
	if !ok || fe.err != nil {
		return
	}
	if fe.frame.Type == bus.TypeKRouteChange {
		_ = st.ldeConn.Send(bus.TypeKRouteChange, fe.frame.Payload)
	}
}

// --- small helpers ---

func decodeHello(data []byte) (ldp.HelloParams, bool) {
	pdu, _, err := ldp.DecodePDU(data, 0)
	if err != nil {
		return ldp.HelloParams{}, false
	}
	for _, msg := range pdu.Messages {
		if msg.Type != ldp.MsgHello {
			continue
		}
		var p ldp.HelloParams
		p.LSRID = pdu.Header.LSRID
		p.LabelSpace = pdu.Header.LabelSpace
		for _, t := range msg.TLVs {
			switch t.Type {
			case ldp.TLVCommonHello:
				chp, err := ldp.DecodeCommonHello(t.Value)
				if err != nil {
					return ldp.HelloParams{}, false
				}
				p.HoldTime = chp.HoldTime
				p.Targeted = chp.Targeted
			case ldp.TLVIPv4Transport:
				addr, err := ldp.DecodeIPv4Transport(t.Value)
				if err == nil {
					p.TransportAddr = uint32ToAddr4(addr)
				}
			}
		}
		return p, true
	}
	return ldp.HelloParams{}, false
}

func encodePDUFromMessage(lsrID uint32, labelSpace uint16, msg ldp.Message) []byte {
	var tlvPayload []byte
	for _, t := range msg.TLVs {
		tlvPayload = ldp.EncodeTLV(tlvPayload, t.Type, t.UBit, t.Value)
	}
	return ldp.EncodePDU(lsrID, labelSpace, ldp.EncodeMessage(nil, msg.Type, msg.ID, tlvPayload))
}

func ipToUint32(a [4]byte) uint32      { return binary.BigEndian.Uint32(a[:]) }
func uint32ToAddr4(v uint32) [4]byte   { var a [4]byte; binary.BigEndian.PutUint32(a[:], v); return a }

func netipTo4(s string) ([4]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return [4]byte{}, fmt.Errorf("invalid ipv4 address %q", s)
	}
	var a [4]byte
	copy(a[:], ip.To4())
	return a, nil
}

// --- I/O pump goroutines: move bytes only, never touch protocol state ---

func pumpBus(ctx context.Context, c *bus.Conn, out chan<- any) {
	for {
		f, err := c.Recv()
		select {
		case out <- frameEvent{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func pumpUDP(ctx context.Context, conn *net.UDPConn, out chan<- any) {
	buf := make([]byte, ldp.MaxPacketSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- udpDatagram{data: data, src: addr.IP}:
		case <-ctx.Done():
			return
		}
	}
}

func pumpAccept(ctx context.Context, ln net.Listener, out chan<- any) {
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		select {
		case out <- conn:
		case <-ctx.Done():
			return
		}
	}
}
