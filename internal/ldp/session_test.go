package ldp_test

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/ldp"
)

func testSessionConfig(lsrID uint32) ldp.SessionConfig {
	return ldp.SessionConfig{
		LocalLSRID:      lsrID,
		LocalLabelSpace: 0,
		KeepAlive:       30,
		MaxPDULen:       4096,
	}
}

func newTestSession(t *testing.T, lsrID, peerLSRID uint32) (*ldp.Session, *ldp.Manager, *ldp.Nbr) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := ldp.NewManager(logger)
	nbr, _ := mgr.FindOrCreateNbr(peerLSRID, peerLSRID)
	return ldp.NewSession(testSessionConfig(lsrID), mgr, ldp.NewLIB(), nbr, logger), mgr, nbr
}

func TestSessionHandleConnectUpSendsInitialization(t *testing.T) {
	t.Parallel()

	s, mgr, nbr := newTestSession(t, 10, 20)
	mgr.TransitionNbr(nbr, ldp.EventMatchAdj)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	s.Attach(&ldp.TCPConn{Conn: client})

	errCh := make(chan error, 1)
	go func() { errCh <- s.HandleConnectUp(true) }()

	buf := make([]byte, 4096)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := server.Read(buf)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	pdu, consumed, err := ldp.DecodePDU(buf[:n], 10)
	require.NoError(t, err)
	require.Equal(t, n, consumed)
	require.Len(t, pdu.Messages, 1)
	require.Equal(t, ldp.MsgInitialization, pdu.Messages[0].Type)
	require.Equal(t, ldp.StateOpenSent, nbr.State)
}

func TestSessionHandleInitializationRejectsBadVersion(t *testing.T) {
	t.Parallel()

	s, mgr, nbr := newTestSession(t, 10, 20)
	mgr.TransitionNbr(nbr, ldp.EventMatchAdj)
	mgr.TransitionNbr(nbr, ldp.EventConnectUp)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	s.Attach(&ldp.TCPConn{Conn: client})

	go io.Copy(io.Discard, server)

	msg := initMessage(ldp.CommonSessionParams{ProtoVersion: 2, KeepAlive: 30, MaxPDULen: 4096})
	err := s.HandleInitialization(msg)
	require.Error(t, err)

	var perr *ldp.ProtocolError
	require.ErrorAs(t, err, &perr)
	require.True(t, perr.Status.Fatal())
}

func TestSessionHandleInitializationRejectsLowKeepAlive(t *testing.T) {
	t.Parallel()

	s, mgr, nbr := newTestSession(t, 10, 20)
	mgr.TransitionNbr(nbr, ldp.EventMatchAdj)
	mgr.TransitionNbr(nbr, ldp.EventConnectUp)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	s.Attach(&ldp.TCPConn{Conn: client})
	go io.Copy(io.Discard, server)

	msg := initMessage(ldp.CommonSessionParams{ProtoVersion: ldp.Version, KeepAlive: 1, MaxPDULen: 4096})
	err := s.HandleInitialization(msg)
	require.Error(t, err)
}

func TestSessionHandleInitializationRejectsLowMaxPDU(t *testing.T) {
	t.Parallel()

	s, mgr, nbr := newTestSession(t, 10, 20)
	mgr.TransitionNbr(nbr, ldp.EventMatchAdj)
	mgr.TransitionNbr(nbr, ldp.EventConnectUp)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	s.Attach(&ldp.TCPConn{Conn: client})
	go io.Copy(io.Discard, server)

	msg := initMessage(ldp.CommonSessionParams{ProtoVersion: ldp.Version, KeepAlive: 30, MaxPDULen: 100})
	err := s.HandleInitialization(msg)
	require.Error(t, err)
}

func TestSessionHandleInitializationMissingTLV(t *testing.T) {
	t.Parallel()

	s, mgr, nbr := newTestSession(t, 10, 20)
	mgr.TransitionNbr(nbr, ldp.EventMatchAdj)
	mgr.TransitionNbr(nbr, ldp.EventConnectUp)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	s.Attach(&ldp.TCPConn{Conn: client})
	go io.Copy(io.Discard, server)

	err := s.HandleInitialization(ldp.Message{Type: ldp.MsgInitialization})
	require.Error(t, err)
}

func TestSessionFullHandshakeReachesOperational(t *testing.T) {
	t.Parallel()

	activeSess, activeMgr, activeNbr := newTestSession(t, 20, 10)
	passiveSess, passiveMgr, passiveNbr := newTestSession(t, 10, 20)

	activeUpCh := make(chan struct{})
	passiveUpCh := make(chan struct{})
	activeSess.OnOperational(func(*ldp.Nbr) { close(activeUpCh) })
	passiveSess.OnOperational(func(*ldp.Nbr) { close(passiveUpCh) })

	activeConn, passiveConn := net.Pipe()
	t.Cleanup(func() { activeConn.Close(); passiveConn.Close() })

	activeSess.Attach(&ldp.TCPConn{Conn: activeConn})
	passiveSess.Attach(&ldp.TCPConn{Conn: passiveConn})

	activeMgr.TransitionNbr(activeNbr, ldp.EventMatchAdj)
	passiveMgr.TransitionNbr(passiveNbr, ldp.EventMatchAdj)

	go func() {
		_ = readAndDispatch(activeSess, activeConn, 10)
	}()
	go func() {
		_ = readAndDispatch(passiveSess, passiveConn, 20)
	}()

	connectErrs := make(chan error, 2)
	go func() { connectErrs <- activeSess.HandleConnectUp(true) }()
	go func() { connectErrs <- passiveSess.HandleConnectUp(false) }()
	require.NoError(t, <-connectErrs)
	require.NoError(t, <-connectErrs)

	timeout := time.After(2 * time.Second)
	for _, ch := range []chan struct{}{activeUpCh, passiveUpCh} {
		select {
		case <-ch:
		case <-timeout:
			t.Fatal("timed out waiting for both sessions to reach operational")
		}
	}

	require.Equal(t, ldp.StateOperational, activeNbr.State)
	require.Equal(t, ldp.StateOperational, passiveNbr.State)
}

func readAndDispatch(s *ldp.Session, conn net.Conn, expectedLSRID uint32) error {
	tmp := make([]byte, 65536)
	acc := bytes.NewBuffer(nil)
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(tmp)
		if n > 0 {
			acc.Write(tmp[:n])
			for {
				pdu, consumed, derr := ldp.DecodePDU(acc.Bytes(), expectedLSRID)
				if derr != nil {
					if ldp.IsInsufficientData(derr) {
						break
					}
					return derr
				}
				if herr := s.HandlePDU(pdu, func(ldp.Message) error { return nil }); herr != nil {
					return herr
				}
				acc.Next(consumed)
			}
		}
		if err != nil {
			return err
		}
	}
}

func initMessage(params ldp.CommonSessionParams) ldp.Message {
	return ldp.Message{
		Type: ldp.MsgInitialization,
		TLVs: []ldp.TLV{{Type: ldp.TLVCommonSession, Value: ldp.EncodeCommonSession(params)}},
	}
}
