package ldp_test

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/ldp"
)

func newTestManager(t *testing.T) *ldp.Manager {
	t.Helper()
	return ldp.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestManagerCreateIfaceRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	_, err := mgr.CreateIface(&ldp.Iface{Name: "eth0"})
	require.NoError(t, err)

	_, err = mgr.CreateIface(&ldp.Iface{Name: "eth0"})
	require.ErrorIs(t, err, ldp.ErrDuplicateIface)
}

func TestManagerIfaceByName(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	h, err := mgr.CreateIface(&ldp.Iface{Name: "eth0"})
	require.NoError(t, err)

	got, ok := mgr.IfaceByName("eth0")
	require.True(t, ok)
	require.Equal(t, h, got.Handle)

	_, ok = mgr.IfaceByName("eth1")
	require.False(t, ok)
}

func TestManagerReconcileIfacesCreatesAndDeletes(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	_, err := mgr.CreateIface(&ldp.Iface{Name: "eth0"})
	require.NoError(t, err)

	created, deleted := mgr.ReconcileIfaces(
		map[string]struct{}{"eth1": {}},
		func(name string) *ldp.Iface { return &ldp.Iface{Name: name} },
	)
	require.Equal(t, []string{"eth1"}, created)
	require.Equal(t, []string{"eth0"}, deleted)

	_, ok := mgr.IfaceByName("eth0")
	require.False(t, ok)
	_, ok = mgr.IfaceByName("eth1")
	require.True(t, ok)
}

func TestManagerReconcileIfacesKeepsActiveIfaceOutOfConfig(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	h, err := mgr.CreateIface(&ldp.Iface{Name: "eth0", InConfig: true, LinkUp: true, Addresses: []net.IP{net.IPv4(10, 0, 0, 1)}})
	require.NoError(t, err)
	iface, _ := mgr.Iface(h)

	created, deleted := mgr.ReconcileIfaces(map[string]struct{}{}, nil)
	require.Empty(t, created)
	require.Empty(t, deleted)

	_, ok := mgr.IfaceByName("eth0")
	require.True(t, ok, "an active interface is kept even when removed from configuration")
	require.False(t, iface.InConfig)
}

func TestManagerTnbrCRUD(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	addr := [4]byte{10, 0, 0, 5}
	h, err := mgr.CreateTnbr(&ldp.Tnbr{RemoteAddr: addr})
	require.NoError(t, err)

	got, ok := mgr.TnbrByAddr(addr)
	require.True(t, ok)
	require.Equal(t, h, got.Handle)

	_, err = mgr.CreateTnbr(&ldp.Tnbr{RemoteAddr: addr})
	require.ErrorIs(t, err, ldp.ErrDuplicateTnbr)
}

func TestManagerDeleteTnbrIfUnused(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	addr := [4]byte{10, 0, 0, 5}
	h, err := mgr.CreateTnbr(&ldp.Tnbr{RemoteAddr: addr, Flags: ldp.TnbrDynamic})
	require.NoError(t, err)

	require.False(t, mgr.DeleteTnbrIfUnused(h), "dynamic tnbr is still in use")

	tnbr, _ := mgr.Tnbr(h)
	tnbr.Flags = 0
	require.True(t, mgr.DeleteTnbrIfUnused(h))

	_, ok := mgr.TnbrByAddr(addr)
	require.False(t, ok)
}

func TestManagerAdjCRUDAndIndexing(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	src := ldp.HelloSource{Kind: ldp.SourceLink, Iface: ldp.IfaceHandle(1), SourceIP: [4]byte{1, 1, 1, 1}}
	h := mgr.CreateAdj(&ldp.Adj{Source: src}, 20)

	got, ok := mgr.AdjBySource(20, src)
	require.True(t, ok)
	require.Equal(t, h, got.Handle)

	require.NoError(t, mgr.DeleteAdj(h, 20))
	_, ok = mgr.AdjBySource(20, src)
	require.False(t, ok)

	require.ErrorIs(t, mgr.DeleteAdj(h, 20), ldp.ErrAdjNotFound)
}

func TestManagerFindOrCreateNbrIsIdempotent(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	nbr1, created1 := mgr.FindOrCreateNbr(20, 1)
	require.True(t, created1)
	require.Equal(t, ldp.StateDown, nbr1.State)

	nbr2, created2 := mgr.FindOrCreateNbr(20, 1)
	require.False(t, created2)
	require.Equal(t, nbr1.Handle, nbr2.Handle)

	byLSR, ok := mgr.NbrByLSRID(20)
	require.True(t, ok)
	require.Equal(t, nbr1.Handle, byLSR.Handle)

	byPeer, ok := mgr.NbrByPeerID(1)
	require.True(t, ok)
	require.Equal(t, nbr1.Handle, byPeer.Handle)
}

func TestManagerDeleteNbrIfIdle(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	nbr, _ := mgr.FindOrCreateNbr(20, 1)

	nbr.Adjacencies = []ldp.AdjHandle{ldp.AdjHandle(5)}
	require.False(t, mgr.DeleteNbrIfIdle(nbr.Handle), "neighbor with an adjacency is not idle")

	nbr.Adjacencies = nil
	require.True(t, mgr.DeleteNbrIfIdle(nbr.Handle))

	_, ok := mgr.NbrByLSRID(20)
	require.False(t, ok)
}

func TestManagerTransitionNbrFiresNeighborUpDownOnce(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	nbr, _ := mgr.FindOrCreateNbr(20, 1)

	var events []ldp.NeighborEventKind
	mgr.OnNeighborEvent(func(ev ldp.NeighborEvent) { events = append(events, ev.Kind) })

	var transitions int
	mgr.OnStateTransition(func(uint32, ldp.SessionState, ldp.SessionState) { transitions++ })

	mgr.TransitionNbr(nbr, ldp.EventMatchAdj)
	mgr.TransitionNbr(nbr, ldp.EventConnectUp)
	mgr.TransitionNbr(nbr, ldp.EventInitSent)
	mgr.TransitionNbr(nbr, ldp.EventInitRcvdActive)
	mgr.TransitionNbr(nbr, ldp.EventKeepAliveRcvd)

	require.Equal(t, ldp.StateOperational, nbr.State)
	require.Equal(t, []ldp.NeighborEventKind{ldp.NeighborUp}, events)
	require.Equal(t, 5, transitions)

	mgr.TransitionNbr(nbr, ldp.EventCloseSession)
	require.Equal(t, []ldp.NeighborEventKind{ldp.NeighborUp, ldp.NeighborDown}, events)
}

func TestManagerTransitionNbrNoopOnUnchangedState(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	nbr, _ := mgr.FindOrCreateNbr(20, 1)

	called := false
	mgr.OnStateTransition(func(uint32, ldp.SessionState, ldp.SessionState) { called = true })

	mgr.TransitionNbr(nbr, ldp.EventKeepAliveRcvd)
	require.False(t, called, "an ignored event must not invoke the transition callback")
	require.Equal(t, ldp.StateDown, nbr.State)
}
