package ldp_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/ldp"
)

func newTestPWManager(t *testing.T) (*ldp.PWManager, *mappingRecorder) {
	t.Helper()
	lib := ldp.NewLIB()
	lde := ldp.NewLDE(lib, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &mappingRecorder{}
	lde.SetSenders(rec.mapping, rec.withdraw, rec.release, rec.request, rec.klabelChange, rec.notify)
	return ldp.NewPWManager(lde, slog.New(slog.NewTextHandler(io.Discard, nil))), rec
}

func pwKey(pwID uint32) ldp.FECKey {
	return ldp.FECKey{IsPW: true, PWType: 0x000d, PWID: pwID}
}

func TestPWManagerConfigureAllocatesAndSignalsLocalLabel(t *testing.T) {
	t.Parallel()

	m, rec := newTestPWManager(t)
	key := pwKey(100)

	pw := m.Configure(key, 1, "eth1", 1500, true)
	require.NotEqual(t, ldp.NoLabel, pw.LocalLabel)
	require.Len(t, rec.mappings, 1)
	require.Equal(t, uint32(1), rec.mappings[0].peerID)
	require.Equal(t, pw.LocalLabel, rec.mappings[0].label)
}

func TestPWManagerConfigureIsIdempotentOnLabel(t *testing.T) {
	t.Parallel()

	m, rec := newTestPWManager(t)
	key := pwKey(100)

	pw1 := m.Configure(key, 1, "eth1", 1500, true)
	pw2 := m.Configure(key, 1, "eth1", 1500, true)

	require.Equal(t, pw1.LocalLabel, pw2.LocalLabel)
	require.Len(t, rec.mappings, 1, "re-configuring an already-signaled pw must not re-allocate or re-send")
}

func TestPWManagerRecvPWMappingRejectsMTUMismatch(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(100)
	m.Configure(key, 1, "eth1", 1500, true)

	err := m.RecvPWMapping(1, ldp.FECElement{Key: key, PWIfMTU: 1400})
	require.ErrorIs(t, err, ldp.ErrPWMTUMismatch)

	pw, ok := m.PW(key)
	require.True(t, ok)
	require.Equal(t, ldp.PWForwardingNotXconnect, pw.LocalStatus)
}

func TestPWManagerRecvPWMappingAcceptsMatchingMTU(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(100)
	m.Configure(key, 1, "eth1", 1500, true)

	err := m.RecvPWMapping(1, ldp.FECElement{Key: key, PWIfMTU: 1500, PWCWord: true})
	require.NoError(t, err)

	pw, ok := m.PW(key)
	require.True(t, ok)
	require.Equal(t, uint16(1500), pw.RemoteMTU)
	require.True(t, pw.CWordAgreed)
}

func TestPWManagerRecvPWMappingCreatesOutOfOrder(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(200)

	err := m.RecvPWMapping(2, ldp.FECElement{Key: key, PWIfMTU: 1500})
	require.NoError(t, err)

	pw, ok := m.PW(key)
	require.True(t, ok)
	require.Equal(t, uint32(2), pw.PeerID)
	require.Equal(t, ldp.NoLabel, pw.LocalLabel)
}

func TestPWManagerUpFiresStatusChangeOnBothLabelsPresent(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(100)
	m.Configure(key, 1, "eth1", 1500, false)

	var changes int
	m.OnStatusChange(func(*ldp.PW) { changes++ })

	require.NoError(t, m.RecvPWMapping(1, ldp.FECElement{Key: key}))
	pw, _ := m.PW(key)
	require.False(t, pw.Up(), "remote label not yet set")

	m.SetRemoteLabel(key, 555)
	require.True(t, pw.Up())
	require.Equal(t, 1, changes)
}

func TestPWManagerRecvPWStatusTracksFaultAndClears(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(100)
	m.Configure(key, 1, "eth1", 1500, false)
	require.NoError(t, m.RecvPWMapping(1, ldp.FECElement{Key: key}))
	m.SetRemoteLabel(key, 555)

	pw, _ := m.PW(key)
	require.True(t, pw.Up())

	var changes int
	m.OnStatusChange(func(*ldp.PW) { changes++ })

	m.RecvPWStatus(key, ldp.PWLocalRxFault)
	require.False(t, pw.Up())
	require.Equal(t, 1, changes)

	m.RecvPWStatus(key, ldp.PWStatusUp)
	require.True(t, pw.Up())
	require.Equal(t, 2, changes)
}

func TestPWManagerFibCoupleDecouple(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(100)
	pw := m.Configure(key, 1, "eth1", 1500, false)
	require.False(t, pw.Coupled)

	m.FibCouple(key)
	require.True(t, pw.Coupled)

	m.FibDecouple(key)
	require.False(t, pw.Coupled)
}

func TestPWManagerOnInstallFiresOnCoupleAfterUp(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(100)
	m.Configure(key, 1, "eth1", 1500, false)
	require.NoError(t, m.RecvPWMapping(1, ldp.FECElement{Key: key}))
	m.SetRemoteLabel(key, 555)

	var installs []bool
	m.OnInstall(func(pw *ldp.PW, add bool) { installs = append(installs, add) })

	pw, _ := m.PW(key)
	require.True(t, pw.Up(), "both labels present, no faults")
	require.Empty(t, installs, "not yet fib-coupled")

	m.FibCouple(key)
	require.Equal(t, []bool{true}, installs)

	m.FibDecouple(key)
	require.Equal(t, []bool{true, false}, installs)
}

func TestPWManagerOnInstallFiresOnUpWhenAlreadyCoupled(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	key := pwKey(100)
	m.Configure(key, 1, "eth1", 1500, false)
	m.FibCouple(key)

	var installs []bool
	m.OnInstall(func(pw *ldp.PW, add bool) { installs = append(installs, add) })

	require.NoError(t, m.RecvPWMapping(1, ldp.FECElement{Key: key}))
	require.Empty(t, installs, "remote label still missing")

	m.SetRemoteLabel(key, 555)
	require.Equal(t, []bool{true}, installs)

	m.RecvPWStatus(key, ldp.PWLocalRxFault)
	require.Equal(t, []bool{true, false}, installs)
}

func TestPWManagerPWsListsAll(t *testing.T) {
	t.Parallel()

	m, _ := newTestPWManager(t)
	m.Configure(pwKey(1), 1, "eth1", 1500, false)
	m.Configure(pwKey(2), 2, "eth2", 1500, false)

	require.Len(t, m.PWs(), 2)
}
