package ldp_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/ldp"
)

func newTestLDE(t *testing.T) (*ldp.LDE, *mappingRecorder) {
	t.Helper()
	lib := ldp.NewLIB()
	lde := ldp.NewLDE(lib, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &mappingRecorder{}
	lde.SetSenders(rec.mapping, rec.withdraw, rec.release, rec.request, rec.klabelChange, rec.notify)
	return lde, rec
}

type mappingRecorder struct {
	mappings      []sentMapping
	withdraws     []sentMapping
	releases      []sentMapping
	requests      []uint32
	klabelChanges []sentKLabelChange
	notifies      []sentNotify
}

type sentMapping struct {
	peerID   uint32
	fec      ldp.FECKey
	label    uint32
	reqID    uint32
	wildcard bool
}

type sentKLabelChange struct {
	fec      ldp.FECKey
	add      bool
	inLabel  uint32
	outLabel uint32
	gateway  [4]byte
	ifIndex  uint32
}

type sentNotify struct {
	peerID uint32
	fec    ldp.FECKey
	status ldp.StatusCode
}

func (r *mappingRecorder) mapping(peerID uint32, fec ldp.FECKey, label uint32, reqID uint32) {
	r.mappings = append(r.mappings, sentMapping{peerID: peerID, fec: fec, label: label, reqID: reqID})
}
func (r *mappingRecorder) withdraw(peerID uint32, fec ldp.FECKey, label uint32) {
	r.withdraws = append(r.withdraws, sentMapping{peerID: peerID, fec: fec, label: label})
}
func (r *mappingRecorder) release(peerID uint32, fec ldp.FECKey, label uint32, wildcard bool) {
	r.releases = append(r.releases, sentMapping{peerID: peerID, fec: fec, label: label, wildcard: wildcard})
}
func (r *mappingRecorder) request(peerID uint32, fec ldp.FECKey) {
	r.requests = append(r.requests, peerID)
}
func (r *mappingRecorder) klabelChange(fec ldp.FECKey, add bool, inLabel, outLabel uint32, gateway [4]byte, ifIndex uint32) {
	r.klabelChanges = append(r.klabelChanges, sentKLabelChange{fec, add, inLabel, outLabel, gateway, ifIndex})
}
func (r *mappingRecorder) notify(peerID uint32, fec ldp.FECKey, status ldp.StatusCode) {
	r.notifies = append(r.notifies, sentNotify{peerID, fec, status})
}

func TestLDENetworkAddAdvertisesToOperationalPeers(t *testing.T) {
	t.Parallel()

	lde, rec := newTestLDE(t)
	fec := ldp.FECKey{Prefix: [4]byte{10, 0, 0, 0}, PrefixLen: 24}

	lde.NeighborUp(1)
	lde.NetworkAdd(fec, ldp.FECNH{Gateway: [4]byte{10, 0, 0, 1}, Connected: true}, false)

	require.Len(t, rec.mappings, 1)
	require.Equal(t, uint32(1), rec.mappings[0].peerID)
	require.Equal(t, ldp.ImplicitNullLabel, rec.mappings[0].label)
}

func TestLDENeighborUpAdvertisesExistingLIB(t *testing.T) {
	t.Parallel()

	lde, rec := newTestLDE(t)
	fec := ldp.FECKey{Prefix: [4]byte{10, 0, 0, 0}, PrefixLen: 24}

	lde.NetworkAdd(fec, ldp.FECNH{Gateway: [4]byte{10, 0, 0, 1}, Connected: true}, false)
	require.Empty(t, rec.mappings, "no operational peers yet")

	lde.NeighborUp(1)
	require.Len(t, rec.mappings, 1)
}

func TestLDENetworkDelWithdrawsWhenOrphaned(t *testing.T) {
	t.Parallel()

	lde, rec := newTestLDE(t)
	fec := ldp.FECKey{Prefix: [4]byte{10, 0, 0, 0}, PrefixLen: 24}
	gw := [4]byte{10, 0, 0, 1}

	lde.NeighborUp(1)
	lde.NetworkAdd(fec, ldp.FECNH{Gateway: gw, Connected: true}, false)
	require.Len(t, rec.mappings, 1)

	lde.NetworkDel(fec, gw)
	require.Len(t, rec.withdraws, 1)
	require.Equal(t, uint32(1), rec.withdraws[0].peerID)
}

func TestLDERecvLabelMappingStoresDownstream(t *testing.T) {
	t.Parallel()

	lib := ldp.NewLIB()
	lde := ldp.NewLDE(lib, slog.New(slog.NewTextHandler(io.Discard, nil)))
	lde.SetSenders(
		func(uint32, ldp.FECKey, uint32, uint32) {}, func(uint32, ldp.FECKey, uint32) {},
		func(uint32, ldp.FECKey, uint32, bool) {}, func(uint32, ldp.FECKey) {},
		func(ldp.FECKey, bool, uint32, uint32, [4]byte, uint32) {}, func(uint32, ldp.FECKey, ldp.StatusCode) {},
	)

	fec := ldp.FECKey{Prefix: [4]byte{172, 16, 0, 0}, PrefixLen: 16}
	lde.RecvLabelMapping(2, fec, 1000)

	n, ok := lib.FEC(fec)
	require.True(t, ok)
	require.Equal(t, uint32(1000), n.Downstream[2])
}

func TestLDERecvLabelWithdrawAlwaysReleases(t *testing.T) {
	t.Parallel()

	lde, rec := newTestLDE(t)
	fec := ldp.FECKey{Prefix: [4]byte{172, 16, 0, 0}, PrefixLen: 16}

	lde.RecvLabelMapping(2, fec, 1000)
	lde.RecvLabelWithdraw(2, ldp.FECElement{Key: fec}, 1000)

	require.Len(t, rec.releases, 1)
	require.Equal(t, uint32(1000), rec.releases[0].label)
}

func TestLDERecvLabelRequestAnswersWhenLabelKnown(t *testing.T) {
	t.Parallel()

	lde, rec := newTestLDE(t)
	fec := ldp.FECKey{Prefix: [4]byte{10, 0, 0, 0}, PrefixLen: 24}
	lde.NetworkAdd(fec, ldp.FECNH{Gateway: [4]byte{10, 0, 0, 1}, Connected: true}, false)

	lde.RecvLabelRequest(3, fec, 55)
	require.Len(t, rec.mappings, 1)
	require.Equal(t, uint32(3), rec.mappings[0].peerID)
}

func TestLDENeighborDownClearsBindings(t *testing.T) {
	t.Parallel()

	lib := ldp.NewLIB()
	lde := ldp.NewLDE(lib, slog.New(slog.NewTextHandler(io.Discard, nil)))
	lde.SetSenders(
		func(uint32, ldp.FECKey, uint32, uint32) {}, func(uint32, ldp.FECKey, uint32) {},
		func(uint32, ldp.FECKey, uint32, bool) {}, func(uint32, ldp.FECKey) {},
		func(ldp.FECKey, bool, uint32, uint32, [4]byte, uint32) {}, func(uint32, ldp.FECKey, ldp.StatusCode) {},
	)

	fec := ldp.FECKey{Prefix: [4]byte{10, 0, 0, 0}, PrefixLen: 24}
	lde.NetworkAdd(fec, ldp.FECNH{Gateway: [4]byte{10, 0, 0, 1}, Connected: true}, false)
	lde.NeighborUp(1)
	require.NotEmpty(t, lib.Snapshot())

	lde.NeighborDown(1)
	n, ok := lib.FEC(fec)
	require.True(t, ok)
	require.Empty(t, n.Upstream)
}
