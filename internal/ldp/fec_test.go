package ldp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/ldp"
)

func TestFECPrefixRoundTrip(t *testing.T) {
	t.Parallel()

	v := ldp.EncodeFECPrefix([4]byte{10, 0, 1, 0}, 24)
	el, err := ldp.DecodeFEC(v)
	require.NoError(t, err)
	require.Equal(t, ldp.FECPrefix, el.Type)
	require.Equal(t, [4]byte{10, 0, 1, 0}, el.Key.Prefix)
	require.Equal(t, uint8(24), el.Key.PrefixLen)
}

func TestFECPrefixHostRoute(t *testing.T) {
	t.Parallel()

	v := ldp.EncodeFECPrefix([4]byte{192, 168, 1, 1}, 32)
	el, err := ldp.DecodeFEC(v)
	require.NoError(t, err)
	require.Equal(t, [4]byte{192, 168, 1, 1}, el.Key.Prefix)
}

func TestFECWildcardRoundTrip(t *testing.T) {
	t.Parallel()

	el, err := ldp.DecodeFEC(ldp.EncodeFECWildcard())
	require.NoError(t, err)
	require.True(t, el.Wildcard)
}

func TestFECPWidRoundTrip(t *testing.T) {
	t.Parallel()

	v := ldp.EncodeFECPWid(0x000d, 100, true, 0, 1500)
	el, err := ldp.DecodeFEC(v)
	require.NoError(t, err)
	require.True(t, el.Key.IsPW)
	require.True(t, el.PWCWord)
	require.Equal(t, uint16(0x000d), el.Key.PWType)
	require.Equal(t, uint32(100), el.Key.PWID)
	require.Equal(t, uint16(1500), el.PWIfMTU)
}

func TestFECPWidNoInterfaceParams(t *testing.T) {
	t.Parallel()

	v := ldp.EncodeFECPWid(0x0004, 7, false, 0, 0)
	el, err := ldp.DecodeFEC(v)
	require.NoError(t, err)
	require.Equal(t, uint32(7), el.Key.PWID)
	require.False(t, el.PWCWord)
	require.Zero(t, el.PWIfMTU)
}

func TestDecodeFECRejectsUnknownType(t *testing.T) {
	t.Parallel()

	_, err := ldp.DecodeFEC([]byte{0xff})
	require.Error(t, err)
}

func TestDecodeFECRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := ldp.DecodeFEC(nil)
	require.Error(t, err)
}

func TestFECKeyString(t *testing.T) {
	t.Parallel()

	prefix := ldp.FECKey{Prefix: [4]byte{10, 0, 0, 0}, PrefixLen: 8}
	require.Equal(t, "10.0.0.0/8", prefix.String())

	pw := ldp.FECKey{IsPW: true, PWID: 5, PWType: 0x0004}
	require.Contains(t, pw.String(), "pwid:5")
}
