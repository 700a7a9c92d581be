package kroute

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestKifUp(t *testing.T) {
	t.Parallel()

	require.True(t, Kif{Flags: unix.IFF_UP}.Up())
	require.False(t, Kif{Flags: 0}.Up())
}

func TestRtmsgHeaderLayout(t *testing.T) {
	t.Parallel()

	h := rtmsgHeader(24)
	require.Len(t, h, 12)
	require.Equal(t, byte(unix.AF_INET), h[0])
	require.Equal(t, byte(24), h[1])
	require.Equal(t, byte(unix.RT_TABLE_MAIN), h[4])
	require.Equal(t, byte(unix.RTPROT_STATIC), h[5])
	require.Equal(t, byte(unix.RT_SCOPE_UNIVERSE), h[6])
	require.Equal(t, byte(unix.RTN_UNICAST), h[7])
}
