package ldp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/ldp"
)

func TestLabelAllocatorStartsAboveReserved(t *testing.T) {
	t.Parallel()

	a := ldp.NewLabelAllocator()
	l := a.Allocate()
	require.Greater(t, l, ldp.MPLSLabelReservedMax)
}

func TestLabelAllocatorUniqueAndReusable(t *testing.T) {
	t.Parallel()

	a := ldp.NewLabelAllocator()
	l1 := a.Allocate()
	l2 := a.Allocate()
	require.NotEqual(t, l1, l2)

	a.Release(l1)
	l3 := a.Allocate()
	require.Equal(t, l1, l3)
}

func TestLabelAllocatorReleaseNoLabelIsNoop(t *testing.T) {
	t.Parallel()

	a := ldp.NewLabelAllocator()
	a.Release(ldp.NoLabel)
	l := a.Allocate()
	require.Equal(t, ldp.MPLSLabelReservedMax+1, l)
}

func TestEgressLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, ldp.ImplicitNullLabel, ldp.EgressLabel(false, false))
	require.Equal(t, ldp.IPv4ExplicitNull, ldp.EgressLabel(true, false))
	require.Equal(t, ldp.IPv6ExplicitNull, ldp.EgressLabel(true, true))
}

func TestLabelString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "NO_LABEL", ldp.LabelString(ldp.NoLabel))
	require.Equal(t, "IMPL_NULL", ldp.LabelString(ldp.ImplicitNullLabel))
	require.Equal(t, "42", ldp.LabelString(42))
}
