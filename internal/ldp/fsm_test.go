package ldp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/ldp"
)

// TestSessionFSMHappyPath walks the session FSM through the full
// establishment sequence (RFC 5036 §2.5.3, spec §4.3).
func TestSessionFSMHappyPath(t *testing.T) {
	t.Parallel()

	steps := []struct {
		event     ldp.SessionEvent
		wantState ldp.SessionState
	}{
		{ldp.EventMatchAdj, ldp.StatePresent},
		{ldp.EventConnectUp, ldp.StateInitial},
		{ldp.EventInitSent, ldp.StateOpenSent},
		{ldp.EventInitRcvdActive, ldp.StateOpenRec},
		{ldp.EventKeepAliveRcvd, ldp.StateOperational},
	}

	state := ldp.StateDown
	for _, step := range steps {
		res := ldp.ApplyEvent(state, step.event)
		require.Equal(t, step.wantState, res.NewState, "event %s", step.event)
		state = res.NewState
	}
}

func TestSessionFSMPassiveOpenPath(t *testing.T) {
	t.Parallel()

	res := ldp.ApplyEvent(ldp.StateInitial, ldp.EventInitRcvdPassive)
	require.Equal(t, ldp.StateOpenRec, res.NewState)
	require.Contains(t, res.Actions, ldp.ActionSendInitPassive)
	require.Contains(t, res.Actions, ldp.ActionSendKeepAlive)
}

func TestSessionFSMUnknownEventIgnored(t *testing.T) {
	t.Parallel()

	res := ldp.ApplyEvent(ldp.StateDown, ldp.EventKeepAliveRcvd)
	require.False(t, res.Changed)
	require.Equal(t, ldp.StateDown, res.NewState)
}

func TestSessionFSMCloseFromAnyActiveState(t *testing.T) {
	t.Parallel()

	for _, s := range []ldp.SessionState{
		ldp.StatePresent, ldp.StateInitial, ldp.StateOpenSent, ldp.StateOpenRec, ldp.StateOperational,
	} {
		res := ldp.ApplyEvent(s, ldp.EventCloseSession)
		require.Equal(t, ldp.StatePresent, res.NewState)
		require.Contains(t, res.Actions, ldp.ActionNotifyLDENeighborDown)
		require.Contains(t, res.Actions, ldp.ActionTearDownTCP)
	}
}

func TestSessionFSMMatchAdjRestartsTimerWithoutStateChange(t *testing.T) {
	t.Parallel()

	res := ldp.ApplyEvent(ldp.StateOperational, ldp.EventMatchAdj)
	require.False(t, res.Changed)
	require.Equal(t, ldp.StateOperational, res.NewState)
	require.Contains(t, res.Actions, ldp.ActionRestartInactivityTimer)
}

func TestSessionFSMOperationalPDUActivity(t *testing.T) {
	t.Parallel()

	recv := ldp.ApplyEvent(ldp.StateOperational, ldp.EventPDURcvd)
	require.Contains(t, recv.Actions, ldp.ActionRestartKeepAliveTimeout)

	sent := ldp.ApplyEvent(ldp.StateOperational, ldp.EventPDUSent)
	require.Contains(t, sent.Actions, ldp.ActionRestartKeepAliveTimer)
}
