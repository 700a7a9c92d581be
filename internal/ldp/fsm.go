package ldp

import "fmt"

// This file implements the LDP Session Finite State Machine (spec §4.3) as a
// pure function over a transition table: no side effects, no Session
// dependency, a single dispatcher keyed by (state, event).

// SessionState is one of the six LDP session states (spec §4.3).
type SessionState uint8

const (
	StateDown SessionState = iota
	StatePresent
	StateInitial
	StateOpenSent
	StateOpenRec
	StateOperational
)

func (s SessionState) String() string {
	switch s {
	case StateDown:
		return "DOWN"
	case StatePresent:
		return "PRESENT"
	case StateInitial:
		return "INITIAL"
	case StateOpenSent:
		return "OPENSENT"
	case StateOpenRec:
		return "OPENREC"
	case StateOperational:
		return "OPERATIONAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// SessionEvent is one of the events the session FSM reacts to (spec §4.3).
type SessionEvent uint8

const (
	EventMatchAdj SessionEvent = iota
	EventConnectUp
	EventInitRcvdActive
	EventInitRcvdPassive
	EventInitSent
	EventKeepAliveRcvd
	EventPDURcvd
	EventPDUSent
	EventCloseSession
)

func (e SessionEvent) String() string {
	switch e {
	case EventMatchAdj:
		return "MATCH_ADJ"
	case EventConnectUp:
		return "CONNECT_UP"
	case EventInitRcvdActive:
		return "INIT_RCVD(active)"
	case EventInitRcvdPassive:
		return "INIT_RCVD(passive)"
	case EventInitSent:
		return "INIT_SENT"
	case EventKeepAliveRcvd:
		return "KEEPALIVE_RCVD"
	case EventPDURcvd:
		return "PDU_RCVD"
	case EventPDUSent:
		return "PDU_SENT"
	case EventCloseSession:
		return "CLOSE_SESSION"
	default:
		return fmt.Sprintf("UNKNOWN_EVENT(%d)", e)
	}
}

// SessionAction is a side effect the session actor must execute after a
// transition. The FSM itself never performs I/O.
type SessionAction uint8

const (
	ActionStartInactivityTimer SessionAction = iota + 1
	ActionRestartInactivityTimer
	ActionWireReadWrite
	ActionSendInitActive
	ActionSendInitPassive
	ActionSendKeepAlive
	ActionMarkOperational
	ActionRestartKeepAliveTimeout
	ActionRestartKeepAliveTimer
	ActionNotifyLDENeighborDown
	ActionTearDownTCP
)

func (a SessionAction) String() string {
	switch a {
	case ActionStartInactivityTimer:
		return "StartInactivityTimer"
	case ActionRestartInactivityTimer:
		return "RestartInactivityTimer"
	case ActionWireReadWrite:
		return "WireReadWrite"
	case ActionSendInitActive:
		return "SendInitActive"
	case ActionSendInitPassive:
		return "SendInitPassive"
	case ActionSendKeepAlive:
		return "SendKeepAlive"
	case ActionMarkOperational:
		return "MarkOperational"
	case ActionRestartKeepAliveTimeout:
		return "RestartKeepAliveTimeout"
	case ActionRestartKeepAliveTimer:
		return "RestartKeepAliveTimer"
	case ActionNotifyLDENeighborDown:
		return "NotifyLDENeighborDown"
	case ActionTearDownTCP:
		return "TearDownTCP"
	default:
		return "Unknown"
	}
}

type sessionStateEvent struct {
	state SessionState
	event SessionEvent
}

type sessionTransition struct {
	newState SessionState
	actions  []SessionAction
}

// FSMResult is the outcome of applying an event to the session FSM.
type FSMResult struct {
	OldState SessionState
	NewState SessionState
	Actions  []SessionAction
	Changed  bool
}

// sessionFSMTable implements the exhaustive transition table of spec §4.3.
// "any session state" + MATCH_ADJ and "session states" + CLOSE_SESSION are
// expanded explicitly for every non-DOWN state, since the table is keyed by
// concrete (state, event) pairs rather than state sets.
var sessionFSMTable = buildSessionFSMTable()

func buildSessionFSMTable() map[sessionStateEvent]sessionTransition {
	t := map[sessionStateEvent]sessionTransition{
		{StateDown, EventMatchAdj}: {StatePresent, []SessionAction{ActionStartInactivityTimer}},

		{StatePresent, EventConnectUp}: {StateInitial, []SessionAction{ActionWireReadWrite}},

		{StateInitial, EventInitRcvdPassive}: {StateOpenRec, []SessionAction{ActionSendInitPassive, ActionSendKeepAlive}},
		{StateInitial, EventInitSent}:        {StateOpenSent, nil},

		{StateOpenSent, EventInitRcvdActive}: {StateOpenRec, []SessionAction{ActionSendKeepAlive}},

		{StateOpenRec, EventKeepAliveRcvd}: {StateOperational, []SessionAction{ActionMarkOperational}},

		{StateOperational, EventPDURcvd}: {StateOperational, []SessionAction{ActionRestartKeepAliveTimeout}},
		{StateOperational, EventPDUSent}: {StateOperational, []SessionAction{ActionRestartKeepAliveTimer}},
	}

	// "any session state" + MATCH_ADJ -> restart inactivity timer, no
	// state change (spec §4.3 row 2).
	for _, s := range []SessionState{StatePresent, StateInitial, StateOpenSent, StateOpenRec, StateOperational} {
		t[sessionStateEvent{s, EventMatchAdj}] = sessionTransition{s, []SessionAction{ActionRestartInactivityTimer}}
	}

	// "session states" + CLOSE_SESSION -> tell LDE NEIGHBOR_DOWN, tear down
	// TCP, reset to PRESENT (spec §4.3 last row). Applies to every state that
	// has an active or pending session, i.e. everything except DOWN.
	for _, s := range []SessionState{StatePresent, StateInitial, StateOpenSent, StateOpenRec, StateOperational} {
		t[sessionStateEvent{s, EventCloseSession}] = sessionTransition{
			StatePresent,
			[]SessionAction{ActionNotifyLDENeighborDown, ActionTearDownTCP},
		}
	}

	return t
}

// ApplyEvent applies an event to the session FSM in a pure, side-effect-free
// way. Any (state, event) pair absent from the table is silently ignored per
// spec §4.3: "Any event not listed for the current state is silently
// ignored."
func ApplyEvent(current SessionState, event SessionEvent) FSMResult {
	tr, ok := sessionFSMTable[sessionStateEvent{current, event}]
	if !ok {
		return FSMResult{OldState: current, NewState: current, Changed: false}
	}
	return FSMResult{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  current != tr.newState,
	}
}
