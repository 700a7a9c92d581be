package ldp

// NeighborEventKind distinguishes the lifecycle events the Session layer
// raises toward the LDE (spec §4.3, §5 ordering guarantee: "A NEIGHBOR_UP
// from LDPE to LDE strictly precedes any LABEL_* messages for that
// neighbor; NEIGHBOR_DOWN strictly follows the last").
type NeighborEventKind uint8

const (
	NeighborUp NeighborEventKind = iota
	NeighborDown
)

// NeighborEvent is delivered over the LDPE→LDE bus connection.
type NeighborEvent struct {
	Kind    NeighborEventKind
	PeerID  uint32 // neighbor LSR-id
	Handle  NbrHandle
}

// NeighborEventCallback is invoked when a neighbor's session reaches or
// leaves OPERATIONAL. External consumers (the LDE actor, metrics) register
// callbacks; callbacks are invoked synchronously by the event-loop goroutine
// and must not block (spec §5: "every handler must be non-blocking").
type NeighborEventCallback func(NeighborEvent)

// StateTransitionCallback is invoked on every session FSM transition, used
// for logging and metrics (spec §9: "a single dispatcher that logs every
// transition").
type StateTransitionCallback func(peerID uint32, from, to SessionState)
