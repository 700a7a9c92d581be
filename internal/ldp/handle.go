package ldp

// Handles are small integer keys into per-kind arenas, standing in for
// pointers in the cyclic neighbor/adjacency/interface/fec_node graph
// (spec §9 design note). Using handles instead of pointers keeps every
// reference comparable and loggable and sidesteps manual lifetime tracking
// for cycles.

type IfaceHandle uint32
type TnbrHandle uint32
type AdjHandle uint32
type NbrHandle uint32
type FECHandle uint32

const InvalidHandle = 0

// HelloSourceKind distinguishes the two kinds of hello source an adjacency
// can have (spec §3 adj, Glossary "Hello source").
type HelloSourceKind uint8

const (
	SourceLink HelloSourceKind = iota
	SourceTargeted
)

// HelloSource identifies where an adjacency's hellos come from: either a
// (interface, source-IP) pair for link hellos, or a tnbr handle for
// targeted hellos (spec §3 Adjacency invariant: "at most one adjacency per
// (peer LSR-id, source)").
type HelloSource struct {
	Kind      HelloSourceKind
	Iface     IfaceHandle
	SourceIP  [4]byte
	Tnbr      TnbrHandle
}
