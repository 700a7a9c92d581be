package ldp

import (
	"fmt"
	"sync"
)

// NoLabel is the sentinel meaning "no local label assigned" (spec §3
// fec_node invariant).
const NoLabel uint32 = 0xFFFFFFFF

// MPLSLabelReservedMax bounds the reserved label range; allocation starts
// above it (spec §4.4).
const MPLSLabelReservedMax uint32 = 15

// Special egress labels (spec §4.4).
const (
	ImplicitNullLabel uint32 = 3
	IPv4ExplicitNull  uint32 = 0
	IPv6ExplicitNull  uint32 = 2
)

// LabelAllocator hands out unique local labels from a process-local
// monotonic counter starting above MPLSLabelReservedMax, guarded by a mutex
// and monotonic rather than random: LDP labels need no unpredictability,
// only uniqueness and reuse-after-release (spec §4.4).
type LabelAllocator struct {
	mu        sync.Mutex
	next      uint32
	allocated map[uint32]struct{}
	free      []uint32
}

// NewLabelAllocator creates an allocator whose first Allocate() call returns
// a value strictly greater than MPLSLabelReservedMax.
func NewLabelAllocator() *LabelAllocator {
	return &LabelAllocator{
		next:      MPLSLabelReservedMax + 1,
		allocated: make(map[uint32]struct{}),
	}
}

// Allocate returns a fresh, unique label for a dynamically-provisioned FEC
// (spec §4.4: "fresh allocation otherwise").
func (a *LabelAllocator) Allocate() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		l := a.free[n-1]
		a.free = a.free[:n-1]
		a.allocated[l] = struct{}{}
		return l
	}

	l := a.next
	a.next++
	a.allocated[l] = struct{}{}
	return l
}

// Release returns a previously allocated label to the free list so it can be
// reused, called when a fec_node's local_label resets to NoLabel.
func (a *LabelAllocator) Release(label uint32) {
	if label == NoLabel {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.allocated[label]; !ok {
		return
	}
	delete(a.allocated, label)
	a.free = append(a.free, label)
}

// EgressLabel computes the local_label for a directly-connected FEC per
// spec §4.4: implicit-null by default, or the per-address-family explicit
// null value when the explicit-null policy is enabled.
func EgressLabel(explicitNull bool, isIPv6 bool) uint32 {
	if !explicitNull {
		return ImplicitNullLabel
	}
	if isIPv6 {
		return IPv6ExplicitNull
	}
	return IPv4ExplicitNull
}

// LabelString renders a label for logging, using the mnemonic for reserved values.
func LabelString(label uint32) string {
	switch label {
	case NoLabel:
		return "NO_LABEL"
	case ImplicitNullLabel:
		return "IMPL_NULL"
	default:
		return fmt.Sprintf("%d", label)
	}
}
