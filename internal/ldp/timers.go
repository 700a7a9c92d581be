// Timers and timing constants for LDP discovery and session keepalive
// (spec §4.1, §4.3).
package ldp

import "time"

// Default holdtimes applied when a peer advertises zero (spec §4.1 step 7).
const (
	LinkDefaultHoldTime     uint16 = 15
	TargetedDefaultHoldTime uint16 = 45
)

// InfiniteHoldTime disables the inactivity timer (spec §3 adj invariant).
const InfiniteHoldTime uint16 = 0xFFFF

// MinHoldTime is the smallest nonzero holdtime a hello may advertise
// (spec §4.1 step 2).
const MinHoldTime uint16 = 1

// MinKeepAlive is the smallest legal negotiated session keepalive
// (spec §4.3 Initialization PDU validation).
const MinKeepAlive uint16 = 3

// KeepAlivePerPeriod divides the negotiated keepalive into the send cadence
// (spec §4.3 KeepAlive cadence: "every keepalive / KEEPALIVE_PER_PERIOD
// seconds").
const KeepAlivePerPeriod = 3

// KeepAliveInterval returns the send cadence for a negotiated keepalive.
func KeepAliveInterval(keepalive uint16) time.Duration {
	return time.Duration(keepalive) * time.Second / KeepAlivePerPeriod
}

// initDelaySequence is the backoff ladder applied on session teardown
// (spec §4.3 Initialization-delay backoff): 15, 30, 60, then capped at 120s.
var initDelaySequence = [...]time.Duration{
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// MaxDelayTimer is the backoff cap (spec §4.3: "capped at 120s
// (MAX_DELAY_TMR)").
const MaxDelayTimer = 120 * time.Second

// InitDelay returns the backoff delay for the given attempt count (0-based:
// attempt 0 is the first retry after a teardown). A keepalive change resets
// the caller's attempt counter to 0 (spec §4.3).
func InitDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(initDelaySequence) {
		return initDelaySequence[attempt]
	}
	return MaxDelayTimer
}

// LDEGCInterval is the Label Information Base garbage-collection period
// (spec §4.4).
const LDEGCInterval = 60 * time.Second
