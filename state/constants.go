package state

import "time"

// Infinity is the unreachable sentinel. No distance is ever stored or
// advertised above it.
const Infinity Distance = 16

var (
	DefaultTimerInterval = time.Second * 5
	// RouteStaleFactor multiplies the timer interval into the default
	// staleness window for learned entries.
	RouteStaleFactor = 6
	// HostLinkLatency is the cost of a port with an end host attached, so
	// that directly attached hosts sit at distance exactly 1.
	HostLinkLatency = Distance(1)
	// FloodDedupTTL bounds how long a data packet id suppresses re-flooding.
	FloodDedupTTL = time.Second * 3
)
