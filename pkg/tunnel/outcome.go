package tunnel

import (
	"time"

	"vpnmon/pkg/target"
)

// Outcome is the immutable result of one connection attempt. Exactly one is
// produced per attempt and handed off for persistence.
type Outcome struct {
	AttemptID   string
	Server      *target.Server
	Success     bool
	PPPUp       bool
	Latency     time.Duration
	ErrorDetail string
	Timestamp   time.Time
}

// LatencyMillis returns the attempt latency in whole milliseconds, never
// negative.
func (o *Outcome) LatencyMillis() int64 {
	ms := o.Latency.Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
