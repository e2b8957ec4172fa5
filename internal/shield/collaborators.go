package shield

import (
	"context"
	"time"
)

// CycleTrace is the count-only summary handed to long-term memory.
type CycleTrace struct {
	Cycle            uint64        `json:"cycle"`
	At               time.Time     `json:"at"`
	Duration         time.Duration `json:"duration"`
	Rotated          bool          `json:"rotated"`
	Evaluated        int           `json:"evaluated"`
	Rejected         int           `json:"rejected"`
	Detected         int           `json:"detected"`
	Blocked          int           `json:"blocked"`
	Breaches         int           `json:"breaches"`
	SpikeFired       bool          `json:"spike_fired"`
	SpikeSucceeded   bool          `json:"spike_succeeded"`
	Health           Health        `json:"health"`
	OverallIntegrity float64       `json:"overall_integrity"`
}

// MemorySink stores cycle traces as long-term memory.
type MemorySink interface {
	Remember(ctx context.Context, trace CycleTrace) error
}

// NarrativeSink receives one human-readable line per cycle.
type NarrativeSink interface {
	Narrate(ctx context.Context, line string) error
}

// StatusBridge forwards the cycle's status to another system.
type StatusBridge interface {
	BridgeStatus(ctx context.Context, status ShieldStatus) error
}

// Collaborators are the optional sinks notified after each cycle. Nil
// members are skipped. Failures are logged and never abort a cycle.
type Collaborators struct {
	Memory    MemorySink
	Narrative NarrativeSink
	Bridges   []StatusBridge
}

func (c Collaborators) empty() bool {
	return c.Memory == nil && c.Narrative == nil && len(c.Bridges) == 0
}
