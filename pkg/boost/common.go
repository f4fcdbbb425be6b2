// Package boost coordinates temporary per-CPU minimum-frequency floors. A
// weak boost raises the floors to a fixed tier for a short duration on input
// activity; a max boost pins them to the policy maximum for a caller-chosen
// duration and overrides any weak boost.
package boost

import (
	"math"
	"time"
)

// FloorUnbounded is the sentinel floor meaning "boost to the policy maximum".
const FloorUnbounded uint32 = math.MaxUint32

const (
	DefaultLowTierFreq   uint32 = 1113600
	DefaultHighTierFreq  uint32 = 1113600
	DefaultLowTierCPUs   uint   = 4
	DefaultBoostDuration        = 150 * time.Millisecond
	DefaultKickStaleness        = 5000 * time.Millisecond
)

// taskQueueDepth bounds the coordinator task channel. Weak activations are
// deduplicated before queueing, so the queue never holds more than a handful
// of tasks in practice.
const taskQueueDepth = 16

// BiasHint is an optional callback raised while any boost is in flight and
// lowered on expiry. It lets a scheduler bias placement toward boosted cores.
type BiasHint func(active bool)

// Opts carries the boost tier and timing configuration. The two tiers default
// to the same frequency; the mechanism keeps them independent.
type Opts struct {
	// LowTierFreq is the floor in kHz applied to the first LowTierCPUs cores
	// on a weak boost.
	LowTierFreq uint32
	// HighTierFreq is the floor in kHz applied to the remaining cores.
	HighTierFreq uint32
	// LowTierCPUs is the CPU ID below which LowTierFreq applies.
	LowTierCPUs uint
	// BoostDuration is how long a weak boost holds before expiry.
	BoostDuration time.Duration
	// KickStaleness is the window after the last accepted trigger within
	// which a Kick is still honored.
	KickStaleness time.Duration
	// Bias, when non-nil, receives scheduler bias hints.
	Bias BiasHint
}

func (o Opts) withDefaults() Opts {
	if o.LowTierFreq == 0 {
		o.LowTierFreq = DefaultLowTierFreq
	}
	if o.HighTierFreq == 0 {
		o.HighTierFreq = DefaultHighTierFreq
	}
	if o.LowTierCPUs == 0 {
		o.LowTierCPUs = DefaultLowTierCPUs
	}
	if o.BoostDuration == 0 {
		o.BoostDuration = DefaultBoostDuration
	}
	if o.KickStaleness == 0 {
		o.KickStaleness = DefaultKickStaleness
	}
	return o
}

// CoreProvider yields the CPUs this coordinator manages. PresentCPUs is read
// once at construction to size the per-core state; OnlineCPUs is read on
// every policy fan-out.
type CoreProvider interface {
	PresentCPUs() []uint
	OnlineCPUs() []uint
}

// PolicyAuthority re-evaluates frequency limits for a single CPU. Refresh is
// expected to synchronously invoke the registered adjust notifiers, including
// this coordinator's AdjustLimits, and then enforce the result. It is
// best-effort; failures stay inside the authority.
type PolicyAuthority interface {
	Refresh(cpu uint)
}

// Stats is a snapshot of the coordinator trigger counters.
type Stats struct {
	WeakActivations   uint64
	StrongActivations uint64
	DroppedPending    uint64
	DroppedStale      uint64
	DroppedMaxActive  uint64
	Expiries          uint64
}
