package boost

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// Func definitions for unit testing
var (
	getCurrentTimestamp = time.Now
)

var (
	ErrNoCPUs      = errors.New("core provider reported no present CPUs")
	ErrNoProvider  = errors.New("core provider must not be nil")
	ErrNoAuthority = errors.New("policy authority must not be nil")
	ErrAlreadyBusy = errors.New("coordinator is already running")
)

// Coordinator raises and releases per-CPU minimum-frequency floors in
// response to input activity and explicit max-boost requests.
//
// InputEvent, Kick and MaxBoost may be called from any goroutine. All floor
// mutations run on the single worker driven by Start, so they are totally
// ordered. AdjustLimits is the policy-adjust notifier and may be invoked
// concurrently by the policy authority; it never blocks.
type Coordinator interface {
	// Start runs the coordinator task queue until ctx is cancelled.
	Start(ctx context.Context) error
	// InputEvent records input activity and queues a weak boost unless one
	// is already in flight.
	InputEvent()
	// Kick queues a weak boost on behalf of a collaborator, honored only
	// within the staleness window after the last accepted trigger.
	Kick()
	// MaxBoost raises every floor to the unbounded tier for the given
	// duration. It always takes effect, overriding any weak boost.
	MaxBoost(duration time.Duration)
	// AdjustLimits clamps a proposed (min, max) limit pair for one CPU
	// against that CPU's current boost floor.
	AdjustLimits(cpu uint, policyMin, policyMax uint32) (uint32, uint32)
	// Floor returns the currently requested floor for a CPU in kHz.
	Floor(cpu uint) uint32
	// CPUs returns the IDs of all CPUs with per-core boost state.
	CPUs() []uint
	// MaxBoostActive reports whether a max boost is currently held.
	MaxBoostActive() bool
	// PendingExpiry reports whether an expiry is scheduled and its deadline.
	PendingExpiry() (time.Time, bool)
	// Stats returns a snapshot of the trigger counters.
	Stats() Stats
}

type coreState struct {
	cpuID   uint
	present bool
	floor   atomic.Uint32
}

type taskKind int

const (
	taskWeakBoost taskKind = iota
	taskMaxBoost
	taskExpiry
)

type task struct {
	kind     taskKind
	duration time.Duration
	// generation of the expiry schedule this task belongs to; a stale
	// generation means the expiry was superseded and must not run.
	generation uint64
}

type coordinatorImpl struct {
	opts      Opts
	cores     []coreState
	provider  CoreProvider
	authority PolicyAuthority
	logger    logr.Logger

	tasks       chan task
	weakPending atomic.Bool
	lastTrigger atomic.Int64
	maxActive   atomic.Bool
	running     atomic.Bool

	// worker-owned; only touched from the Start goroutine
	expiryTimer *time.Timer
	expiryGen   atomic.Uint64
	// unix nanos of the scheduled expiry, 0 when none is pending
	expiryDeadline atomic.Int64

	weakActivations   atomic.Uint64
	strongActivations atomic.Uint64
	droppedPending    atomic.Uint64
	droppedStale      atomic.Uint64
	droppedMaxActive  atomic.Uint64
	expiries          atomic.Uint64
}

// NewCoordinator builds a Coordinator over the CPUs reported by provider.
// The caller must register AdjustLimits with the policy authority and run
// Start before triggers take effect.
func NewCoordinator(
	opts Opts,
	provider CoreProvider,
	authority PolicyAuthority,
	logger logr.Logger,
) (Coordinator, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if authority == nil {
		return nil, ErrNoAuthority
	}

	present := provider.PresentCPUs()
	if len(present) == 0 {
		return nil, ErrNoCPUs
	}

	maxID := uint(0)
	for _, cpu := range present {
		if cpu > maxID {
			maxID = cpu
		}
	}

	c := &coordinatorImpl{
		opts:      opts.withDefaults(),
		cores:     make([]coreState, maxID+1),
		provider:  provider,
		authority: authority,
		logger:    logger,
		tasks:     make(chan task, taskQueueDepth),
	}
	for i := range c.cores {
		c.cores[i].cpuID = uint(i)
	}
	for _, cpu := range present {
		c.cores[cpu].present = true
	}

	return c, nil
}

func (c *coordinatorImpl) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyBusy
	}
	defer c.running.Store(false)

	c.logger.V(5).Info("coordinator worker started")
	for {
		select {
		case <-ctx.Done():
			c.cancelExpiry()
			c.logger.V(5).Info("coordinator worker stopped")
			return nil
		case t := <-c.tasks:
			c.runTask(t)
		}
	}
}

func (c *coordinatorImpl) InputEvent() {
	c.lastTrigger.Store(getCurrentTimestamp().UnixNano())

	if !c.weakPending.CompareAndSwap(false, true) {
		c.droppedPending.Add(1)
		return
	}
	c.setBias(true)
	c.enqueue(task{kind: taskWeakBoost})
}

func (c *coordinatorImpl) Kick() {
	last := c.lastTrigger.Load()
	if getCurrentTimestamp().Sub(time.Unix(0, last)) > c.opts.KickStaleness {
		c.droppedStale.Add(1)
		return
	}
	if !c.weakPending.CompareAndSwap(false, true) {
		c.droppedPending.Add(1)
		return
	}
	c.setBias(true)
	c.enqueue(task{kind: taskWeakBoost})
}

func (c *coordinatorImpl) MaxBoost(duration time.Duration) {
	c.setBias(true)
	c.enqueue(task{kind: taskMaxBoost, duration: duration})
}

func (c *coordinatorImpl) AdjustLimits(cpu uint, policyMin, policyMax uint32) (uint32, uint32) {
	if int(cpu) >= len(c.cores) {
		return policyMin, policyMax
	}

	floor := c.cores[cpu].floor.Load()
	if floor == 0 {
		return policyMin, policyMax
	}

	effective := floor
	if effective == FloorUnbounded {
		effective = policyMax
	}
	if effective > policyMax {
		effective = policyMax
	}
	if policyMin < effective {
		c.logger.V(5).Info("raising policy min to boost floor",
			"cpu", cpu, "policyMin", policyMin, "boostMin", effective)
		policyMin = effective
	}
	if policyMin > policyMax {
		policyMin = policyMax
	}

	return policyMin, policyMax
}

func (c *coordinatorImpl) Floor(cpu uint) uint32 {
	if int(cpu) >= len(c.cores) {
		return 0
	}
	return c.cores[cpu].floor.Load()
}

func (c *coordinatorImpl) CPUs() []uint {
	cpus := make([]uint, 0, len(c.cores))
	for i := range c.cores {
		if c.cores[i].present {
			cpus = append(cpus, c.cores[i].cpuID)
		}
	}
	return cpus
}

func (c *coordinatorImpl) MaxBoostActive() bool {
	return c.maxActive.Load()
}

func (c *coordinatorImpl) PendingExpiry() (time.Time, bool) {
	deadline := c.expiryDeadline.Load()
	if deadline == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, deadline), true
}

func (c *coordinatorImpl) Stats() Stats {
	return Stats{
		WeakActivations:   c.weakActivations.Load(),
		StrongActivations: c.strongActivations.Load(),
		DroppedPending:    c.droppedPending.Load(),
		DroppedStale:      c.droppedStale.Load(),
		DroppedMaxActive:  c.droppedMaxActive.Load(),
		Expiries:          c.expiries.Load(),
	}
}

// enqueue hands a task to the worker without blocking the trigger path. The
// queue only fills when the worker is not running. A full queue drops weak
// and expiry tasks (releasing the weak pending slot), but a max boost always
// takes effect: it displaces the oldest queued task instead.
func (c *coordinatorImpl) enqueue(t task) {
	for {
		select {
		case c.tasks <- t:
			return
		default:
		}

		if t.kind != taskMaxBoost {
			if t.kind == taskWeakBoost {
				c.weakPending.Store(false)
			}
			c.logger.V(5).Info("task queue full, dropping task", "kind", t.kind)
			return
		}

		select {
		case displaced := <-c.tasks:
			if displaced.kind == taskWeakBoost {
				c.weakPending.Store(false)
			}
			c.logger.V(5).Info("task queue full, displacing task for max boost", "kind", displaced.kind)
		default:
		}
	}
}

func (c *coordinatorImpl) runTask(t task) {
	switch t.kind {
	case taskWeakBoost:
		c.runWeakBoost()
	case taskMaxBoost:
		c.runMaxBoost(t.duration)
	case taskExpiry:
		c.runExpiry(t.generation)
	}
}

func (c *coordinatorImpl) runWeakBoost() {
	c.weakPending.Store(false)

	if c.maxActive.Load() {
		// never weaken an active max boost
		c.droppedMaxActive.Add(1)
		return
	}

	c.cancelExpiry()
	c.lastTrigger.Store(getCurrentTimestamp().UnixNano())

	c.logger.V(5).Info("setting input boost floor for all CPUs")
	for i := range c.cores {
		if c.cores[i].cpuID < c.opts.LowTierCPUs {
			c.cores[i].floor.Store(c.opts.LowTierFreq)
		} else {
			c.cores[i].floor.Store(c.opts.HighTierFreq)
		}
	}

	c.refreshOnline()
	c.scheduleExpiry(c.opts.BoostDuration)
	c.weakActivations.Add(1)
}

func (c *coordinatorImpl) runMaxBoost(duration time.Duration) {
	c.cancelExpiry()

	c.logger.V(5).Info("setting unbounded boost floor for all CPUs", "duration", duration)
	for i := range c.cores {
		c.cores[i].floor.Store(FloorUnbounded)
	}

	c.refreshOnline()
	c.scheduleExpiry(duration)
	c.maxActive.Store(true)
	c.strongActivations.Add(1)
}

func (c *coordinatorImpl) runExpiry(generation uint64) {
	if generation != c.expiryGen.Load() {
		// superseded by a newer activation
		return
	}
	c.expiryDeadline.Store(0)
	c.expiryTimer = nil

	c.setBias(false)

	c.logger.V(5).Info("resetting boost floor for all CPUs")
	for i := range c.cores {
		c.cores[i].floor.Store(0)
	}

	c.refreshOnline()
	c.maxActive.Store(false)
	c.expiries.Add(1)
}

// cancelExpiry invalidates any scheduled expiry. Bumping the generation
// before stopping the timer guarantees an expiry task that already fired into
// the queue is discarded when dequeued, which is what makes a superseding
// activation safe against a stale reset.
func (c *coordinatorImpl) cancelExpiry() {
	c.expiryGen.Add(1)
	c.expiryDeadline.Store(0)
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
}

func (c *coordinatorImpl) scheduleExpiry(d time.Duration) {
	generation := c.expiryGen.Load()
	c.expiryDeadline.Store(getCurrentTimestamp().Add(d).UnixNano())
	c.expiryTimer = time.AfterFunc(d, func() {
		c.enqueue(task{kind: taskExpiry, generation: generation})
	})
}

// refreshOnline asks the policy authority to recompute limits for every
// online CPU, which calls back into AdjustLimits per CPU.
func (c *coordinatorImpl) refreshOnline() {
	for _, cpu := range c.provider.OnlineCPUs() {
		c.logger.V(5).Info("refreshing policy", "cpu", cpu)
		c.authority.Refresh(cpu)
	}
}

func (c *coordinatorImpl) setBias(active bool) {
	if c.opts.Bias != nil {
		c.opts.Bias(active)
	}
}
