// Package trace implements the reachability-phase orchestration of
// spec.md §4.6: a Coordinator holding a small atomic worker table, and the
// per-worker loop that drains local work, steals from itself and others,
// and reports out-of-work so the main goroutine can release everyone once
// the phase has genuinely converged.
//
// Worker threads become worker goroutines here — Go's M:N scheduler
// multiplexes up to worker.MaxWorkers goroutines onto GOMAXPROCS OS
// threads, which is the idiomatic substitute for the spec's fixed OS
// thread pool. The Coordinator's counters are padded to a cache line each,
// mirroring the teacher runtime's `pad cpu.CacheLinePad` field placed after
// frequently-written scheduler counters in runtime2.go's schedt, to keep
// independent atomics from false-sharing a line under contention.
package trace

import (
	"runtime"

	"go.uber.org/atomic"

	"github.com/orbitgc/orbitgc/internal/aro"
	"github.com/orbitgc/orbitgc/internal/worker"
)

const cacheLineSize = 64

type padded struct {
	v   atomic.Int32
	pad [cacheLineSize - 4]byte
}

// Coordinator tracks the shared state of one reachability phase across a
// fixed set of worker goroutines.
type Coordinator struct {
	contexts []*worker.Context

	numUsed      padded
	numWorkless  padded
	numStopped   padded
	stopDirectly padded

	// spinLimit bounds how many times a workless worker calls
	// runtime.Gosched before it may claim a unit of the stopDirectly budget
	// and exit; once that budget is spent it keeps yielding until every
	// worker is workless. This substitutes for the
	// spec's busy-spin (a genuine spin loop fights Go's cooperative
	// scheduler instead of yielding to it — a documented deviation).
	spinLimit int
}

// New creates a Coordinator driving the given worker contexts.
// stopDirectlyBudget seeds how many workless workers may exit immediately
// without waiting for every other worker to converge first (spec.md §4.6
// "a small budget of workless workers allowed to exit early").
func New(contexts []*worker.Context, stopDirectlyBudget, spinLimit int) *Coordinator {
	c := &Coordinator{contexts: contexts, spinLimit: spinLimit}
	c.stopDirectly.v.Store(int32(stopDirectlyBudget))
	if spinLimit <= 0 {
		c.spinLimit = 64
	}
	return c
}

// NumWorkers reports how many worker contexts this Coordinator drives.
func (c *Coordinator) NumWorkers() int { return len(c.contexts) }

// Process is called once per object index popped from local or stolen
// work; it is expected to push any newly discovered live references back
// onto the owning worker's context via Processor.Visit or equivalent.
type Process func(ctx *worker.Context, idx uint32)

// RunARO invokes one drained slow-callback argument (spec.md §4.4 "Slow
// callbacks"). Implementations look the callback up in an aro.Registry by
// arg.Callback and invoke it against arg.Obj.
type RunARO func(ctx *worker.Context, arg aro.Arg)

// Run drives all worker goroutines through one reachability phase to
// completion: every worker processes local work, drains ARO callbacks,
// steals when it runs dry, and returns once every worker has reported
// workless; a worker that claims a unit of the stopDirectly budget after
// spinLimit fruitless polls returns earlier.
func (c *Coordinator) Run(process Process, runARO RunARO) {
	n := len(c.contexts)
	if n == 0 {
		return
	}
	c.numUsed.v.Store(int32(n))

	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			c.workerLoop(idx, process, runARO)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

func (c *Coordinator) workerLoop(idx int, process Process, runARO RunARO) {
	own := c.contexts[idx]
	spins := 0
	reportedWorkless := false

	for {
		if v, ok := own.PopLocal(); ok {
			process(own, v)
			continue
		}

		if own.SwapBuffers() {
			continue
		}

		if own.RefillFromOwn() {
			continue
		}

		if b := own.ARO.Drain(); b != nil {
			for _, arg := range b.Args() {
				runARO(own, arg)
			}
			own.ARO.Store().Release(b)
			continue
		}

		if c.stealFromPeers(idx) {
			if reportedWorkless {
				c.numWorkless.v.Dec()
				reportedWorkless = false
			}
			continue
		}

		if !reportedWorkless {
			c.numWorkless.v.Inc()
			reportedWorkless = true
		}

		if c.allWorkless() {
			return
		}

		if !c.KeepSpinning(&spins) {
			// Accepted race (spec.md §9 Open Questions): a peer may push a
			// fresh block the instant after we decide to stop. The owner
			// of that block will simply pick it back up on a later phase
			// or its own drain; no correctness property depends on every
			// block being stolen within the same phase invocation.
			return
		}
	}
}

// stealFromPeers tries every other worker's Async queue once, starting
// just after idx to spread contention (spec.md §4.4 "starting at an offset
// dependent on the worker index").
func (c *Coordinator) stealFromPeers(idx int) bool {
	n := len(c.contexts)
	own := c.contexts[idx]
	for off := 1; off < n; off++ {
		peer := c.contexts[(idx+off)%n]
		if peer == own {
			continue
		}
		if own.StealFrom(peer) {
			return true
		}
	}
	return false
}

func (c *Coordinator) allWorkless() bool {
	return c.numWorkless.v.Load() >= c.numUsed.v.Load()
}

// KeepSpinning reports whether a workless worker should keep polling for
// stolen work, consuming one unit of spin budget and yielding the
// goroutine's time slice via runtime.Gosched between attempts (Go's
// scheduler punishes a true busy-spin far more than it would an OS
// thread's, since a spinning goroutine still occupies a P). Past spinLimit
// it reports false only if it claims a unit of the stopDirectly budget.
func (c *Coordinator) KeepSpinning(spins *int) bool {
	if *spins >= c.spinLimit {
		for left := c.stopDirectly.v.Load(); left > 0; left = c.stopDirectly.v.Load() {
			if c.stopDirectly.v.CAS(left, left-1) {
				c.numStopped.v.Inc()
				return false
			}
		}
	}
	*spins++
	runtime.Gosched()
	return true
}
