package orbitgc

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orbitgc/orbitgc/internal/aro"
	"github.com/orbitgc/orbitgc/internal/batch"
	"github.com/orbitgc/orbitgc/internal/destroy"
	"github.com/orbitgc/orbitgc/internal/diag"
	"github.com/orbitgc/orbitgc/internal/gather"
	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/mark"
	"github.com/orbitgc/orbitgc/internal/page"
	"github.com/orbitgc/orbitgc/internal/reach"
	"github.com/orbitgc/orbitgc/internal/trace"
	"github.com/orbitgc/orbitgc/internal/worker"
)

// phase tracks where one collection cycle's incremental tail (unhash ->
// FinishDestroy -> purge) currently stands. Mark, reachability, and gather
// always run to completion inside Collect/TryCollect; only the destruction
// tail is incremental across IncrementalPurgeGarbage calls.
type phase int

const (
	phaseIdle phase = iota
	phaseUnhashInProgress
	phaseFinishDestroyInProgress
	phasePurgeInProgress
)

// Coordinator drives one managed-object universe through collection cycles.
// It holds the caller-supplied consumed interfaces, the worker/page/ARO
// resource pools, and the incremental destruction state left pending
// between IncrementalPurgeGarbage calls.
type Coordinator struct {
	cfg Config

	table     ObjectTable
	alloc     Allocator
	classRefl ClassReflection
	roots     RootEnumerator
	permanent PermanentObjectPool
	handles   ObjectHandle
	lifecycle Lifecycle
	clusters  ClusterTable

	gcMu sync.Mutex

	pages    *page.Cache
	pool     *worker.Pool
	aroStore *aro.Store
	aroReg   *aro.Registry

	logger *diag.Logger
	events *eventBus

	collecting boolFlag

	mu           sync.Mutex
	skipStreak   int
	ph           phase
	pending      []gcobj.Index
	unhashCursor *destroy.UnhashCursor
	finishCursor *destroy.FinishDestroyCursor
	purge        *destroy.PurgeState
	destroyLock  sync.Mutex
}

// boolFlag is a tiny CAS-free atomic bool built on sync.Mutex, matching the
// granularity every other piece of shared Coordinator state already uses;
// pulling in a dedicated atomic.Bool for one field would be the only such
// import in this file.
type boolFlag struct {
	mu sync.RWMutex
	v  bool
}

func (f *boolFlag) Store(v bool) { f.mu.Lock(); f.v = v; f.mu.Unlock() }
func (f *boolFlag) Load() bool   { f.mu.RLock(); defer f.mu.RUnlock(); return f.v }

// New creates a Coordinator over the given managed-object universe. cfg's
// zero value is replaced field-by-field with DefaultConfig where unset
// (NumWorkers <= 0, MarkStripes <= 0, GatherStripes <= 0).
func New(cfg Config, table ObjectTable, alloc Allocator, classRefl ClassReflection, roots RootEnumerator, permanent PermanentObjectPool, handles ObjectHandle, lifecycle Lifecycle, clusters ClusterTable) *Coordinator {
	def := DefaultConfig()
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = def.NumWorkers
	}
	if cfg.NumWorkers > worker.MaxWorkers {
		cfg.NumWorkers = worker.MaxWorkers
	}
	if cfg.MarkStripes <= 0 {
		cfg.MarkStripes = def.MarkStripes
	}
	if cfg.GatherStripes <= 0 {
		cfg.GatherStripes = def.GatherStripes
	}
	if cfg.AROStoreCapacity <= 0 {
		cfg.AROStoreCapacity = def.AROStoreCapacity
	}
	if cfg.FinishDestroyMaxStall <= 0 {
		cfg.FinishDestroyMaxStall = def.FinishDestroyMaxStall
	}
	if cfg.PurgeBatchPerTick <= 0 {
		cfg.PurgeBatchPerTick = def.PurgeBatchPerTick
	}

	return &Coordinator{
		cfg:       cfg,
		table:     table,
		alloc:     alloc,
		classRefl: classRefl,
		roots:     roots,
		permanent: permanent,
		handles:   handles,
		lifecycle: lifecycle,
		clusters:  clusters,
		pages:     page.NewCache(cfg.NumWorkers, 2+cfg.NumSlowAROCallbacks),
		pool:      worker.NewPool(),
		aroStore:  aro.NewStore(cfg.AROStoreCapacity),
		aroReg:    aro.NewRegistry(),
		logger:    diag.NewLogger(cfg.Logger),
		events:    newEventBus(),
		ph:        phaseIdle,
	}
}

// RegisterSlowARO registers a slow reference callback for a class to invoke
// during tracing (spec.md §4.4 "Slow callbacks"), returning its index, or
// false if the registry's closed capacity is exhausted.
func (c *Coordinator) RegisterSlowARO(name string, tier AROTier, fn AROFunc) (int, bool) {
	return c.aroReg.Register(name, tier, fn)
}

// FindSlowARO looks up a previously registered slow callback's index by
// name.
func (c *Coordinator) FindSlowARO(name string) (int, bool) {
	return c.aroReg.Find(name)
}

// IsHandleResolved reports whether handle currently resolves to a live
// object, delegating to the ObjectHandle consumed interface supplied to
// New. Host-written schema Accessor closures call this from inside their
// own accessor to skip unresolved lazy handles before returning RefSlot
// values — orbitgc's own schema.Kind set has no handle-specific entry kind,
// since what "resolving" means is entirely host-defined.
func (c *Coordinator) IsHandleResolved(handle interface{}) bool {
	if c.handles == nil {
		return true
	}
	return c.handles.IsResolved(handle)
}

// IsCollecting reports whether a Collect/TryCollect call is currently
// running its mark/reachability/gather pass.
func (c *Coordinator) IsCollecting() bool { return c.collecting.Load() }

// IsLockedForHashTables reports whether the GC lock is currently held,
// mirroring spec.md §6's "is it unsafe right now to rehash a table keyed by
// object identity" query.
func (c *Coordinator) IsLockedForHashTables() bool {
	if c.gcMu.TryLock() {
		c.gcMu.Unlock()
		return false
	}
	return true
}

// IsIncrementalUnhashPending reports whether a previous Collect's unhash +
// BeginDestroy pass has not yet finished.
func (c *Coordinator) IsIncrementalUnhashPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ph == phaseUnhashInProgress
}

// IsIncrementalPurgePending reports whether any part of the incremental
// destruction tail (unhash, FinishDestroy, or purge) is still outstanding.
func (c *Coordinator) IsIncrementalPurgePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ph != phaseIdle
}

// Subscribe registers a channel receiving CollectionEvents of kind.
func (c *Coordinator) Subscribe(kind EventKind) (int, <-chan CollectionEvent) {
	return c.events.Subscribe(kind)
}

// Unsubscribe removes a previously registered subscription.
func (c *Coordinator) Unsubscribe(id int) { c.events.Unsubscribe(id) }

// CountLiveBytes reports bytes currently held by the page cache backing
// work blocks, ARO blocks, and batch staging buffers.
func (c *Coordinator) CountLiveBytes() int64 { return c.pages.CountBytes() }

// Collect runs one full mark + reachability + gather pass, blocking until
// the GC lock is acquired, then leaves the resulting garbage list pending
// for IncrementalPurgeGarbage to destroy across subsequent ticks.
func (c *Coordinator) Collect() error {
	c.gcMu.Lock()
	defer c.gcMu.Unlock()
	c.mu.Lock()
	c.skipStreak = 0
	c.mu.Unlock()
	return c.runCycle()
}

// TryCollect attempts Collect without blocking. If the GC lock is already
// held, it returns ErrGCBusy unless the consecutive-skip streak has reached
// Config.NumRetriesBeforeForcingGC, in which case it falls back to a
// blocking Collect.
func (c *Coordinator) TryCollect() error {
	if c.gcMu.TryLock() {
		c.mu.Lock()
		c.skipStreak = 0
		c.mu.Unlock()
		defer c.gcMu.Unlock()
		return c.runCycle()
	}

	c.mu.Lock()
	c.skipStreak++
	forced := c.cfg.NumRetriesBeforeForcingGC > 0 && c.skipStreak >= c.cfg.NumRetriesBeforeForcingGC
	c.mu.Unlock()

	if forced {
		return c.Collect()
	}
	return ErrGCBusy
}

func (c *Coordinator) runCycle() error {
	c.collecting.Store(true)
	defer c.collecting.Store(false)

	cycleID := uuid.New()
	cycleLog := c.logger.ForCycle(cycleID)
	start := time.Now()

	c.events.publish(CollectionEvent{Kind: PreCollect})
	c.seedRoots()

	// AllowParallel forces every phase of this cycle down to a single
	// worker/stripe instead of the configured fan-out, per spec.md §6.
	numWorkers := c.cfg.NumWorkers
	markStripes := c.cfg.MarkStripes
	gatherStripes := c.cfg.GatherStripes
	if !c.cfg.AllowParallel {
		numWorkers = 1
		markStripes = 1
		gatherStripes = 1
	}

	markStart := time.Now()
	markResult, err := mark.Sweep(c.table, c.clusters, c.cfg.KeepFlags, markStripes)
	if err != nil {
		return wrapInvariantError(err)
	}
	c.logger.PhaseTiming(cycleLog, "mark", time.Since(markStart).Milliseconds())

	contexts := c.pool.Acquire(numWorkers, c.pages, c.aroStore)
	defer func() {
		for _, ctx := range contexts {
			c.pages.TrimWorker(ctx.Index, c.minReservedPages())
		}
		c.pool.Release(contexts)
	}()

	c.seedReachable(contexts, markResult.Reachable)

	traceStart := time.Now()
	if err := c.runTrace(contexts, cycleLog); err != nil {
		return err
	}
	c.logger.PhaseTiming(cycleLog, "reachability", time.Since(traceStart).Milliseconds())

	for _, ctx := range contexts {
		ctx.FlushOutgoing()
		ctx.ARO.Flush()
	}

	gatherStart := time.Now()
	gatherResult, err := gather.Gather(c.table, c.clusters, contexts, gatherStripes)
	if err != nil {
		return wrapInvariantError(err)
	}
	c.logger.PhaseTiming(cycleLog, "gather", time.Since(gatherStart).Milliseconds())

	switch c.cfg.GarbageReferenceTracking {
	case GarbageReferenceOff:
	case GarbageReferenceSampled:
		for i, gr := range gatherResult.GarbageRefs {
			if i%garbageReferenceSampleRate == 0 {
				c.logger.GarbageReference(cycleLog, gr.Referrer, gr.Target)
			}
		}
	default:
		for _, gr := range gatherResult.GarbageRefs {
			c.logger.GarbageReference(cycleLog, gr.Referrer, gr.Target)
		}
	}

	if shouldVerifyAssumptions(c.cfg.VerifyAssumptionsChance) {
		if err := c.verifyAssumptions(); err != nil {
			return wrapInvariantError(err)
		}
	}

	c.mu.Lock()
	c.pending = gatherResult.UnreachableObjects
	c.unhashCursor = &destroy.UnhashCursor{}
	c.finishCursor = &destroy.FinishDestroyCursor{}
	c.purge = destroy.NewPurgeState(c.pending, c.table, c.alloc, c.lifecycle, &c.destroyLock, c.cfg.MultithreadedDestructionEnabled)
	c.purge.StartAsync()
	c.ph = phaseUnhashInProgress
	c.mu.Unlock()

	reachableCount := len(markResult.Reachable)
	unreachableCount := len(gatherResult.UnreachableObjects)

	c.logger.CycleEnd(cycleLog, reachableCount, unreachableCount, time.Since(start).Milliseconds())
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CycleDuration.Observe(time.Since(start).Seconds())
		c.cfg.Metrics.ObjectsReachable.Set(float64(reachableCount))
		c.cfg.Metrics.ObjectsDead.Set(float64(unreachableCount))
	}

	c.events.publish(CollectionEvent{
		Kind:               PostCollect,
		ObjectsReachable:   reachableCount,
		ObjectsUnreachable: unreachableCount,
	})
	return nil
}

// minReservedPages is the per-worker page count a cycle's workers are
// trimmed back down to once they finish, matching the reservation New
// sizes the page cache with.
func (c *Coordinator) minReservedPages() int {
	return 2 + c.cfg.NumSlowAROCallbacks
}

// shouldVerifyAssumptions rolls Config.VerifyAssumptionsChance, spec.md §6's
// "probability of running invariant checks at end of cycle".
func shouldVerifyAssumptions(chance float64) bool {
	if chance <= 0 {
		return false
	}
	if chance >= 1 {
		return true
	}
	return mathrand.Float64() < chance
}

// verifyAssumptions re-walks the object table checking the invariants the
// core relies on but never re-verifies on its own hot path: a destroyed
// entry must have released its Raw pointer, and a root-flagged entry must
// never carry a stale Unreachable verdict from a previous cycle (spec.md
// §9's core race-free-flag invariant, the one a pre-set flag at allocation
// time would silently violate).
func (c *Coordinator) verifyAssumptions() error {
	for i := c.table.GetFirstGCIndex(); i < c.table.Num(); i++ {
		entry, ok := c.table.IndexToItem(i)
		if !ok || entry == nil {
			continue
		}
		if entry.Flags.Has(gcobj.Destroyed) && entry.Raw != nil {
			return pkgerrors.Errorf("object %d flagged Destroyed still holds a live Raw pointer", i)
		}
		if entry.Flags.Has(gcobj.RootSet) && entry.Flags.Has(gcobj.Unreachable) {
			return pkgerrors.Errorf("object %d is root-flagged but carries a stale Unreachable verdict", i)
		}
	}
	return nil
}

// seedRoots flags every root the caller's RootEnumerator reports as RootSet
// for this cycle, split across worker indices the same way tracing itself
// will be. mark.Sweep reads this flag directly off each entry rather than
// consulting RootEnumerator itself, so the flag must be (re-)applied before
// every cycle; it is otherwise idempotent to re-set on objects that were
// already roots in a prior cycle.
func (c *Coordinator) seedRoots() {
	if c.roots == nil {
		return
	}
	for w := 0; w < c.cfg.NumWorkers; w++ {
		w := w
		c.roots.EnumerateRoots(w, c.cfg.NumWorkers, func(idx gcobj.Index) {
			entry, ok := c.table.IndexToItem(idx)
			if !ok || entry == nil {
				return
			}
			entry.Flags.Set(gcobj.RootSet)
		})
	}
}

// seedReachable distributes the mark phase's initial reachable set
// round-robin across worker contexts' outgoing blocks and flushes them, so
// trace.Coordinator.Run's workers find starting work on their own Async
// queues the first time they call RefillFromOwn.
func (c *Coordinator) seedReachable(contexts []*worker.Context, reachable []gcobj.Index) {
	if len(contexts) == 0 {
		return
	}
	for i, idx := range reachable {
		ctx := contexts[i%len(contexts)]
		ctx.Enqueue(uint32(idx))
	}
	for _, ctx := range contexts {
		ctx.FlushOutgoing()
	}
}

// runTrace builds one batch.Pipeline per worker context wired to the
// reachability processor, then drives every worker through trace.Coordinator
// until the phase converges. An invalid-object validation failure raised by
// the batcher is recovered at this boundary and converted to an
// InvariantError rather than crashing a worker goroutine silently.
func (c *Coordinator) runTrace(contexts []*worker.Context, cycleLog *zap.Logger) error {
	processor := reach.New(c.table, c.clusters)
	pipelines := make([]*batch.Pipeline, len(contexts))
	structBatchers := make([]*batch.StructBatcher, len(contexts))
	for i, ctx := range contexts {
		pipelines[i] = batch.NewPipeline(c.table, c.permanent, processor.Sink(ctx))
		structBatchers[i] = batch.NewStructBatcher()
	}

	var errMu sync.Mutex
	var firstErr error
	recordErr := func(r interface{}) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = invariantFromPanic(r)
		}
	}

	process := func(ctx *worker.Context, idx uint32) {
		defer func() {
			if r := recover(); r != nil {
				recordErr(r)
			}
		}()
		c.visitObject(ctx, pipelines[ctx.Index], structBatchers[ctx.Index], idx)
	}

	runARO := func(ctx *worker.Context, arg aro.Arg) {
		defer func() {
			if r := recover(); r != nil {
				recordErr(r)
			}
		}()
		cb := c.aroReg.At(arg.Callback)
		if cb == nil {
			return
		}
		cb.Fn(arg.Obj, func(target uint32) { ctx.Enqueue(target) })
	}

	coord := trace.New(contexts, c.cfg.StopDirectlyBudget, c.cfg.SpinLimit)
	coord.Run(process, runARO)

	return firstErr
}

func (c *Coordinator) visitObject(ctx *worker.Context, pipeline *batch.Pipeline, sb *batch.StructBatcher, idx uint32) {
	entry, ok := c.table.IndexToItem(gcobj.Index(idx))
	if !ok || entry == nil || entry.Raw == nil || entry.Class == nil {
		return
	}
	if c.permanent != nil && c.permanent.Contains(entry.Object) {
		return
	}

	enqueue := func(target uint32) { ctx.Enqueue(target) }
	aroSink := func(callback int, obj interface{}) bool {
		return c.dispatchSlowARO(ctx, callback, obj, enqueue)
	}

	handle := c.classRefl.SchemaFor(entry.Class)
	if handle != nil {
		batch.Expand(entry.Raw, handle, pipeline, sb, aroSink)
		batch.DrainStructBatch(sb, pipeline, aroSink)
	}
	pipeline.Flush()

	if wrs, ok := entry.Raw.(WeakRefSource); ok {
		for _, w := range wrs.WeakRefs() {
			ctx.WeakRefs = append(ctx.WeakRefs, worker.WeakRef{Target: w.Target, Clear: w.Clear})
		}
	}

	for _, cb := range c.classRefl.SlowCallbacks(entry.Class) {
		c.dispatchSlowARO(ctx, cb, entry.Raw, enqueue)
	}
}

// dispatchSlowARO invokes a registered slow-ARO callback directly (Fast
// tier) or hands it to the worker's ARO queue for out-of-band draining,
// falling back to a synchronous call when the queue is exhausted (spec.md
// §4.4/§7). Always reports true: an unregistered callback index has
// nothing to run, and a full queue is handled here by the synchronous
// fallback, so batch.Expand's MemberCallback case has nothing further to do.
func (c *Coordinator) dispatchSlowARO(ctx *worker.Context, callback int, obj interface{}, enqueue func(uint32)) bool {
	cb := c.aroReg.At(callback)
	if cb == nil {
		return true
	}
	if cb.Tier == aro.Fast {
		cb.Fn(obj, enqueue)
		return true
	}
	if ctx.ARO.Enqueue(callback, obj) {
		return true
	}
	ctx.Stats.AROFallbacks++
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.AROQueueFull.Inc()
	}
	cb.Fn(obj, enqueue)
	return true
}

// IncrementalPurgeGarbage advances the pending unhash/FinishDestroy/purge
// tail left by the most recent Collect, spending at most timeLimit (or
// running unbounded if timeLimit <= 0) before returning. It reports done
// once the tail has fully drained back to idle.
func (c *Coordinator) IncrementalPurgeGarbage(timeLimit time.Duration) (bool, error) {
	c.mu.Lock()
	ph := c.ph
	objects := c.pending
	unhashCursor := c.unhashCursor
	finishCursor := c.finishCursor
	purgeState := c.purge
	c.mu.Unlock()

	if ph == phaseIdle {
		return true, nil
	}

	unlimited := timeLimit <= 0
	var deadline time.Time
	if !unlimited {
		deadline = time.Now().Add(timeLimit)
	}
	budget := destroy.Budget{Clock: time.Now, Deadline: deadline, Unlimited: unlimited}

	if ph == phaseUnhashInProgress {
		unhashBudget := budget
		if !c.cfg.IncrementalBeginDestroyEnabled {
			// BeginDestroy must run to completion in one shot rather than
			// time-slice across calls, per spec.md §6
			// "IncrementalBeginDestroyEnabled".
			unhashBudget = destroy.Budget{Clock: time.Now, Unlimited: true}
		}
		if !destroy.UnhashPass(objects, unhashCursor, c.lifecycle, c.table, unhashBudget) {
			return false, nil
		}
		c.mu.Lock()
		c.ph = phaseFinishDestroyInProgress
		c.mu.Unlock()
		ph = phaseFinishDestroyInProgress
	}

	if ph == phaseFinishDestroyInProgress {
		done, stallErr := destroy.FinishDestroyPass(objects, finishCursor, c.lifecycle, c.table, budget, c.cfg.FinishDestroyMaxStall)
		if stallErr != nil {
			stalled := stalledObjects(stallErr)
			c.logger.Stalled(c.logger.ForCycle(uuid.Nil), stalled, c.cfg.StallPolicy == ContinueWithWarning)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.StalledObjects.Set(float64(len(stalled)))
			}
			if c.cfg.StallPolicy == Abort {
				return false, &StallError{cause: stallErr}
			}
			done = true
		}
		if !done {
			return false, nil
		}
		c.mu.Lock()
		c.ph = phasePurgeInProgress
		c.mu.Unlock()
		ph = phasePurgeInProgress
	}

	if ph == phasePurgeInProgress {
		// AsyncPurge must not start touching entry.Raw concurrently with
		// UnhashPass/FinishDestroyPass's own reads of it, so the begin
		// event is only released once the incremental tail has actually
		// reached purge, per spec.md §4.10's state machine (UnhashInProgress
		// -> FinishDestroyInProgress -> PurgeInProgress). TriggerBegin is
		// idempotent, so it is safe to call on every tick that reaches this
		// phase, not just the first.
		purgeState.TriggerBegin()
		for !purgeState.Complete() {
			purgeState.TickMainThread(c.cfg.PurgeBatchPerTick)
			if !unlimited && !time.Now().Before(deadline) {
				return false, nil
			}
		}
		purgeState.Wait()
		c.mu.Lock()
		c.ph = phaseIdle
		c.pending = nil
		c.unhashCursor = nil
		c.finishCursor = nil
		c.purge = nil
		c.mu.Unlock()
		c.logger.PurgeComplete(c.logger.ForCycle(uuid.Nil), len(objects))
		return true, nil
	}

	return true, nil
}

// stalledObjects extracts the per-object indices wrapped in a FinishDestroy
// stall error (a *multierror.Error of *destroy.NotReadyError, one per
// object that never reported ready).
func stalledObjects(err error) []gcobj.Index {
	merr, ok := err.(*multierror.Error)
	if !ok {
		return nil
	}
	out := make([]gcobj.Index, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		if nr, ok := e.(*destroy.NotReadyError); ok {
			out = append(out, nr.Object)
		}
	}
	return out
}
