// Package worker provides the per-worker collector state (FWorkerContext in
// spec.md §3) and a small-integer worker-index allocator, mirroring the
// teacher runtime's per-P (*p) state plus its "acquirep"-style identity
// assignment, generalized from OS-thread Ps to goroutine workers.
package worker

import (
	"sync"

	"github.com/orbitgc/orbitgc/internal/aro"
	"github.com/orbitgc/orbitgc/internal/page"
	"github.com/orbitgc/orbitgc/internal/workqueue"
)

// MaxWorkers bounds how many worker contexts a Coordinator may hand out, as
// fixed by spec.md §4.6.
const MaxWorkers = 16

// BlockCapacity bounds how many object indices one work block holds.
// Blocks are still budgeted against the page cache (spec.md §3 "Work
// block... a fixed-size page") for memory accounting even though, unlike
// the teacher's workbuf, a block's Objs slice is plain Go-managed memory
// rather than bytes carved out of the page itself — reinterpreting a raw
// scratch page as a typed Go slice would require unsafe tricks this
// library avoids given there is no way to verify them without building.
const BlockCapacity = 504

// WeakRef is a recorded weak-reference slot: the target object index to
// watch, and the caller-supplied action to null the referencing slot if
// Target turns out to be unreachable at weak-clear time.
type WeakRef struct {
	Target uint32
	Clear  func()
}

// GarbageRef is a recorded garbage-reference diagnostic: a reference that
// survived to a garbage-flagged object because its referrer kept it alive.
type GarbageRef struct {
	Referrer uint32
	Target   uint32
}

// Context is one worker's local collector state for the duration of a
// single reachability pass: local work (an actively-drained "incoming"
// block realizing the spec's "synchronous stack of blocks owned locally",
// plus an "outgoing" block being filled with newly discovered work before
// it is published) and the asynchronous, stealable Async queue other
// workers may steal full blocks from.
type Context struct {
	Index int

	pages *page.Cache

	Async *workqueue.Queue

	incoming *workqueue.Block
	outgoing *workqueue.Block

	ARO *aro.WorkerQueue

	WeakRefs    []WeakRef
	GarbageRefs []GarbageRef

	Stats Stats
}

// Stats accumulates per-cycle counters for diagnostics/metrics.
type Stats struct {
	ObjectsVisited   int64
	ReferencesQueued int64
	Steals           int64
	StealAttempts    int64
	AROFallbacks     int64
}

func newContext(index int, pages *page.Cache, aroStore *aro.Store) *Context {
	return &Context{
		Index: index,
		pages: pages,
		Async: workqueue.New(workqueue.DefaultCapacity),
		ARO:   aro.NewWorkerQueue(aroStore),
	}
}

// Reset clears a context's per-cycle scratch state so it can be reused on
// the next cycle without reallocating its queues.
func (c *Context) Reset() {
	for b := c.Async.Pop(); b != nil; b = c.Async.Pop() {
		if p, ok := b.Page.(*page.Page); ok && p != nil {
			c.pages.ReturnWorkerPage(c.Index, p)
		}
	}
	c.incoming = nil
	c.outgoing = nil
	c.WeakRefs = c.WeakRefs[:0]
	c.GarbageRefs = c.GarbageRefs[:0]
	c.Stats = Stats{}
}

func (c *Context) newBlock() *workqueue.Block {
	p := c.pages.AllocatePage(c.Index)
	return &workqueue.Block{Objs: make([]uint32, 0, BlockCapacity), Page: p}
}

// Enqueue appends idx to the worker's outgoing block, publishing the block
// to the Async queue (and starting a fresh one) once it fills.
func (c *Context) Enqueue(idx uint32) {
	if c.outgoing == nil {
		c.outgoing = c.newBlock()
	}
	c.outgoing.Objs = append(c.outgoing.Objs, idx)
	c.Stats.ReferencesQueued++
	if len(c.outgoing.Objs) >= BlockCapacity {
		c.Async.Push(c.outgoing)
		c.outgoing = nil
	}
}

// FlushOutgoing publishes a partially filled outgoing block, if any, so it
// becomes visible to thieves and to the worker's own end-of-cycle drain.
func (c *Context) FlushOutgoing() {
	if c.outgoing != nil && len(c.outgoing.Objs) > 0 {
		c.Async.Push(c.outgoing)
	}
	c.outgoing = nil
}

// PopLocal pops the next object index from the actively-drained incoming
// block (LIFO), reporting false if that block is empty or absent.
func (c *Context) PopLocal() (uint32, bool) {
	if c.incoming == nil || len(c.incoming.Objs) == 0 {
		return 0, false
	}
	n := len(c.incoming.Objs) - 1
	v := c.incoming.Objs[n]
	c.incoming.Objs = c.incoming.Objs[:n]
	return v, true
}

// RefillFromOwn tries to pull a fresh block from this worker's own Async
// queue into incoming ("own full block?" in spec.md §4.6's steal order).
func (c *Context) RefillFromOwn() bool {
	if b := c.Async.Pop(); b != nil {
		c.returnIncomingPage()
		c.incoming = b
		return true
	}
	return false
}

// StealFrom tries to steal a block from another worker's Async queue into
// this worker's incoming slot.
func (c *Context) StealFrom(other *Context) bool {
	c.Stats.StealAttempts++
	b := other.Async.Steal()
	if b == nil {
		return false
	}
	c.Stats.Steals++
	c.returnIncomingPage()
	c.incoming = b
	return true
}

// HasLocalWork reports whether the incoming block still has objects.
func (c *Context) HasLocalWork() bool {
	return c.incoming != nil && len(c.incoming.Objs) > 0
}

// SwapBuffers promotes a non-empty outgoing block to incoming once the
// worker has drained its current incoming block, so work discovered during
// tracing is picked back up by the same worker without waiting for a full
// block or a steal round trip — the two-buffer hysteresis the teacher
// runtime's gcWork applies between wbuf1 and wbuf2, generalized here from a
// fixed pair to the outgoing/incoming roles. Reports whether a swap
// happened.
func (c *Context) SwapBuffers() bool {
	if c.HasLocalWork() || c.outgoing == nil || len(c.outgoing.Objs) == 0 {
		return false
	}
	c.returnIncomingPage()
	c.incoming, c.outgoing = c.outgoing, nil
	return true
}

// CheckEmpty reports whether the worker has no outstanding work at all:
// no incoming/outgoing block contents and an empty Async queue, for
// end-of-cycle verification (spec.md §8).
func (c *Context) CheckEmpty() bool {
	return !c.HasLocalWork() &&
		(c.outgoing == nil || len(c.outgoing.Objs) == 0) &&
		c.Async.CheckEmpty()
}

func (c *Context) returnIncomingPage() {
	if c.incoming == nil {
		return
	}
	if p, ok := c.incoming.Page.(*page.Page); ok && p != nil {
		c.pages.ReturnWorkerPage(c.Index, p)
	}
}

// Pool hands out worker contexts keyed to the calling goroutine for the
// duration of one cycle, and returns them to a free list afterward — the
// same "created from a pool keyed to the main thread" arrangement spec.md
// §3 describes, adapted to Go by keying on the caller's own lifecycle
// scope instead of a stable OS-thread identity (Go has none to read).
type Pool struct {
	mu   sync.Mutex
	free []*Context
}

// NewPool creates an empty context pool.
func NewPool() *Pool {
	return &Pool{}
}

// Acquire returns n worker contexts, reusing pooled ones where available
// and allocating fresh ones otherwise.
func (p *Pool) Acquire(n int, pages *page.Cache, aroStore *aro.Store) []*Context {
	if n > MaxWorkers {
		n = MaxWorkers
	}
	out := make([]*Context, n)
	p.mu.Lock()
	// Fill from the last position down so that a Release/Acquire round trip
	// of the same size hands each context back at its previous position.
	for i := n - 1; i >= 0; i-- {
		if k := len(p.free); k > 0 {
			out[i] = p.free[k-1]
			p.free = p.free[:k-1]
		}
	}
	p.mu.Unlock()
	for i := 0; i < n; i++ {
		if out[i] == nil {
			out[i] = newContext(i, pages, aroStore)
		} else {
			out[i].Index = i
			out[i].pages = pages
			out[i].Reset()
		}
	}
	return out
}

// Release returns worker contexts to the pool for reuse on a later cycle.
func (p *Pool) Release(ctxs []*Context) {
	p.mu.Lock()
	p.free = append(p.free, ctxs...)
	p.mu.Unlock()
}
