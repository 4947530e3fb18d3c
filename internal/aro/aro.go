// Package aro implements the slow reference callback ("Add Referenced
// Objects") machinery of spec.md §4.4: a closed tier taxonomy, a bounded
// callback registry, and the unbounded lock-free SPMC LIFO queue of
// pending callback arguments threaded through fixed-size ARO blocks drawn
// from a bounded block store.
//
// The queue itself is the same lock-free-stack idiom as the teacher
// runtime's lfstack: intrusive singly-linked nodes, a single packed atomic
// head, and a CAS-retry loop for push and pop. lfstack is single-producer
// single-consumer by convention in the runtime; here the ARO queue is
// genuinely SPMC (one producing worker, many draining workers), so both
// push and pop use the CAS-retry form.
package aro

import "go.uber.org/atomic"

// Tier is the closed set of slow-callback cost classes from spec.md §4.4.
type Tier int

const (
	// Fast callbacks are cheap and run synchronously during tracing.
	Fast Tier = iota
	// Unbalanced callbacks have uneven cost across callers and are
	// drained from the calling worker's own queue in large batches.
	Unbalanced
	// ExtraSlow callbacks are expensive and are drained in small batches
	// to avoid latency spikes.
	ExtraSlow
)

// MaxCallbacks is the closed upper bound on registered slow callbacks,
// since each is addressed by a small index (0..MaxCallbacks-1) per spec.md.
const MaxCallbacks = 8

// Callback is one class's registered slow-ARO entry point.
type Callback struct {
	Name string
	Tier Tier
	Fn   func(obj interface{}, enqueue func(target uint32))
}

// Registry is the process-wide table of registered slow callbacks.
type Registry struct {
	entries [MaxCallbacks]*Callback
	byName  map[string]int
	n       int
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a callback and returns its index and true, or false if the
// registry is full (the closed 0..MaxCallbacks-1 range is exhausted).
func (r *Registry) Register(name string, tier Tier, fn func(obj interface{}, enqueue func(uint32))) (int, bool) {
	if r.n >= MaxCallbacks {
		return 0, false
	}
	idx := r.n
	r.entries[idx] = &Callback{Name: name, Tier: tier, Fn: fn}
	r.byName[name] = idx
	r.n++
	return idx, true
}

// Find returns the index of a previously registered callback by name.
func (r *Registry) Find(name string) (int, bool) {
	idx, ok := r.byName[name]
	return idx, ok
}

// At returns the callback registered at idx, or nil if none is registered
// there.
func (r *Registry) At(idx int) *Callback {
	if idx < 0 || idx >= MaxCallbacks {
		return nil
	}
	return r.entries[idx]
}

// Len reports how many slow callbacks have been registered.
func (r *Registry) Len() int { return r.n }

// Arg is one pending slow-callback invocation: the callback to run and the
// object to run it against.
type Arg struct {
	Callback int
	Obj      interface{}
}

// blockCapacity bounds how many Args a single ARO block holds, sized to
// keep one block's footprint comparable to the collector's 4 KiB scratch
// page (spec.md §3 "ARO block").
const blockCapacity = 4096 / 32

// Block is a page of pending slow-callback arguments, threaded through a
// forward index into the next block by the owning Queue.
type Block struct {
	args [blockCapacity]Arg
	n    int
	next atomic.Pointer[Block]
}

func (b *Block) reset() {
	b.n = 0
	b.next.Store(nil)
}

// Full reports whether the block has no remaining capacity.
func (b *Block) Full() bool { return b.n >= blockCapacity }

// Append adds an argument to the block. The caller must have checked Full.
func (b *Block) Append(a Arg) {
	b.args[b.n] = a
	b.n++
}

// Args returns the block's populated arguments.
func (b *Block) Args() []Arg { return b.args[:b.n] }

// Store is the shared, bounded pool of ARO blocks. A fixed-size pool makes
// "store full" an observable, recoverable condition per spec.md §7,
// instead of unbounded allocation.
type Store struct {
	pool chan *Block
}

// NewStore creates a block store with room for capacity blocks.
func NewStore(capacity int) *Store {
	s := &Store{pool: make(chan *Block, capacity)}
	for i := 0; i < capacity; i++ {
		s.pool <- &Block{}
	}
	return s
}

// TryAcquire takes a free block from the store, or reports false if the
// store is exhausted.
func (s *Store) TryAcquire() (*Block, bool) {
	select {
	case b := <-s.pool:
		return b, true
	default:
		return nil, false
	}
}

// Release returns a block to the store for reuse.
func (s *Store) Release(b *Block) {
	b.reset()
	select {
	case s.pool <- b:
	default:
		// Store shrank or block came from elsewhere; drop it.
	}
}

// Queue is the unbounded lock-free SPMC LIFO of ARO blocks belonging to one
// worker: that worker produces (pushes full blocks), and any worker may
// drain (pop) during the ARO-draining part of the tracing loop.
type Queue struct {
	head atomic.Pointer[Block]
}

// Push enqueues a full block. Called only by the owning worker.
func (q *Queue) Push(b *Block) {
	for {
		old := q.head.Load()
		b.next.Store(old)
		if q.head.CAS(old, b) {
			return
		}
	}
}

// Pop dequeues the most recently pushed block, or nil if the queue is
// empty. Safe for concurrent callers (multiple draining workers).
func (q *Queue) Pop() *Block {
	for {
		old := q.head.Load()
		if old == nil {
			return nil
		}
		next := old.next.Load()
		if q.head.CAS(old, next) {
			return old
		}
	}
}

// Empty reports whether the queue currently holds no blocks.
func (q *Queue) Empty() bool {
	return q.head.Load() == nil
}

// WorkerQueue binds one worker's in-progress Block to a Queue and the
// shared Store it draws blocks from.
type WorkerQueue struct {
	store   *Store
	queue   Queue
	current *Block
}

// NewWorkerQueue creates a worker-owned ARO producer bound to store.
func NewWorkerQueue(store *Store) *WorkerQueue {
	return &WorkerQueue{store: store}
}

// Enqueue records a pending slow-callback invocation. It reports false if
// the shared block store is exhausted, in which case the caller must fall
// back to a synchronous call per spec.md §4.4/§7.
func (w *WorkerQueue) Enqueue(callback int, obj interface{}) bool {
	if w.current == nil || w.current.Full() {
		if w.current != nil {
			w.queue.Push(w.current)
		}
		b, ok := w.store.TryAcquire()
		if !ok {
			w.current = nil
			return false
		}
		w.current = b
	}
	w.current.Append(Arg{Callback: callback, Obj: obj})
	return true
}

// Flush pushes any partially filled in-progress block onto the queue so it
// becomes visible to drainers, and clears the in-progress slot.
func (w *WorkerQueue) Flush() {
	if w.current != nil {
		w.queue.Push(w.current)
		w.current = nil
	}
}

// Drain pops and returns the next available block from this worker's
// queue, for a drainer to process and then release back to store.
func (w *WorkerQueue) Drain() *Block {
	return w.queue.Pop()
}

// Store returns the shared block store this worker queue draws from, so a
// drainer can release processed blocks.
func (w *WorkerQueue) Store() *Store { return w.store }
