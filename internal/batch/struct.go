package batch

import (
	"sync"

	"github.com/orbitgc/orbitgc/internal/schema"
)

// StructDescriptor describes one array-of-struct (or set/map backing
// store) traversal job: numElements compound elements of stride bytes
// each, visited with schema, per spec.md §4.3.
type StructDescriptor struct {
	Schema   *schema.Handle
	Elements []interface{}
	Stride   uintptr
}

// StructBatcher collects StructDescriptor jobs on an unbounded blockified
// queue; after the reference pipeline drains, the jobs are walked and each
// element's members are visited via its schema, feeding references back
// into the reference pipeline (spec.md §4.3).
//
// Producers (workers expanding StructArray/SparseStructArray entries) and
// the single drainer (the same worker, once its reference pipeline is
// empty) never overlap in practice, but the queue is still guarded by a
// mutex since slow-ARO callbacks registered against struct element classes
// may push further descriptors while draining.
type StructBatcher struct {
	mu    sync.Mutex
	queue []StructDescriptor
}

// NewStructBatcher creates an empty struct batcher.
func NewStructBatcher() *StructBatcher {
	return &StructBatcher{}
}

// Push enqueues a struct traversal job.
func (b *StructBatcher) Push(desc StructDescriptor) {
	if len(desc.Elements) == 0 {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, desc)
	b.mu.Unlock()
}

// Drain repeatedly pops queued jobs and invokes visit for each, until the
// queue is empty. visit may itself Push further jobs (e.g. nested struct
// arrays); Drain keeps going until none remain.
func (b *StructBatcher) Drain(visit func(StructDescriptor)) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		desc := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		visit(desc)
	}
}

// Empty reports whether the queue currently holds no jobs.
func (b *StructBatcher) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) == 0
}
