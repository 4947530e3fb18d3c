package gcobj

import "github.com/orbitgc/orbitgc/internal/schema"

// ObjectTable is the external index-to-object mapping the collector reads
// every object through (spec.md §6). Implementations must allow concurrent,
// lock-free reads of slot flags during tracing; only the slot's Flags word
// is mutated by the collector.
type ObjectTable interface {
	IndexToItem(i Index) (*Entry, bool)
	ObjectToIndex(raw interface{}) (Index, bool)
	GetFirstGCIndex() Index
	// Num returns one past the highest valid index, i.e. the table range
	// traced is [GetFirstGCIndex(), Num()).
	Num() Index
}

// Allocator frees a destroyed object's storage. FreeObject must be safe to
// call from the purge worker goroutine while the object-table lock is
// held.
type Allocator interface {
	FreeObject(raw interface{})
}

// ClassReflection produces a class's reference schema and reports its
// registered slow-ARO callbacks.
type ClassReflection interface {
	SchemaFor(class *ClassInfo) *schema.Handle
	SlowCallbacks(class *ClassInfo) []int
}

// ClusterTable is the external cluster bookkeeping store.
type ClusterTable interface {
	ClusterByRoot(root Index) (*Cluster, bool)
}

// RootEnumerator enumerates the initial root references for one
// collection cycle, pre-split across workers.
type RootEnumerator interface {
	EnumerateRoots(workerIdx, numWorkers int, emit func(Index))
}

// PermanentObjectPool reports whether an object lives in the permanent
// pool; permanent-pool objects are never traced.
type PermanentObjectPool interface {
	Contains(idx Index) bool
}

// ObjectHandle reports whether an opaque, possibly-lazy handle currently
// resolves to a live object; unresolved handles are not traced.
type ObjectHandle interface {
	IsResolved(handle interface{}) bool
}

// Lifecycle bundles the per-object destruction hooks the purge pipeline
// drives (spec.md §6).
type Lifecycle interface {
	IsDestructionThreadSafe(raw interface{}) bool
	IsReadyForFinishDestroy(raw interface{}) bool
	ConditionalBeginDestroy(raw interface{})
	ConditionalFinishDestroy(raw interface{})
	Destroy(raw interface{})
}
