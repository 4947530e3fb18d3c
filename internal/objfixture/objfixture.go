// Package objfixture provides minimal, goroutine-safe reference
// implementations of every interface orbitgc consumes (spec.md §6), for
// use by the package's own tests and by cmd/orbitgcbench. It is not part
// of the public API: a real embedder supplies its own object table, class
// reflection, and lifecycle hooks backed by its actual managed-object
// allocator.
package objfixture

import (
	"sync"

	"github.com/orbitgc/orbitgc"
	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/schema"
)

// Object is one fixture-managed object: a class tag, a set of outgoing
// strong reference slots (mutable, nullable), a set of weak-reference
// target indices, and the lifecycle bookkeeping the Universe's Lifecycle
// methods read and write.
type Object struct {
	Index gcobj.Index
	Class *gcobj.ClassInfo

	mu          sync.Mutex
	refs        []uint32
	weak        []orbitgc.WeakRefDecl
	threadSafe  bool
	readyAfter  int
	readyChecks int

	begunDestroy bool
	finished     bool
	destroyed    bool
}

// Refs returns a snapshot of the object's current outgoing reference
// targets, for test assertions.
func (o *Object) Refs() []uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint32(nil), o.refs...)
}

// Destroyed reports whether the fixture allocator freed this object.
func (o *Object) Destroyed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destroyed
}

// SetThreadSafeDestruction controls what IsDestructionThreadSafe reports
// for this object (spec.md §4.9 purge split).
func (o *Object) SetThreadSafeDestruction(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.threadSafe = v
}

// SetReadyAfter makes IsReadyForFinishDestroy return false for the first n
// checks, then true — simulating an object whose teardown depends on
// another subsystem's asynchronous release.
func (o *Object) SetReadyAfter(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readyAfter = n
}

// AddWeakRef records a weak reference from o to target: once gather
// determines target is still unreachable at the end of a cycle, clear is
// invoked to null whatever slot the caller closed over.
func (o *Object) AddWeakRef(target *Object, clear func()) {
	o.mu.Lock()
	o.weak = append(o.weak, orbitgc.WeakRefDecl{Target: uint32(target.Index), Clear: clear})
	o.mu.Unlock()
}

// WeakRefs implements orbitgc.WeakRefSource.
func (o *Object) WeakRefs() []orbitgc.WeakRefDecl {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]orbitgc.WeakRefDecl(nil), o.weak...)
}

func refAccessor(o *Object) []schema.RefSlot {
	o.mu.Lock()
	defer o.mu.Unlock()
	slots := make([]schema.RefSlot, len(o.refs))
	for i := range o.refs {
		i := i
		slots[i] = schema.RefSlot{
			Index: o.refs[i],
			Set: func(v uint32) {
				o.mu.Lock()
				o.refs[i] = v
				o.mu.Unlock()
			},
		}
	}
	return slots
}

// DefaultSchema builds the one reference-schema shape every fixture class
// shares: a single ReferenceArray entry walking Object.refs. Real
// embedders compile one schema per class from their own type metadata
// (spec.md §4.3); the fixture only needs one shape since it does not model
// struct-array or ARO members.
func DefaultSchema() *schema.Handle {
	return schema.NewBuilder().
		ReferenceArray("refs", func(obj interface{}) []schema.RefSlot {
			return refAccessor(obj.(*Object))
		}).
		Build("FixtureObject")
}

// Universe is a single in-memory implementation of every interface
// orbitgc consumes: ObjectTable, Allocator, ClassReflection,
// RootEnumerator, PermanentObjectPool, ObjectHandle, ClusterTable, and
// Lifecycle.
type Universe struct {
	mu sync.RWMutex

	objects map[gcobj.Index]*Object
	entries map[gcobj.Index]*gcobj.Entry
	next    gcobj.Index

	roots      []gcobj.Index
	permanent  map[gcobj.Index]bool
	unresolved map[interface{}]bool

	clusters map[gcobj.Index]*gcobj.Cluster

	class *gcobj.ClassInfo
}

// New creates an empty fixture universe. GetFirstGCIndex starts at 1;
// index 0 is reserved to mean "no object" throughout the collector.
func New() *Universe {
	return &Universe{
		objects:    make(map[gcobj.Index]*Object),
		entries:    make(map[gcobj.Index]*gcobj.Entry),
		next:       1,
		permanent:  make(map[gcobj.Index]bool),
		unresolved: make(map[interface{}]bool),
		clusters:   make(map[gcobj.Index]*gcobj.Cluster),
		class:      &gcobj.ClassInfo{Name: "FixtureObject", Schema: DefaultSchema()},
	}
}

// NewObject allocates a fresh managed object and registers it in the table
// with a clear flags word: Unreachable is a verdict the mark phase assigns
// fresh each cycle, never a state an object carries from allocation.
func (u *Universe) NewObject() *Object {
	u.mu.Lock()
	defer u.mu.Unlock()
	idx := u.next
	u.next++
	obj := &Object{Index: idx, Class: u.class}
	u.objects[idx] = obj
	u.entries[idx] = &gcobj.Entry{
		Object: idx,
		Raw:    obj,
		Flags:  gcobj.NewFlags(0),
		Class:  u.class,
	}
	return obj
}

// Link records a strong reference from 'from' to 'to'.
func (u *Universe) Link(from, to *Object) {
	from.mu.Lock()
	from.refs = append(from.refs, uint32(to.Index))
	from.mu.Unlock()
}

// AddRoot marks obj as a member of the initial root set.
func (u *Universe) AddRoot(obj *Object) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.roots = append(u.roots, obj.Index)
	u.entries[obj.Index].Flags.Set(gcobj.RootSet)
	u.entries[obj.Index].Flags.Clear(gcobj.Unreachable)
}

// MakeCluster groups root and members into one cluster, wiring OwnerIndex
// on every entry per spec.md §3's encoding (negative for the root,
// positive for members).
func (u *Universe) MakeCluster(root *Object, members ...*Object) *gcobj.Cluster {
	u.mu.Lock()
	defer u.mu.Unlock()
	cluster := &gcobj.Cluster{Root: root.Index}
	rootEntry := u.entries[root.Index]
	rootEntry.OwnerIndex = -int32(len(u.clusters) + 1)
	for _, m := range members {
		u.entries[m.Index].OwnerIndex = int32(root.Index)
		cluster.Members = append(cluster.Members, m.Index)
	}
	u.clusters[root.Index] = cluster
	return cluster
}

// SetGarbage flags obj's entry as garbage (spec.md §4.5 "PendingKill/
// Garbage flag" on a cluster root, or a killable-reference target).
func (u *Universe) SetGarbage(obj *Object) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries[obj.Index].Flags.Set(gcobj.Garbage)
}

// Entry returns the object-table entry for obj, for test assertions.
func (u *Universe) Entry(obj *Object) *gcobj.Entry {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.entries[obj.Index]
}

// --- gcobj.ObjectTable ---

func (u *Universe) IndexToItem(i gcobj.Index) (*gcobj.Entry, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	e, ok := u.entries[i]
	return e, ok
}

func (u *Universe) ObjectToIndex(raw interface{}) (gcobj.Index, bool) {
	obj, ok := raw.(*Object)
	if !ok {
		return 0, false
	}
	return obj.Index, true
}

func (u *Universe) GetFirstGCIndex() gcobj.Index { return 1 }

func (u *Universe) Num() gcobj.Index {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.next
}

// --- gcobj.Allocator ---

func (u *Universe) FreeObject(raw interface{}) {
	obj := raw.(*Object)
	obj.mu.Lock()
	obj.destroyed = true
	obj.mu.Unlock()
}

// --- gcobj.ClassReflection ---

func (u *Universe) SchemaFor(class *gcobj.ClassInfo) *schema.Handle { return class.Schema }
func (u *Universe) SlowCallbacks(class *gcobj.ClassInfo) []int      { return class.Slow }

// --- gcobj.RootEnumerator ---

func (u *Universe) EnumerateRoots(workerIdx, numWorkers int, emit func(gcobj.Index)) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i, r := range u.roots {
		if i%numWorkers == workerIdx {
			emit(r)
		}
	}
}

// --- gcobj.PermanentObjectPool ---

func (u *Universe) Contains(idx gcobj.Index) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.permanent[idx]
}

// MarkPermanent adds obj to the permanent pool; permanent objects are
// never traced.
func (u *Universe) MarkPermanent(obj *Object) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.permanent[obj.Index] = true
}

// --- gcobj.ObjectHandle ---

func (u *Universe) IsResolved(handle interface{}) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return !u.unresolved[handle]
}

// --- gcobj.ClusterTable ---

func (u *Universe) ClusterByRoot(root gcobj.Index) (*gcobj.Cluster, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	c, ok := u.clusters[root]
	return c, ok
}

// --- gcobj.Lifecycle ---

func (u *Universe) IsDestructionThreadSafe(raw interface{}) bool {
	obj := raw.(*Object)
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.threadSafe
}

func (u *Universe) IsReadyForFinishDestroy(raw interface{}) bool {
	obj := raw.(*Object)
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.readyChecks++
	return obj.readyChecks > obj.readyAfter
}

func (u *Universe) ConditionalBeginDestroy(raw interface{}) {
	obj := raw.(*Object)
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.begunDestroy {
		panic("objfixture: BeginDestroy called twice on the same object")
	}
	obj.begunDestroy = true
}

func (u *Universe) ConditionalFinishDestroy(raw interface{}) {
	obj := raw.(*Object)
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.finished = true
}

func (u *Universe) Destroy(raw interface{}) {}
