// Package orbitgc implements a concurrent, incremental, parallel mark-sweep
// collector over a caller-owned managed-object universe. The caller supplies
// the object table, class reflection, root enumeration, and lifecycle hooks
// (see the consumed interfaces below); orbitgc drives mark, reachability,
// gather, and the incremental unhash/FinishDestroy/purge pipeline against
// them through a *Coordinator.
package orbitgc

import (
	"github.com/orbitgc/orbitgc/internal/aro"
	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/schema"
)

// ObjectIndex addresses one managed object in the caller's object table.
// Zero is reserved to mean "no object".
type ObjectIndex = gcobj.Index

// Flag is one bit of a managed object's atomic flags word.
type Flag = gcobj.Flag

// The closed set of per-object flags the collector reads and writes.
const (
	Unreachable                = gcobj.Unreachable
	ReachableInCluster         = gcobj.ReachableInCluster
	ClusterRootFlag            = gcobj.ClusterRoot
	RootSet                    = gcobj.RootSet
	GarbageCollectionKeepFlags = gcobj.GarbageCollectionKeepFlags
	Killable                   = gcobj.Killable
	DestroyedFlag              = gcobj.Destroyed
	PendingConstruction        = gcobj.PendingConstruction
	Garbage                    = gcobj.Garbage
)

// Flags is a managed object's atomic flags word.
type Flags = gcobj.Flags

// NewFlags builds a Flags word with the given initial bits set.
func NewFlags(initial Flag) *Flags { return gcobj.NewFlags(initial) }

// Entry is one object-table slot: the caller's raw object, its flags, class,
// and cluster membership.
type Entry = gcobj.Entry

// ClassInfo is the collector's view of a managed object's class.
type ClassInfo = gcobj.ClassInfo

// Cluster groups objects that share one reachability fate.
type Cluster = gcobj.Cluster

// ClusterRef is one outgoing reference recorded against a cluster as a
// whole, with an optional Set closure for in-place nulling.
type ClusterRef = gcobj.ClusterRef

// ReferenceSchema is a class's immutable, reference-counted reference
// schema.
type ReferenceSchema = schema.Handle

// RefSlot is one strong-reference slot discovered by a schema accessor.
type RefSlot = schema.RefSlot

// Accessor extracts the current reference slots described by one schema
// entry from a concrete object.
type Accessor = schema.Accessor

// SchemaBuilder accumulates schema entries for one class.
type SchemaBuilder = schema.Builder

// NewSchemaBuilder starts a fresh reference-schema description for one
// class.
func NewSchemaBuilder() *SchemaBuilder { return schema.NewBuilder() }

// Consumed interfaces. A host embeds its own managed-object universe by
// implementing these against its own storage; internal/objfixture supplies
// minimal implementations for tests and the CLI.
type (
	ObjectTable         = gcobj.ObjectTable
	Allocator           = gcobj.Allocator
	ClassReflection     = gcobj.ClassReflection
	RootEnumerator      = gcobj.RootEnumerator
	PermanentObjectPool = gcobj.PermanentObjectPool
	ObjectHandle        = gcobj.ObjectHandle
	Lifecycle           = gcobj.Lifecycle
	ClusterTable        = gcobj.ClusterTable
)

// AROTier classifies a slow reference callback by cost.
type AROTier = aro.Tier

const (
	AROFast       = aro.Fast
	AROUnbalanced = aro.Unbalanced
	AROExtraSlow  = aro.ExtraSlow
)

// AROFunc is a registered slow-reference callback: given the object it was
// invoked against, it reports additional reachable targets through enqueue.
type AROFunc = func(obj interface{}, enqueue func(target uint32))

// WeakRefDecl is one weak-reference slot a managed object reports through
// the optional WeakRefSource capability.
type WeakRefDecl struct {
	Target uint32
	Clear  func()
}

// WeakRefSource is an optional capability a managed object's Raw value may
// implement to report its weak-reference slots for the gather phase's
// weak-clear barrier (spec.md §4.7's "no purge work may null a slot a
// subsequent trace would have visited"). Objects that don't implement it
// simply have no weak references tracked; schema.Kind's closed entry set has
// no dedicated weak-reference kind, so this is reported directly off the
// object rather than discovered by walking its reference schema.
type WeakRefSource interface {
	WeakRefs() []WeakRefDecl
}
