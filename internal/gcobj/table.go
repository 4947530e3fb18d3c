package gcobj

import (
	"go.uber.org/atomic"

	"github.com/orbitgc/orbitgc/internal/schema"
)

// ClassInfo is the collector's view of a managed object's class: its
// compiled reference schema and the slow-ARO callback indices registered
// against it (spec.md §3 "Class").
type ClassInfo struct {
	Name   string
	Schema *schema.Handle
	Slow   []int
}

// Entry is one object table slot (spec.md §3 "Managed object").
type Entry struct {
	Object Index
	Raw    interface{}
	Flags  *Flags

	// OwnerIndex encodes cluster membership: 0 for an object outside any
	// cluster, -clusterIndex for a cluster root, +rootIndex for a
	// non-root member, per spec.md §3 "Cluster".
	OwnerIndex   int32
	ClusterIndex int32

	Class *ClassInfo
}

// InCluster reports whether the entry belongs to a cluster at all (root or
// member).
func (e *Entry) InCluster() bool { return e.OwnerIndex != 0 }

// IsClusterRoot reports whether the entry is the root of its cluster.
func (e *Entry) IsClusterRoot() bool { return e.OwnerIndex < 0 }

// IsClusterMember reports whether the entry is a non-root cluster member.
func (e *Entry) IsClusterMember() bool { return e.OwnerIndex > 0 }

// RootIndex returns the owning cluster root's object index for a member
// entry. Only meaningful when IsClusterMember is true.
func (e *Entry) RootIndex() Index { return Index(e.OwnerIndex) }

// ClusterRef is one outgoing reference recorded against a cluster as a
// whole (spec.md §4.4 "mark referenced clusters"): the target entry's
// index, and — when the slot that holds this reference is describable and
// mutable — a Set function the processor may call to null it if the
// target turns out to be garbage-flagged.
type ClusterRef struct {
	Index Index
	Set   func(uint32)
}

// Cluster is a set of objects sharing reachability fate (spec.md §3
// "Cluster"). One object is the cluster root; the root's reachability
// drives the whole cluster.
type Cluster struct {
	Root    Index
	Members []Index

	// RefClusters are references to other cluster roots this cluster's
	// members reference.
	RefClusters []ClusterRef
	// RefMutables are references to non-clustered objects this cluster's
	// members reference.
	RefMutables []ClusterRef

	needsDissolving atomic.Bool
}

// MarkForDissolve flags the cluster for dissolution at the end of the
// current cycle (spec.md §4.4 "garbage reference" handling).
func (c *Cluster) MarkForDissolve() { c.needsDissolving.Store(true) }

// NeedsDissolving reports whether the cluster was flagged for dissolution.
func (c *Cluster) NeedsDissolving() bool { return c.needsDissolving.Load() }
