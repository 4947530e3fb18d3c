// Package mark implements the mark phase of spec.md §4.5: a parallel sweep
// over the flat object range classifying every slot as initially reachable,
// cluster-tracked, or unreachable, followed by a small single-threaded
// cleanup pass (cluster dissolution, keep-cluster-ref propagation,
// flattening the per-stripe reachable arrays that seed reachability).
package mark

import (
	"golang.org/x/sync/errgroup"

	"github.com/orbitgc/orbitgc/internal/gcobj"
)

// KeepClusterRef records a root-or-member object from the root set whose
// cluster needs its referenced-clusters graph walked in the single-threaded
// second pass (spec.md §4.5 "push to a keep-cluster-refs list").
type KeepClusterRef struct {
	Root gcobj.Index
}

// stripeResult is one goroutine's contribution to the parallel sweep,
// kept entirely private to its own slice so no cross-stripe shared mutable
// state exists during the parallel pass (spec.md §4.5 determinism
// property).
type stripeResult struct {
	reachable  []gcobj.Index
	keepRefs   []KeepClusterRef
	toDissolve []gcobj.Index
}

// Result is the outcome of one full mark pass: the flattened initial
// reachable set that seeds the reachability pipeline, ready to be split
// across worker contexts.
type Result struct {
	Reachable []gcobj.Index
}

// Sweep runs the parallel mark pass over [table.GetFirstGCIndex(),
// table.Num()) split into numStripes goroutine stripes, then the
// single-threaded cleanup pass, and returns the flattened initial
// reachable set.
func Sweep(table gcobj.ObjectTable, clusters gcobj.ClusterTable, keepFlags gcobj.Flag, numStripes int) (Result, error) {
	first := table.GetFirstGCIndex()
	last := table.Num()
	if numStripes < 1 {
		numStripes = 1
	}
	total := int(last) - int(first)
	if total <= 0 {
		return Result{}, nil
	}
	stripeLen := (total + numStripes - 1) / numStripes

	results := make([]stripeResult, numStripes)
	var g errgroup.Group
	for s := 0; s < numStripes; s++ {
		s := s
		g.Go(func() error {
			lo := int(first) + s*stripeLen
			hi := lo + stripeLen
			if hi > int(last) {
				hi = int(last)
			}
			results[s] = sweepStripe(table, keepFlags, gcobj.Index(lo), gcobj.Index(hi))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var allReachable []gcobj.Index
	var keepRefs []KeepClusterRef
	var toDissolve []gcobj.Index
	for _, r := range results {
		allReachable = append(allReachable, r.reachable...)
		keepRefs = append(keepRefs, r.keepRefs...)
		toDissolve = append(toDissolve, r.toDissolve...)
	}

	dissolveClusters(table, clusters, toDissolve, &allReachable)
	propagateKeptClusterRefs(table, clusters, keepRefs)

	return Result{Reachable: allReachable}, nil
}

func sweepStripe(table gcobj.ObjectTable, keepFlags gcobj.Flag, lo, hi gcobj.Index) stripeResult {
	var r stripeResult
	for i := lo; i < hi; i++ {
		entry, ok := table.IndexToItem(i)
		if !ok || entry == nil {
			continue
		}
		entry.Flags.Clear(gcobj.ReachableInCluster)

		switch {
		case entry.Flags.Has(gcobj.RootSet):
			r.reachable = append(r.reachable, entry.Object)
			if entry.InCluster() {
				r.keepRefs = append(r.keepRefs, KeepClusterRef{Root: clusterRootOf(entry)})
			}

		case entry.IsClusterMember():
			if !entry.Flags.Has(gcobj.GarbageCollectionKeepFlags) {
				// Leave it alone; the cluster root decides this member's
				// fate once its own classification below (or via a
				// different stripe) runs.
				continue
			}
			r.reachable = append(r.reachable, entry.Object)
			r.keepRefs = append(r.keepRefs, KeepClusterRef{Root: entry.RootIndex()})

		default: // regular object or cluster root
			if entry.Flags.Has(gcobj.GarbageCollectionKeepFlags) || entry.Flags.Has(keepFlags) {
				r.reachable = append(r.reachable, entry.Object)
				if entry.IsClusterRoot() {
					r.keepRefs = append(r.keepRefs, KeepClusterRef{Root: entry.Object})
				}
				continue
			}
			if entry.IsClusterRoot() && entry.Flags.Has(gcobj.Garbage) {
				r.toDissolve = append(r.toDissolve, entry.Object)
				continue
			}
			entry.Flags.Set(gcobj.Unreachable)
		}
	}
	return r
}

func clusterRootOf(entry *gcobj.Entry) gcobj.Index {
	if entry.IsClusterMember() {
		return entry.RootIndex()
	}
	return entry.Object
}

// dissolveClusters marks every member of each to-be-dissolved cluster root
// as individually tracked (owner link cleared, flagged Unreachable), so
// the reachability phase decides on each member individually and gather
// collects those still unreachable; the reachable slice is left as it is
// (spec.md §4.5
// "marks their members as individually tracked and adds them to the
// unreachable sweep").
func dissolveClusters(table gcobj.ObjectTable, clusters gcobj.ClusterTable, roots []gcobj.Index, reachable *[]gcobj.Index) {
	for _, root := range roots {
		cluster, ok := clusters.ClusterByRoot(root)
		if !ok {
			continue
		}
		cluster.MarkForDissolve()
		for _, memberIdx := range cluster.Members {
			member, ok := table.IndexToItem(memberIdx)
			if !ok {
				continue
			}
			member.OwnerIndex = 0
			member.Flags.Set(gcobj.Unreachable)
		}
	}
}

// propagateKeptClusterRefs walks each kept cluster root's referenced-
// clusters graph, single-threaded (the set of roots reachable this way is
// small by construction, per spec.md §4.5).
func propagateKeptClusterRefs(table gcobj.ObjectTable, clusters gcobj.ClusterTable, keep []KeepClusterRef) {
	seen := make(map[gcobj.Index]bool)
	var visit func(root gcobj.Index)
	visit = func(root gcobj.Index) {
		if seen[root] {
			return
		}
		seen[root] = true
		cluster, ok := clusters.ClusterByRoot(root)
		if !ok {
			return
		}
		for _, ref := range cluster.RefClusters {
			entry, ok := table.IndexToItem(ref.Index)
			if !ok {
				continue
			}
			entry.Flags.Clear(gcobj.Unreachable)
			visit(ref.Index)
		}
	}
	for _, k := range keep {
		visit(k.Root)
	}
}
