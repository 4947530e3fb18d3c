// Package gather implements spec.md §4.7: after reachability converges,
// walk the object table for anything still Unreachable, dissolve clusters
// whose root turned out unreachable, null dead weak references recorded on
// each worker context during tracing, and record garbage-reference
// diagnostics.
package gather

import (
	"golang.org/x/sync/errgroup"

	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/worker"
)

// Result is the outcome of one gather pass.
type Result struct {
	UnreachableObjects []gcobj.Index
	GarbageRefs        []worker.GarbageRef
}

// Gather walks [table.GetFirstGCIndex(), table.Num()) in numStripes
// goroutine stripes collecting every still-Unreachable object (including
// the now-individually-tracked members of any cluster whose root is
// unreachable), then clears dead weak references recorded on each worker
// context and merges their garbage-reference diagnostics.
func Gather(table gcobj.ObjectTable, clusters gcobj.ClusterTable, contexts []*worker.Context, numStripes int) (Result, error) {
	first := table.GetFirstGCIndex()
	last := table.Num()
	if numStripes < 1 {
		numStripes = 1
	}
	total := int(last) - int(first)
	if total < 0 {
		total = 0
	}
	stripeLen := 1
	if total > 0 {
		stripeLen = (total + numStripes - 1) / numStripes
	}

	stripes := make([][]gcobj.Index, numStripes)
	var g errgroup.Group
	for s := 0; s < numStripes; s++ {
		s := s
		g.Go(func() error {
			lo := int(first) + s*stripeLen
			hi := lo + stripeLen
			if hi > int(last) {
				hi = int(last)
			}
			stripes[s] = gatherStripe(table, clusters, gcobj.Index(lo), gcobj.Index(hi))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	for _, s := range stripes {
		res.UnreachableObjects = append(res.UnreachableObjects, s...)
	}

	clearWeakReferences(table, contexts)
	for _, ctx := range contexts {
		res.GarbageRefs = append(res.GarbageRefs, ctx.GarbageRefs...)
	}

	return res, nil
}

func gatherStripe(table gcobj.ObjectTable, clusters gcobj.ClusterTable, lo, hi gcobj.Index) []gcobj.Index {
	var out []gcobj.Index
	for i := lo; i < hi; i++ {
		entry, ok := table.IndexToItem(i)
		if !ok || entry == nil {
			continue
		}
		if !entry.Flags.Has(gcobj.Unreachable) {
			continue
		}
		if entry.IsClusterMember() {
			// Cluster members are listed once, through their root's TrySet below.
			continue
		}
		out = append(out, entry.Object)

		if !entry.IsClusterRoot() {
			continue
		}
		cluster, ok := clusters.ClusterByRoot(entry.Object)
		if !ok {
			continue
		}
		for _, memberIdx := range cluster.Members {
			member, ok := table.IndexToItem(memberIdx)
			if !ok {
				continue
			}
			if member.Flags.TrySet(gcobj.Unreachable) {
				out = append(out, member.Object)
			}
		}
	}
	return out
}

// clearWeakReferences walks every worker's recorded weak-reference slots
// (populated during tracing by the caller's schema/ARO wiring, not by this
// package) and nulls any whose target is still flagged Unreachable — a
// single-threaded barrier after reachability, per spec.md §5's "no purge
// work may null a slot that a subsequent trace would have visited".
func clearWeakReferences(table gcobj.ObjectTable, contexts []*worker.Context) {
	for _, ctx := range contexts {
		for _, w := range ctx.WeakRefs {
			entry, ok := table.IndexToItem(gcobj.Index(w.Target))
			if !ok {
				continue
			}
			if entry.Flags.Has(gcobj.Unreachable) && w.Clear != nil {
				w.Clear()
			}
		}
	}
}
