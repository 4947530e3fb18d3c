// Package reach implements the reachability processor of spec.md §4.4: the
// per-reference state machine a worker runs for every validated reference
// the batcher hands it, including cluster propagation and killable-slot
// nulling.
//
// The processor is deliberately stateless across calls beyond the table it
// reads and the cluster table it consults — all per-cycle mutable state
// (flags, cluster dissolve markers) lives on the shared object/cluster
// tables behind atomic CAS, matching the teacher runtime's convention that
// the GC algorithm itself carries no private mutable fields, only the
// pointers to the structures it walks.
package reach

import (
	"github.com/orbitgc/orbitgc/internal/batch"
	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/worker"
)

// Processor runs the five-case reachability state machine over validated
// references handed to it by a batch.Pipeline.
type Processor struct {
	table    gcobj.ObjectTable
	clusters gcobj.ClusterTable
}

// New creates a reachability processor reading table and clusters.
func New(table gcobj.ObjectTable, clusters gcobj.ClusterTable) *Processor {
	return &Processor{table: table, clusters: clusters}
}

// Sink returns a batch.Sink bound to ctx, suitable for
// batch.NewPipeline(..., sink). Every validated reference the pipeline
// produces is routed through Visit.
func (p *Processor) Sink(ctx *worker.Context) batch.Sink {
	return func(v batch.Validated) {
		p.Visit(ctx, v)
	}
}

// Visit runs spec.md §4.4's state machine for one validated reference.
func (p *Processor) Visit(ctx *worker.Context, v batch.Validated) {
	entry := v.Entry
	ctx.Stats.ObjectsVisited++

	// 1. Killable nulling.
	if v.Slot.Killable && entry.Flags.Has(gcobj.Killable) {
		if v.Slot.Set != nil {
			v.Slot.Set(0)
		}
		return
	}

	// 2 & 3: clear Unreachable (plain or cluster-root object), or promote
	// cluster-member reachability and propagate to the root.
	p.markLive(ctx, entry)
}

// markLive implements the shared "this reference just proved O live" logic
// used both for a directly visited object (spec.md §4.4 cases 2-3) and for
// the targets discovered while walking a cluster's referenced-cluster /
// referenced-mutable sets (case 4), since both reduce to the same
// dispatch: plain/cluster-root objects clear Unreachable and enqueue;
// cluster members set ReachableInCluster and propagate to their root.
func (p *Processor) markLive(ctx *worker.Context, entry *gcobj.Entry) {
	if entry.IsClusterMember() {
		if !entry.Flags.TrySet(gcobj.ReachableInCluster) {
			return
		}
		root, ok := p.table.IndexToItem(entry.RootIndex())
		if !ok {
			return
		}
		if root.Flags.TryClear(gcobj.Unreachable) {
			p.markReferencedClusters(ctx, root)
			ctx.Enqueue(uint32(root.Object))
		}
		return
	}

	if entry.Flags.TryClear(gcobj.Unreachable) {
		if entry.IsClusterRoot() {
			p.markReferencedClusters(ctx, entry)
		}
		ctx.Enqueue(uint32(entry.Object))
	}
}

// markReferencedClusters implements spec.md §4.4 case 4: propagate
// liveness across a cluster root's recorded referenced-cluster and
// referenced-mutable edges, nulling and flagging for dissolution any edge
// whose target has itself been marked garbage.
func (p *Processor) markReferencedClusters(ctx *worker.Context, root *gcobj.Entry) {
	cluster, ok := p.clusters.ClusterByRoot(root.Object)
	if !ok {
		return
	}
	p.visitClusterRefs(ctx, cluster, cluster.RefClusters)
	p.visitClusterRefs(ctx, cluster, cluster.RefMutables)
}

func (p *Processor) visitClusterRefs(ctx *worker.Context, cluster *gcobj.Cluster, refs []gcobj.ClusterRef) {
	for _, ref := range refs {
		entry, ok := p.table.IndexToItem(ref.Index)
		if !ok {
			continue
		}
		if entry.Flags.Has(gcobj.Garbage) {
			if ref.Set != nil {
				ref.Set(0)
			}
			cluster.MarkForDissolve()
			continue
		}
		p.markLive(ctx, entry)
	}
}
