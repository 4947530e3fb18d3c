package orbitgc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbitgc/orbitgc"
	"github.com/orbitgc/orbitgc/internal/objfixture"
)

func newCoordinator(u *objfixture.Universe) *orbitgc.Coordinator {
	cfg := orbitgc.DefaultConfig()
	cfg.NumWorkers = 2
	cfg.MarkStripes = 2
	cfg.GatherStripes = 2
	return orbitgc.New(cfg, u, u, u, u, u, u, u, u)
}

func drainPurge(t *testing.T, coord *orbitgc.Coordinator) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		done, err := coord.IncrementalPurgeGarbage(0)
		require.NoError(t, err)
		if done {
			return
		}
	}
	t.Fatal("incremental purge did not converge")
}

func TestLinearChainStaysLiveThroughRoot(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	prev := root
	var chain []*objfixture.Object
	for i := 0; i < 20; i++ {
		next := u.NewObject()
		u.Link(prev, next)
		chain = append(chain, next)
		prev = next
	}

	coord := newCoordinator(u)
	require.NoError(t, coord.Collect())
	drainPurge(t, coord)

	require.False(t, root.Destroyed())
	for _, obj := range chain {
		require.False(t, obj.Destroyed(), "chain member reachable from root must survive")
	}
}

func TestUnrootedChainIsCollected(t *testing.T) {
	u := objfixture.New()
	first := u.NewObject()
	prev := first
	var chain []*objfixture.Object
	chain = append(chain, first)
	for i := 0; i < 20; i++ {
		next := u.NewObject()
		u.Link(prev, next)
		chain = append(chain, next)
		prev = next
	}

	coord := newCoordinator(u)
	require.NoError(t, coord.Collect())
	drainPurge(t, coord)

	for _, obj := range chain {
		require.True(t, obj.Destroyed(), "object with no path from any root must be collected")
	}
}

func TestClusteredIslandStaysLiveAsAWhole(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	clusterRoot := u.NewObject()
	u.Link(root, clusterRoot)

	m1 := u.NewObject()
	m2 := u.NewObject()
	u.MakeCluster(clusterRoot, m1, m2)

	coord := newCoordinator(u)
	require.NoError(t, coord.Collect())
	drainPurge(t, coord)

	require.False(t, clusterRoot.Destroyed())
	require.False(t, m1.Destroyed())
	require.False(t, m2.Destroyed())
}

func TestUnreferencedClusterGoesGarbageTogether(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	clusterRoot := u.NewObject()
	m1 := u.NewObject()
	m2 := u.NewObject()
	u.MakeCluster(clusterRoot, m1, m2)
	// Deliberately never linked from root: the cluster as a whole is garbage.

	coord := newCoordinator(u)
	require.NoError(t, coord.Collect())
	drainPurge(t, coord)

	require.False(t, root.Destroyed())
	require.True(t, clusterRoot.Destroyed())
	require.True(t, m1.Destroyed())
	require.True(t, m2.Destroyed())
}

func TestWeakReferenceIsClearedWhenTargetDies(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	target := u.NewObject()
	// No strong link from root: target is unreachable this cycle.

	var cleared bool
	root.AddWeakRef(target, func() { cleared = true })

	coord := newCoordinator(u)
	require.NoError(t, coord.Collect())
	drainPurge(t, coord)

	require.True(t, cleared, "weak reference to a dead target must be nulled")
	require.True(t, target.Destroyed())
	require.False(t, root.Destroyed())
}

func TestWeakReferenceSurvivesWhenTargetStaysLive(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	target := u.NewObject()
	u.Link(root, target)

	var cleared bool
	root.AddWeakRef(target, func() { cleared = true })

	coord := newCoordinator(u)
	require.NoError(t, coord.Collect())
	drainPurge(t, coord)

	require.False(t, cleared)
	require.False(t, target.Destroyed())
}

func TestIncrementalPurgeGarbageConvergesAcrossTicks(t *testing.T) {
	u := objfixture.New()
	first := u.NewObject()
	prev := first
	var chain []*objfixture.Object
	chain = append(chain, first)
	for i := 0; i < 12; i++ {
		next := u.NewObject()
		u.Link(prev, next)
		chain = append(chain, next)
		prev = next
		// Every object reports not-ready for its first three
		// IsReadyForFinishDestroy checks, forcing FinishDestroyPass to
		// revisit it across several IncrementalPurgeGarbage calls.
		next.SetReadyAfter(3)
	}
	first.SetReadyAfter(3)

	coord := newCoordinator(u)
	require.NoError(t, coord.Collect())

	ticks := 0
	for {
		done, err := coord.IncrementalPurgeGarbage(time.Millisecond)
		require.NoError(t, err)
		ticks++
		if done {
			break
		}
		require.Less(t, ticks, 10000, "incremental purge should make forward progress every tick")
	}

	require.Greater(t, ticks, 1, "a stalled pass should take more than one tick to converge")
	for _, obj := range chain {
		require.True(t, obj.Destroyed())
	}
}

func TestCollectPublishesPreAndPostEvents(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)
	u.NewObject()

	coord := newCoordinator(u)
	preID, pre := coord.Subscribe(orbitgc.PreCollect)
	postID, post := coord.Subscribe(orbitgc.PostCollect)
	defer coord.Unsubscribe(preID)
	defer coord.Unsubscribe(postID)

	require.NoError(t, coord.Collect())
	drainPurge(t, coord)

	select {
	case ev := <-pre:
		require.Equal(t, orbitgc.PreCollect, ev.Kind)
	default:
		t.Fatal("expected a PreCollect event")
	}

	select {
	case ev := <-post:
		require.Equal(t, orbitgc.PostCollect, ev.Kind)
		require.Equal(t, 1, ev.ObjectsReachable)
		require.Equal(t, 1, ev.ObjectsUnreachable)
	default:
		t.Fatal("expected a PostCollect event")
	}
}

func TestTryCollectSucceedsWhenLockFree(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	coord := newCoordinator(u)
	require.NoError(t, coord.TryCollect())
	drainPurge(t, coord)
	require.False(t, coord.IsCollecting())
	require.False(t, coord.IsIncrementalPurgePending())
}

func TestTryCollectRunsRepeatedlyWithoutDeadlock(t *testing.T) {
	u := objfixture.New()
	root := u.NewObject()
	u.AddRoot(root)

	coord := newCoordinator(u)
	for i := 0; i < 5; i++ {
		require.NoError(t, coord.TryCollect())
		drainPurge(t, coord)
	}
	require.False(t, coord.IsLockedForHashTables())
}
