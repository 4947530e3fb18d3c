package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCacheReservesMinimumPerWorker(t *testing.T) {
	c := NewCache(2, 3)
	require.EqualValues(t, 2*3*Size, c.CountBytes())
}

func TestAllocatePageAllocatesFreshWhenCacheIsEmpty(t *testing.T) {
	c := NewCache(1, 0)
	before := c.CountBytes()

	p := c.AllocatePage(0)
	require.NotNil(t, p)
	require.Equal(t, Size, len(p.Bytes()))
	require.Greater(t, c.CountBytes(), before, "an empty cache must allocate fresh memory rather than return nil")
}

func TestReturnWorkerPageRoundTripsThroughLocalFreeList(t *testing.T) {
	c := NewCache(1, 0)
	p := c.AllocatePage(0)
	c.ReturnWorkerPage(0, p)

	before := c.CountBytes()
	reused := c.AllocatePage(0)
	require.Same(t, p, reused, "a page just returned to the same worker's free list should be reused, not reallocated")
	require.Equal(t, before, c.CountBytes(), "reusing a free-listed page must not grow live bytes")
}

func TestReturnWorkerPageSpillsToSharedPastCap(t *testing.T) {
	c := NewCache(1, 0)
	pages := make([]*Page, perWorkerCap+1)
	for i := range pages {
		pages[i] = c.AllocatePage(0)
	}
	for _, p := range pages {
		c.ReturnWorkerPage(0, p)
	}

	// perWorkerCap pages stayed local; the surplus one spilled to shared.
	// Draining perWorkerCap+1 pages from worker 0 should not allocate fresh
	// memory, since every page returned is still tracked somewhere in the
	// cache.
	before := c.CountBytes()
	for range pages {
		c.AllocatePage(0)
	}
	require.Equal(t, before, c.CountBytes())
}

func TestTrimWorkerMovesSurplusToShared(t *testing.T) {
	c := NewCache(1, 0)
	pages := make([]*Page, 5)
	for i := range pages {
		pages[i] = c.AllocatePage(0)
	}
	for _, p := range pages {
		c.ReturnWorkerPage(0, p)
	}
	c.TrimWorker(0, 2)

	require.Len(t, c.local[0].pages, 2)
	require.Len(t, c.shared, 3)
}

func TestShutdownZeroesLiveBytes(t *testing.T) {
	c := NewCache(2, 1)
	require.Greater(t, c.CountBytes(), int64(0))
	c.Shutdown()
	require.Zero(t, c.CountBytes())
}
