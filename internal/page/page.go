// Package page provides the 4 KiB scratch-page cache that backs every
// transient collector data structure (work blocks, ARO blocks, batcher
// staging buffers).
//
// The design follows the teacher runtime's mcache/mheap split: each worker
// keeps a small bounded free list of recently returned pages (the fast
// path, no locking) and overflows to a shared, mutex-guarded pool (the
// slow path) exactly the way mcache spills into the central mheap free
// list rather than calling the OS allocator on every free.
package page

import (
	"sync"
	"sync/atomic"
)

// Size is the fixed scratch page size used throughout the collector.
const Size = 4096

// Page is a 4 KiB aligned scratch buffer. The byte slice is always exactly
// Size bytes; callers reinterpret it as whatever fixed-size record they
// need (work block slots, ARO block slots, batch stage arrays).
type Page struct {
	buf [Size]byte
}

// Bytes returns the page's backing storage.
func (p *Page) Bytes() []byte { return p.buf[:] }

// perWorkerCap bounds how many pages a single worker's local free list may
// hold before it starts returning pages to the shared pool. This mirrors
// mcache's small per-size-class free list depth.
const perWorkerCap = 32

type workerFreeList struct {
	mu    sync.Mutex
	pages []*Page
}

// Cache is the process-wide page cache. The zero value is not usable; use
// NewCache.
type Cache struct {
	numWorkers int
	local      []workerFreeList

	sharedMu   sync.Mutex
	shared     []*Page
	liveBytes  atomic.Int64
	totalFreed atomic.Int64
}

// NewCache creates a page cache for numWorkers workers. minReserve is the
// minimum number of pages (2+NumSlowAROCallbacks, per spec) guaranteed to
// be available to each worker at the start of a cycle so that tracing
// cannot stall for memory on its own hot path.
func NewCache(numWorkers, minReserve int) *Cache {
	c := &Cache{
		numWorkers: numWorkers,
		local:      make([]workerFreeList, numWorkers),
	}
	for w := 0; w < numWorkers; w++ {
		for i := 0; i < minReserve; i++ {
			c.local[w].pages = append(c.local[w].pages, c.newPage())
		}
	}
	return c
}

func (c *Cache) newPage() *Page {
	c.liveBytes.Add(Size)
	return &Page{}
}

// AllocatePage always returns a page, allocating fresh memory if neither
// the worker's local free list nor the shared pool has one ready.
func (c *Cache) AllocatePage(workerIdx int) *Page {
	fl := &c.local[workerIdx]
	fl.mu.Lock()
	if n := len(fl.pages); n > 0 {
		p := fl.pages[n-1]
		fl.pages = fl.pages[:n-1]
		fl.mu.Unlock()
		return p
	}
	fl.mu.Unlock()

	c.sharedMu.Lock()
	if n := len(c.shared); n > 0 {
		p := c.shared[n-1]
		c.shared = c.shared[:n-1]
		c.sharedMu.Unlock()
		return p
	}
	c.sharedMu.Unlock()

	return c.newPage()
}

// ReturnWorkerPage returns a page to the calling worker's per-worker cache.
func (c *Cache) ReturnWorkerPage(workerIdx int, p *Page) {
	fl := &c.local[workerIdx]
	fl.mu.Lock()
	if len(fl.pages) < perWorkerCap {
		fl.pages = append(fl.pages, p)
		fl.mu.Unlock()
		return
	}
	fl.mu.Unlock()
	c.ReturnSharedPage(p)
}

// ReturnSharedPage returns a page directly to the shared pool.
func (c *Cache) ReturnSharedPage(p *Page) {
	c.sharedMu.Lock()
	c.shared = append(c.shared, p)
	c.sharedMu.Unlock()
}

// TrimWorker trims a worker's local free list back down to minReserve
// pages, moving the surplus to the shared pool. Called when a worker
// finishes a collection cycle, per spec.
func (c *Cache) TrimWorker(workerIdx, minReserve int) {
	fl := &c.local[workerIdx]
	fl.mu.Lock()
	if len(fl.pages) <= minReserve {
		fl.mu.Unlock()
		return
	}
	surplus := fl.pages[minReserve:]
	fl.pages = fl.pages[:minReserve:minReserve]
	fl.mu.Unlock()

	c.sharedMu.Lock()
	c.shared = append(c.shared, surplus...)
	c.sharedMu.Unlock()
}

// CountBytes reports live page bytes currently tracked by the cache
// (allocated and not yet freed at shutdown).
func (c *Cache) CountBytes() int64 {
	return c.liveBytes.Load()
}

// Shutdown releases every tracked page. Pages are only ever freed here;
// during normal operation they are recycled indefinitely.
func (c *Cache) Shutdown() {
	for w := range c.local {
		c.local[w].mu.Lock()
		freed := int64(len(c.local[w].pages)) * Size
		c.local[w].pages = nil
		c.local[w].mu.Unlock()
		c.liveBytes.Add(-freed)
		c.totalFreed.Add(freed)
	}
	c.sharedMu.Lock()
	freed := int64(len(c.shared)) * Size
	c.shared = nil
	c.sharedMu.Unlock()
	c.liveBytes.Add(-freed)
	c.totalFreed.Add(freed)
}
