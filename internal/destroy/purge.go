package destroy

import (
	"sync"

	"github.com/orbitgc/orbitgc/internal/gcobj"
)

// PurgeState drives the destructor + free sub-phase of spec.md §4.9: a
// dedicated AsyncPurge goroutine makes one forward pass over the object
// range, destroying everything whose class reports thread-safe
// destruction immediately and appending everything else to a separate
// unsafe list; the caller's own tick loop drains that unsafe list under
// the object-table lock, batching destructors across time slices.
type PurgeState struct {
	objects []gcobj.Index
	table   gcobj.ObjectTable
	alloc   gcobj.Allocator
	life    gcobj.Lifecycle

	tableLock *sync.Mutex

	// multithreaded gates whether StartAsync launches the concurrent
	// AsyncPurge goroutine at all. When false, every object is handed to
	// the main-thread tick loop instead, per spec.md §6
	// "MultithreadedDestructionEnabled".
	multithreaded bool

	begin chan struct{}
	done  chan struct{}

	mu            sync.Mutex
	safeCursor    int
	asyncDone     bool
	unsafeList    []gcobj.Index
	unsafeHandled int
	mainDestroyed int
}

// NewPurgeState creates a purge driver over objects. tableLock is the
// shared object-table lock both the async goroutine and the main-thread
// tick loop acquire around each destructor call. multithreaded selects
// whether StartAsync destroys thread-safe objects concurrently at all.
func NewPurgeState(objects []gcobj.Index, table gcobj.ObjectTable, alloc gcobj.Allocator, life gcobj.Lifecycle, tableLock *sync.Mutex, multithreaded bool) *PurgeState {
	return &PurgeState{
		objects:       objects,
		table:         table,
		alloc:         alloc,
		life:          life,
		tableLock:     tableLock,
		multithreaded: multithreaded,
		begin:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// StartAsync launches the AsyncPurge goroutine. It blocks on the begin
// event before doing any work; call TriggerBegin to release it. If
// multithreaded destruction is disabled, no goroutine is launched at all:
// every object is queued straight onto the main-thread unsafe list instead.
func (p *PurgeState) StartAsync() {
	if !p.multithreaded {
		p.mu.Lock()
		p.unsafeList = append(p.unsafeList, p.objects...)
		p.safeCursor = len(p.objects)
		p.asyncDone = true
		p.mu.Unlock()
		close(p.done)
		return
	}
	go p.asyncLoop()
}

// TriggerBegin signals the AsyncPurge goroutine to start advancing its
// cursor (spec.md §4.9 "waits on a begin-event").
func (p *PurgeState) TriggerBegin() {
	select {
	case p.begin <- struct{}{}:
	default:
	}
}

// Wait blocks until the AsyncPurge goroutine has completed its single pass
// over the object range.
func (p *PurgeState) Wait() {
	<-p.done
}

func (p *PurgeState) asyncLoop() {
	<-p.begin
	defer close(p.done)

	for _, idx := range p.objects {
		entry, ok := p.table.IndexToItem(idx)
		if !ok || entry == nil || entry.Raw == nil {
			continue
		}
		if !p.life.IsDestructionThreadSafe(entry.Raw) {
			p.mu.Lock()
			p.unsafeList = append(p.unsafeList, idx)
			p.mu.Unlock()
			continue
		}

		p.tableLock.Lock()
		p.life.Destroy(entry.Raw)
		p.alloc.FreeObject(entry.Raw)
		entry.Raw = nil
		p.tableLock.Unlock()
	}

	p.mu.Lock()
	p.safeCursor = len(p.objects)
	p.asyncDone = true
	p.mu.Unlock()
}

// TickMainThread drains up to maxBatch thread-unsafe destructors under a
// single lock acquisition, per spec.md §4.9's "batching a single lock
// acquisition across up to 100 destructors per 10-ms time slice". Call
// repeatedly until Complete.
func (p *PurgeState) TickMainThread(maxBatch int) {
	p.tableLock.Lock()
	defer p.tableLock.Unlock()

	destroyedThisTick := 0
	for destroyedThisTick < maxBatch {
		p.mu.Lock()
		if p.unsafeHandled >= len(p.unsafeList) {
			p.mu.Unlock()
			break
		}
		idx := p.unsafeList[p.unsafeHandled]
		p.unsafeHandled++
		p.mu.Unlock()

		entry, ok := p.table.IndexToItem(idx)
		if !ok || entry == nil || entry.Raw == nil {
			continue
		}
		p.life.Destroy(entry.Raw)
		p.alloc.FreeObject(entry.Raw)
		entry.Raw = nil

		p.mu.Lock()
		p.mainDestroyed++
		p.mu.Unlock()
		destroyedThisTick++
	}
}

// Complete reports whether the async pass has finished and every object it
// appended to the unsafe list has since been destroyed by the main thread
// (spec.md §4.9 "cycle is complete when both cursors reach the end and the
// unsafe counter equals the number already main-thread-destroyed").
func (p *PurgeState) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asyncDone && p.unsafeHandled >= len(p.unsafeList)
}
