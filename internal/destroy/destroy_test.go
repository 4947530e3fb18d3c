package destroy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbitgc/orbitgc/internal/gcobj"
)

type fakeTable struct {
	entries map[gcobj.Index]*gcobj.Entry
}

func (t *fakeTable) IndexToItem(i gcobj.Index) (*gcobj.Entry, bool) {
	e, ok := t.entries[i]
	return e, ok
}
func (t *fakeTable) ObjectToIndex(raw interface{}) (gcobj.Index, bool) { return 0, false }
func (t *fakeTable) GetFirstGCIndex() gcobj.Index                      { return 1 }
func (t *fakeTable) Num() gcobj.Index                                  { return gcobj.Index(len(t.entries) + 1) }

type fakeLifecycle struct {
	mu           sync.Mutex
	begunDestroy map[gcobj.Index]int
	readyAfter   map[gcobj.Index]int // becomes ready after this many IsReady checks
	readyChecks  map[gcobj.Index]int
	finished     map[gcobj.Index]bool
	threadSafe   map[gcobj.Index]bool
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{
		begunDestroy: map[gcobj.Index]int{},
		readyAfter:   map[gcobj.Index]int{},
		readyChecks:  map[gcobj.Index]int{},
		finished:     map[gcobj.Index]bool{},
		threadSafe:   map[gcobj.Index]bool{},
	}
}

func (f *fakeLifecycle) idx(raw interface{}) gcobj.Index { return raw.(gcobj.Index) }

func (f *fakeLifecycle) IsDestructionThreadSafe(raw interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threadSafe[f.idx(raw)]
}

func (f *fakeLifecycle) IsReadyForFinishDestroy(raw interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.idx(raw)
	f.readyChecks[i]++
	return f.readyChecks[i] > f.readyAfter[i]
}

func (f *fakeLifecycle) ConditionalBeginDestroy(raw interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begunDestroy[f.idx(raw)]++
}

func (f *fakeLifecycle) ConditionalFinishDestroy(raw interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[f.idx(raw)] = true
}

func (f *fakeLifecycle) Destroy(raw interface{}) {}

func buildTable(n int) (*fakeTable, []gcobj.Index) {
	table := &fakeTable{entries: map[gcobj.Index]*gcobj.Entry{}}
	var objs []gcobj.Index
	for i := 1; i <= n; i++ {
		idx := gcobj.Index(i)
		table.entries[idx] = &gcobj.Entry{Object: idx, Raw: idx}
		objs = append(objs, idx)
	}
	return table, objs
}

func TestUnhashPass_BudgetSlicesAcrossCalls(t *testing.T) {
	table, objs := buildTable(25)
	life := newFakeLifecycle()

	tick := 0
	clock := func() time.Time { return time.Unix(int64(tick), 0) }
	budget := Budget{Clock: clock, Deadline: time.Unix(0, 0)}

	cursor := &UnhashCursor{}
	calls := 0
	for !cursor.Done(objs) {
		tick++
		budget.Deadline = clock()
		done := UnhashPass(objs, cursor, life, table, budget)
		calls++
		require.LessOrEqual(t, calls, 25, "must not loop forever")
		if done {
			break
		}
	}

	require.Equal(t, len(objs), len(life.begunDestroy))
	for _, idx := range objs {
		require.Equal(t, 1, life.begunDestroy[idx], "BeginDestroy must be called exactly once")
	}
}

func TestFinishDestroyPass_ConvergesWithArbitrarySlicing(t *testing.T) {
	table, objs := buildTable(12)
	life := newFakeLifecycle()
	for i, idx := range objs {
		life.readyAfter[idx] = i % 3 // some ready immediately, some need retries
	}

	cursor := &FinishDestroyCursor{}
	tick := 0
	clock := func() time.Time { return time.Unix(int64(tick), 0) }
	budget := Budget{Clock: clock}
	for i := 0; i < 50; i++ {
		tick++
		budget.Deadline = clock()
		done, err := FinishDestroyPass(objs, cursor, life, table, budget, time.Hour)
		require.NoError(t, err)
		if done {
			break
		}
	}

	for _, idx := range objs {
		require.True(t, life.finished[idx], "object %d must finish", idx)
	}
}

func TestFinishDestroyPass_StallEscalatesAfterTimeout(t *testing.T) {
	table, objs := buildTable(3)
	life := newFakeLifecycle()
	life.readyAfter[1] = 1 << 30 // never ready

	cursor := &FinishDestroyCursor{}
	tick := time.Unix(0, 0)
	clock := func() time.Time { return tick }
	budget := Budget{Unlimited: true, Clock: clock}

	_, err := FinishDestroyPass(objs, cursor, life, table, budget, time.Second)
	require.NoError(t, err)

	tick = tick.Add(2 * time.Second)
	_, err = FinishDestroyPass(objs, cursor, life, table, budget, time.Second)
	require.Error(t, err)
}

func TestPurgeState_CompletesAfterBothCursorsDrain(t *testing.T) {
	table, objs := buildTable(6)
	life := newFakeLifecycle()
	alloc := &fakeAllocator{}
	for i, idx := range objs {
		life.threadSafe[idx] = i%2 == 0
	}
	var lock sync.Mutex

	ps := NewPurgeState(objs, table, alloc, life, &lock, true)
	ps.StartAsync()
	ps.TriggerBegin()

	for !ps.Complete() {
		ps.TickMainThread(1)
	}
	ps.Wait()

	require.True(t, ps.Complete())
}

func TestPurgeState_SingleThreadedRoutesEverythingThroughMainThread(t *testing.T) {
	table, objs := buildTable(4)
	life := newFakeLifecycle()
	alloc := &fakeAllocator{}
	for _, idx := range objs {
		life.threadSafe[idx] = true // would all go through asyncLoop if multithreaded
	}
	var lock sync.Mutex

	ps := NewPurgeState(objs, table, alloc, life, &lock, false)
	ps.StartAsync()
	ps.TriggerBegin()

	for !ps.Complete() {
		ps.TickMainThread(1)
	}
	ps.Wait()

	require.Equal(t, len(objs), len(alloc.freed), "every object, including thread-safe ones, must be destroyed from the main thread when multithreaded destruction is disabled")
}

type fakeAllocator struct {
	mu    sync.Mutex
	freed []interface{}
}

func (a *fakeAllocator) FreeObject(raw interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freed = append(a.freed, raw)
}
