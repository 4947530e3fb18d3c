package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/schema"
)

type fakeTable struct {
	entries map[gcobj.Index]*gcobj.Entry
}

func (f *fakeTable) IndexToItem(i gcobj.Index) (*gcobj.Entry, bool) {
	e, ok := f.entries[i]
	return e, ok
}
func (f *fakeTable) ObjectToIndex(raw interface{}) (gcobj.Index, bool) { return 0, false }
func (f *fakeTable) GetFirstGCIndex() gcobj.Index                      { return 1 }
func (f *fakeTable) Num() gcobj.Index                                  { return gcobj.Index(len(f.entries) + 1) }

type fakePermanent struct {
	permanent map[gcobj.Index]bool
}

func (f *fakePermanent) Contains(idx gcobj.Index) bool { return f.permanent[idx] }

func newFixture(n int) (*fakeTable, []schema.RefSlot) {
	table := &fakeTable{entries: make(map[gcobj.Index]*gcobj.Entry)}
	slots := make([]schema.RefSlot, 0, n)
	for i := 1; i <= n; i++ {
		idx := gcobj.Index(i)
		table.entries[idx] = &gcobj.Entry{Object: idx}
		slots = append(slots, schema.RefSlot{Index: uint32(idx)})
	}
	return table, slots
}

func TestPipelineDropsNullAndPermanentSlots(t *testing.T) {
	table, slots := newFixture(2)
	perm := &fakePermanent{permanent: map[gcobj.Index]bool{2: true}}

	var got []Validated
	p := NewPipeline(table, perm, func(v Validated) { got = append(got, v) })

	input := append([]schema.RefSlot{{Index: 0}}, slots...)
	p.PushArray(input)
	p.Flush()

	require.Len(t, got, 1)
	require.Equal(t, gcobj.Index(1), got[0].Index)
}

func TestPipelinePanicsOnDanglingIndex(t *testing.T) {
	table, _ := newFixture(0)
	p := NewPipeline(table, nil, func(Validated) {})

	require.Panics(t, func() {
		p.PushArray([]schema.RefSlot{{Index: 99}})
		p.Flush()
	})
}

func TestPipelineFlushesAcrossStageBoundaries(t *testing.T) {
	table, slots := newFixture(StageCapacity + 10)

	var got []Validated
	p := NewPipeline(table, nil, func(v Validated) { got = append(got, v) })
	p.PushArray(slots)
	p.Flush()

	require.Len(t, got, StageCapacity+10)
	for i, v := range got {
		require.Equal(t, gcobj.Index(i+1), v.Index)
	}
}

func TestStructBatcherDrainVisitsInFIFOOrderAndSupportsNestedPushes(t *testing.T) {
	sb := NewStructBatcher()
	sub := schema.New("Elem", nil)

	sb.Push(StructDescriptor{Schema: sub, Elements: []interface{}{"a"}})
	sb.Push(StructDescriptor{Schema: sub, Elements: []interface{}{"b"}})

	var visited []string
	first := true
	sb.Drain(func(desc StructDescriptor) {
		visited = append(visited, desc.Elements[0].(string))
		if first {
			first = false
			sb.Push(StructDescriptor{Schema: sub, Elements: []interface{}{"c"}})
		}
	})

	require.Equal(t, []string{"a", "b", "c"}, visited)
	require.True(t, sb.Empty())
}

func TestStructBatcherPushIgnoresEmptyDescriptor(t *testing.T) {
	sb := NewStructBatcher()
	sb.Push(StructDescriptor{Elements: nil})
	require.True(t, sb.Empty())
}

func TestExpandRoutesEachEntryKindToItsDestination(t *testing.T) {
	table, slots := newFixture(1)
	var got []Validated
	p := NewPipeline(table, nil, func(v Validated) { got = append(got, v) })
	sb := NewStructBatcher()

	var aroCalls []int
	aroSink := func(callback int, obj interface{}) bool {
		aroCalls = append(aroCalls, callback)
		return true
	}

	sub := schema.New("Elem", nil)
	h := schema.New("Widget", []schema.Entry{
		{Name: "parent", Kind: schema.Reference, Access: func(interface{}) []schema.RefSlot { return slots }},
		{Name: "children", Kind: schema.StructArray, Sub: sub, Elements: func(interface{}) []interface{} { return []interface{}{"child"} }},
		{Name: "onDestroy", Kind: schema.MemberCallback, Callback: 7},
	})

	Expand("widget-instance", h, p, sb, aroSink)
	p.Flush()

	require.Len(t, got, 1)
	require.False(t, sb.Empty())
	require.Equal(t, []int{7}, aroCalls)

	DrainStructBatch(sb, p, aroSink)
	require.True(t, sb.Empty())
}
