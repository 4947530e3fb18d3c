package mark

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitgc/orbitgc/internal/gcobj"
)

type fakeTable struct {
	entries map[gcobj.Index]*gcobj.Entry
	first   gcobj.Index
	num     gcobj.Index
}

func (t *fakeTable) IndexToItem(i gcobj.Index) (*gcobj.Entry, bool) {
	e, ok := t.entries[i]
	return e, ok
}
func (t *fakeTable) ObjectToIndex(raw interface{}) (gcobj.Index, bool) { return 0, false }
func (t *fakeTable) GetFirstGCIndex() gcobj.Index                      { return t.first }
func (t *fakeTable) Num() gcobj.Index                                  { return t.num }

type fakeClusters struct {
	byRoot map[gcobj.Index]*gcobj.Cluster
}

func (c *fakeClusters) ClusterByRoot(root gcobj.Index) (*gcobj.Cluster, bool) {
	cl, ok := c.byRoot[root]
	return cl, ok
}

func sorted(idx []gcobj.Index) []gcobj.Index {
	out := append([]gcobj.Index(nil), idx...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestSweep_RootSetAndKeepFlagsAreReachable(t *testing.T) {
	table := &fakeTable{entries: map[gcobj.Index]*gcobj.Entry{}, first: 1, num: 5}
	table.entries[1] = &gcobj.Entry{Object: 1, Flags: gcobj.NewFlags(gcobj.RootSet)}
	table.entries[2] = &gcobj.Entry{Object: 2, Flags: gcobj.NewFlags(gcobj.GarbageCollectionKeepFlags)}
	table.entries[3] = &gcobj.Entry{Object: 3, Flags: gcobj.NewFlags(0)}
	table.entries[4] = &gcobj.Entry{Object: 4, Flags: gcobj.NewFlags(0)}

	clusters := &fakeClusters{byRoot: map[gcobj.Index]*gcobj.Cluster{}}
	res, err := Sweep(table, clusters, 0, 2)
	require.NoError(t, err)

	require.Equal(t, []gcobj.Index{1, 2}, sorted(res.Reachable))
	require.True(t, table.entries[3].Flags.Has(gcobj.Unreachable))
	require.True(t, table.entries[4].Flags.Has(gcobj.Unreachable))
	require.False(t, table.entries[1].Flags.Has(gcobj.Unreachable))
}

func TestSweep_GarbageClusterRootDissolves(t *testing.T) {
	table := &fakeTable{entries: map[gcobj.Index]*gcobj.Entry{}, first: 1, num: 4}
	root := &gcobj.Entry{Object: 1, Flags: gcobj.NewFlags(gcobj.Garbage), OwnerIndex: -1}
	m1 := &gcobj.Entry{Object: 2, Flags: gcobj.NewFlags(0), OwnerIndex: 1}
	m2 := &gcobj.Entry{Object: 3, Flags: gcobj.NewFlags(0), OwnerIndex: 1}
	table.entries[1] = root
	table.entries[2] = m1
	table.entries[3] = m2

	cluster := &gcobj.Cluster{Root: 1, Members: []gcobj.Index{2, 3}}
	clusters := &fakeClusters{byRoot: map[gcobj.Index]*gcobj.Cluster{1: cluster}}

	res, err := Sweep(table, clusters, 0, 1)
	require.NoError(t, err)

	require.Empty(t, res.Reachable)
	require.True(t, cluster.NeedsDissolving())
	require.True(t, m1.Flags.Has(gcobj.Unreachable))
	require.True(t, m2.Flags.Has(gcobj.Unreachable))
	require.Equal(t, int32(0), m1.OwnerIndex)
}

func TestSweep_StripeCountDoesNotChangeResult(t *testing.T) {
	build := func() (*fakeTable, *fakeClusters) {
		table := &fakeTable{entries: map[gcobj.Index]*gcobj.Entry{}, first: 1, num: 21}
		for i := gcobj.Index(1); i < 21; i++ {
			flags := gcobj.Flag(0)
			if i%3 == 0 {
				flags = gcobj.RootSet
			}
			table.entries[i] = &gcobj.Entry{Object: i, Flags: gcobj.NewFlags(flags)}
		}
		return table, &fakeClusters{byRoot: map[gcobj.Index]*gcobj.Cluster{}}
	}

	t1, c1 := build()
	r1, err := Sweep(t1, c1, 0, 1)
	require.NoError(t, err)

	t7, c7 := build()
	r7, err := Sweep(t7, c7, 0, 7)
	require.NoError(t, err)

	require.Equal(t, sorted(r1.Reachable), sorted(r7.Reachable))
}
