package gather

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/worker"
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

func TestGather_CollectsUnreachableAndDissolvesClusterRoot(t *testing.T) {
	table := &fakeTable{entries: map[gcobj.Index]*gcobj.Entry{}, first: 1, num: 5}
	table.entries[1] = &gcobj.Entry{Object: 1, Flags: gcobj.NewFlags(gcobj.Unreachable), OwnerIndex: -1}
	table.entries[2] = &gcobj.Entry{Object: 2, Flags: gcobj.NewFlags(0), OwnerIndex: 1}
	table.entries[3] = &gcobj.Entry{Object: 3, Flags: gcobj.NewFlags(0), OwnerIndex: 1}
	table.entries[4] = &gcobj.Entry{Object: 4, Flags: gcobj.NewFlags(0)}

	cluster := &gcobj.Cluster{Root: 1, Members: []gcobj.Index{2, 3}}
	clusters := &fakeClusters{byRoot: map[gcobj.Index]*gcobj.Cluster{1: cluster}}

	res, err := Gather(table, clusters, nil, 2)
	require.NoError(t, err)
	require.Equal(t, []gcobj.Index{1, 2, 3}, sorted(res.UnreachableObjects))
	require.True(t, table.entries[2].Flags.Has(gcobj.Unreachable))
	require.True(t, table.entries[3].Flags.Has(gcobj.Unreachable))
	require.False(t, table.entries[4].Flags.Has(gcobj.Unreachable))
}

func TestGather_ClearsWeakReferenceToUnreachableTarget(t *testing.T) {
	table := &fakeTable{entries: map[gcobj.Index]*gcobj.Entry{}, first: 1, num: 3}
	table.entries[1] = &gcobj.Entry{Object: 1, Flags: gcobj.NewFlags(0)}
	table.entries[2] = &gcobj.Entry{Object: 2, Flags: gcobj.NewFlags(gcobj.Unreachable)}
	clusters := &fakeClusters{byRoot: map[gcobj.Index]*gcobj.Cluster{}}

	var cleared bool
	ctx := &worker.Context{WeakRefs: []worker.WeakRef{{Target: 2, Clear: func() { cleared = true }}}}

	_, err := Gather(table, clusters, []*worker.Context{ctx}, 1)
	require.NoError(t, err)
	require.True(t, cleared)
}
