package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleRetainReleaseTracksRefCount(t *testing.T) {
	h := New("Widget", nil)
	require.EqualValues(t, 1, h.RefCount())

	h.Retain()
	require.EqualValues(t, 2, h.RefCount())

	require.False(t, h.Release(), "releasing one of two references must not report last-reference")
	require.EqualValues(t, 1, h.RefCount())

	require.True(t, h.Release(), "releasing the final reference must report last-reference")
	require.EqualValues(t, 0, h.RefCount())
}

func TestNewRejectsMisalignedStride(t *testing.T) {
	require.Panics(t, func() {
		New("Widget", []Entry{{Name: "children", Kind: StructArray, Stride: 7}})
	})
}

func TestNewAcceptsAlignedStride(t *testing.T) {
	require.NotPanics(t, func() {
		New("Widget", []Entry{{Name: "children", Kind: StructArray, Stride: 16}})
	})
}

func TestKindStringCoversEveryKind(t *testing.T) {
	kinds := []Kind{
		Reference, ReferenceArray, StructArray, SparseStructArray, Optional,
		FieldPath, FieldPathArray, MemberCallback, FreezableReferenceArray,
		FreezableStructArray,
	}
	for _, k := range kinds {
		require.NotEqual(t, "Unknown", k.String())
	}
	require.Equal(t, "Unknown", Kind(255).String())
}

func TestBuilderBuildFreezesAnIndependentCopy(t *testing.T) {
	b := NewBuilder()
	b.Reference("parent", func(obj interface{}) []RefSlot { return nil })
	b.ReferenceArray("children", func(obj interface{}) []RefSlot { return nil })
	b.MemberCallback("onDestroy", 3)

	h := b.Build("Widget")
	require.Equal(t, "Widget", h.Class())
	require.Len(t, h.Entries(), 3)
	require.Equal(t, Reference, h.Entries()[0].Kind)
	require.Equal(t, ReferenceArray, h.Entries()[1].Kind)
	require.Equal(t, MemberCallback, h.Entries()[2].Kind)
	require.Equal(t, 3, h.Entries()[2].Callback)

	// Mutating the builder after Build must not affect the frozen handle.
	b.Reference("extra", nil)
	require.Len(t, h.Entries(), 3)
}

func TestBuilderFieldPathCarriesResolvedChain(t *testing.T) {
	b := NewBuilder()
	b.FieldPath("transform.location", []string{"transform", "location"}, func(obj interface{}) []RefSlot { return nil })
	h := b.Build("Actor")

	require.Equal(t, [][]string{{"transform", "location"}}, h.Entries()[0].FieldPaths)
}
