// Package schema implements the immutable, reference-counted per-class
// reference schema of spec.md §3/§4: a compact description of where a
// class's strong references live, built once and shared by every instance
// (and by subclasses that add no new reference-bearing members).
//
// Unlike the teacher runtime's GC bitmaps (which describe layout as raw
// bitmasks over words because the compiler lays out every type), orbitgc
// has no compiler cooperation: a managed object's Go type is caller-owned
// and opaque to this library. Byte-offset layout description is therefore
// not a safe general mechanism here. Schema entries instead carry a
// closure (Accessor) compiled once per class at registration time — still
// an out-of-line, per-class description visited without per-call virtual
// dispatch on the object, which is the property spec.md §9 actually cares
// about ("Dynamic dispatch on objects"). Offset/Stride are retained as
// documented, checked metadata for parity with the spec's invariants and
// for diagnostics, not as the traversal mechanism. This deviation is
// recorded in DESIGN.md.
package schema

import "go.uber.org/atomic"

// Kind is the closed set of reference-schema entry kinds from spec.md §3.
type Kind uint8

const (
	Reference Kind = iota
	ReferenceArray
	StructArray
	SparseStructArray
	Optional
	FieldPath
	FieldPathArray
	MemberCallback
	FreezableReferenceArray
	FreezableStructArray
)

func (k Kind) String() string {
	switch k {
	case Reference:
		return "Reference"
	case ReferenceArray:
		return "ReferenceArray"
	case StructArray:
		return "StructArray"
	case SparseStructArray:
		return "SparseStructArray"
	case Optional:
		return "Optional"
	case FieldPath:
		return "FieldPath"
	case FieldPathArray:
		return "FieldPathArray"
	case MemberCallback:
		return "MemberCallback"
	case FreezableReferenceArray:
		return "FreezableReferenceArray"
	case FreezableStructArray:
		return "FreezableStructArray"
	default:
		return "Unknown"
	}
}

// RefSlot is one strong-reference slot discovered by an Accessor: the
// object index it currently holds (0 means null/empty) and, when the slot
// is mutable, a Set function the processor may call to null it (spec.md
// §4.3 "Mutability policy" / §4.4 killable-reference nulling). Killable
// marks a reference the collector may overwrite with null when its target
// is flagged garbage (a blueprint-origin reference, or one created with
// the WithPendingKill option) — only such slots are nulled by the
// reachability processor's killable-nulling case.
type RefSlot struct {
	Index    uint32
	Set      func(uint32)
	Killable bool
}

// Accessor extracts the current reference slots described by one schema
// entry from a concrete object. It is compiled once per class (at Builder
// time) and is free of per-object branching on type.
type Accessor func(obj interface{}) []RefSlot

// ElementAccessor extracts the sub-elements of a StructArray /
// SparseStructArray / Optional entry, each to be visited with Sub.
type ElementAccessor func(obj interface{}) []interface{}

// Entry describes one member of a class's reference schema.
type Entry struct {
	Name     string
	Offset   uintptr // documented layout offset; informational, see package doc.
	Kind     Kind
	Stride   uintptr // element stride for array/struct kinds; must be a multiple of 8 when nonzero.
	Sub      *Handle // nested schema for StructArray/SparseStructArray/Optional.
	Callback int     // ARO callback index for MemberCallback entries.

	Access     Accessor
	Elements   ElementAccessor
	FieldPaths [][]string // resolved member chains for FieldPath/FieldPathArray
}

type data struct {
	class   string
	entries []Entry
}

// Handle is an immutable, reference-counted reference schema, shared by
// every instance of a class and by subclasses that reuse it verbatim
// (spec.md §3 "Class").
type Handle struct {
	*data
	refs atomic.Int32
}

// New builds a Handle from a finished entry set with an initial reference
// count of 1. Entries should be constructed with Builder.
func New(class string, entries []Entry) *Handle {
	for _, e := range entries {
		if e.Stride%8 != 0 {
			panic("schema: stride must be a multiple of 8: " + class + "." + e.Name)
		}
	}
	h := &Handle{data: &data{class: class, entries: entries}}
	h.refs.Store(1)
	return h
}

// Class returns the owning class name, for diagnostics.
func (h *Handle) Class() string { return h.class }

// Entries returns the schema's immutable entry sequence.
func (h *Handle) Entries() []Entry { return h.entries }

// Retain increments the schema's reference count and returns it, so a
// subclass can share its parent's compiled schema without recompiling it.
func (h *Handle) Retain() *Handle {
	h.refs.Inc()
	return h
}

// Release decrements the reference count and reports whether this was the
// last live reference. Go's GC reclaims the backing storage regardless;
// the count exists so callers can assert the sharing invariant in tests
// and so diagnostics can report live-schema counts.
func (h *Handle) Release() bool {
	return h.refs.Dec() == 0
}

// RefCount reports the current reference count, for tests/diagnostics.
func (h *Handle) RefCount() int32 {
	return h.refs.Load()
}
