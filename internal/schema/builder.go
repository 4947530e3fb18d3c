package schema

// Builder accumulates Entry values for one class before freezing them into
// an immutable Handle via Build. Classes normally build their schema once,
// at class-registration time, and cache the Handle (spec.md §3 "built once
// per class").
type Builder struct {
	entries []Entry
}

// NewBuilder starts a fresh schema description.
func NewBuilder() *Builder {
	return &Builder{}
}

// Reference appends a single-slot reference member.
func (b *Builder) Reference(name string, access Accessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: Reference, Access: access})
	return b
}

// ReferenceArray appends a dynamic array of reference slots.
func (b *Builder) ReferenceArray(name string, access Accessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: ReferenceArray, Access: access})
	return b
}

// FreezableReferenceArray is a ReferenceArray backed by the freezable
// (read-mostly, alternate-allocator) array variant from spec.md §3.
func (b *Builder) FreezableReferenceArray(name string, access Accessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: FreezableReferenceArray, Access: access})
	return b
}

// StructArray appends a dynamic array of compound elements, each visited
// with the nested schema sub.
func (b *Builder) StructArray(name string, stride uintptr, sub *Handle, elements ElementAccessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: StructArray, Stride: stride, Sub: sub, Elements: elements})
	return b
}

// FreezableStructArray is the freezable-allocator StructArray variant.
func (b *Builder) FreezableStructArray(name string, stride uintptr, sub *Handle, elements ElementAccessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: FreezableStructArray, Stride: stride, Sub: sub, Elements: elements})
	return b
}

// SparseStructArray appends a set/map backing-store member visited with
// the nested schema sub.
func (b *Builder) SparseStructArray(name string, sub *Handle, elements ElementAccessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: SparseStructArray, Sub: sub, Elements: elements})
	return b
}

// Optional appends a present-or-absent slot visited with the nested schema
// sub when present.
func (b *Builder) Optional(name string, sub *Handle, elements ElementAccessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: Optional, Sub: sub, Elements: elements})
	return b
}

// FieldPath appends a reference reached through a resolved chain of member
// names (e.g. a property path into a nested value type).
func (b *Builder) FieldPath(name string, path []string, access Accessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: FieldPath, FieldPaths: [][]string{path}, Access: access})
	return b
}

// FieldPathArray appends an array of field paths.
func (b *Builder) FieldPathArray(name string, paths [][]string, access Accessor) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: FieldPathArray, FieldPaths: paths, Access: access})
	return b
}

// MemberCallback appends an out-of-band slow-ARO callback entry; callback
// is the class's registered callback index (see internal/aro).
func (b *Builder) MemberCallback(name string, callback int) *Builder {
	b.entries = append(b.entries, Entry{Name: name, Kind: MemberCallback, Callback: callback})
	return b
}

// Build freezes the accumulated entries into an immutable Handle.
func (b *Builder) Build(class string) *Handle {
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return New(class, entries)
}
