package batch

import "github.com/orbitgc/orbitgc/internal/schema"

// AROSink enqueues a slow-callback invocation for obj, reporting whether
// the enqueue succeeded (false means the caller must fall back to calling
// the callback synchronously, per spec.md §4.4/§7).
type AROSink func(callback int, obj interface{}) bool

// Expand walks one object's reference schema, feeding every
// Reference/ReferenceArray/FieldPath(Array) entry's slots into the
// reference pipeline, every StructArray/SparseStructArray/Optional entry's
// elements into the struct batcher (tagged with that entry's nested
// schema), and invoking aro for every MemberCallback entry.
func Expand(obj interface{}, h *schema.Handle, p *Pipeline, sb *StructBatcher, aro AROSink) {
	for _, e := range h.Entries() {
		switch e.Kind {
		case schema.Reference, schema.FieldPath:
			if e.Access == nil {
				continue
			}
			p.PushArray(e.Access(obj))

		case schema.ReferenceArray, schema.FreezableReferenceArray, schema.FieldPathArray:
			if e.Access == nil {
				continue
			}
			p.PushArray(e.Access(obj))

		case schema.StructArray, schema.FreezableStructArray, schema.SparseStructArray, schema.Optional:
			if e.Elements == nil || e.Sub == nil {
				continue
			}
			elems := e.Elements(obj)
			if len(elems) == 0 {
				continue
			}
			sb.Push(StructDescriptor{Schema: e.Sub, Elements: elems, Stride: e.Stride})

		case schema.MemberCallback:
			if aro == nil {
				continue
			}
			if !aro(e.Callback, obj) {
				// Resource exhaustion: fall back to a synchronous call.
				// Expand has no callback registry handle, so the caller
				// (the root package's Coordinator.dispatchSlowARO) supplies
				// an aro sink that itself
				// performs the synchronous fallback on failure; nothing
				// further to do here.
				_ = e
			}
		}
	}
}

// DrainStructBatch walks every queued struct-array/set element, visiting
// its members with the element's schema and feeding discovered references
// back into the pipeline (and, transitively, back into the struct
// batcher for further nested struct members) until the queue is dry.
func DrainStructBatch(sb *StructBatcher, p *Pipeline, aro AROSink) {
	sb.Drain(func(desc StructDescriptor) {
		for _, elem := range desc.Elements {
			Expand(elem, desc.Schema, p, sb, aro)
		}
	})
}
