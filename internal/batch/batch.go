// Package batch implements the collector's staged prefetch pipeline
// (spec.md §4.3): references drain through unvalidated-array, then
// unvalidated-reference, then validated-reference stages before reaching
// the reachability processor, plus a separate struct batcher for
// array-of-struct and set/map backing-store traversal.
//
// The teacher runtime has no equivalent of this staged validation — its
// write barrier and stack scanner always operate on typed, already-valid
// pointers because the compiler guarantees layout. orbitgc's references
// are caller-owned object indices that may be null, may point into a
// permanent pool, or may come from an unresolved lazy handle, so a
// validation stage is unavoidable; its shape (batch, build a validity
// mask, compact) is grounded on the general vectorized-batch idiom used
// throughout the systems code in the examples pack (e.g. the sneller
// vm/sfw vectorized filter pipeline) rather than on the teacher directly.
//
// Go gives no manual cache-prefetch intrinsic (unlike the spec's literal
// "prefetch subsequent entries a fixed distance ahead"), so
// ValidatedPrefetchDistance here only sizes the compaction batch; the
// actual memory prefetching is left to the hardware prefetcher walking
// the batch's sequential access pattern. This is a deliberate, documented
// deviation (see DESIGN.md).
package batch

import (
	"github.com/orbitgc/orbitgc/internal/gcobj"
	"github.com/orbitgc/orbitgc/internal/schema"
)

// StageCapacity bounds each staging buffer, per spec.md's "fixed-capacity"
// stage requirement.
const StageCapacity = 256

// ValidatedPrefetchDistance is the nominal prefetch distance for the
// validated stage (spec.md §4.3: "≈ 64 entries").
const ValidatedPrefetchDistance = 64

// Validated is a reference that survived the unvalidated stage: it is
// non-null, not in the permanent pool, and resolves to a live object-table
// entry.
type Validated struct {
	Index gcobj.Index
	Entry *gcobj.Entry
	Slot  schema.RefSlot
}

// Sink receives validated references, one at a time, in stage order.
type Sink func(Validated)

// Pipeline is one worker's three-stage reference validation pipeline.
// Pipeline is not safe for concurrent use; each worker owns one.
type Pipeline struct {
	table     gcobj.ObjectTable
	permanent gcobj.PermanentObjectPool
	sink      Sink

	arrays [][]schema.RefSlot // unvalidated-arrays stage: queued slot batches

	unvalidated    [StageCapacity]schema.RefSlot
	unvalidatedLen int

	validated    [StageCapacity]Validated
	validatedLen int
}

// NewPipeline creates a validation pipeline feeding sink.
func NewPipeline(table gcobj.ObjectTable, permanent gcobj.PermanentObjectPool, sink Sink) *Pipeline {
	return &Pipeline{table: table, permanent: permanent, sink: sink}
}

// PushArray enqueues an array (or strided array) of reference slots onto
// the unvalidated-arrays stage.
func (p *Pipeline) PushArray(slots []schema.RefSlot) {
	if len(slots) == 0 {
		return
	}
	p.arrays = append(p.arrays, slots)
	if len(p.arrays) >= 1 {
		p.drainArrays()
	}
}

// drainArrays moves queued array batches into the unvalidated-reference
// stage, flushing downstream whenever that stage fills.
func (p *Pipeline) drainArrays() {
	for len(p.arrays) > 0 {
		batch := p.arrays[0]
		for len(batch) > 0 {
			room := StageCapacity - p.unvalidatedLen
			if room == 0 {
				p.drainUnvalidated()
				room = StageCapacity
			}
			n := len(batch)
			if n > room {
				n = room
			}
			copy(p.unvalidated[p.unvalidatedLen:], batch[:n])
			p.unvalidatedLen += n
			batch = batch[n:]
		}
		p.arrays = p.arrays[1:]
	}
}

// drainUnvalidated validates the buffered unvalidated-reference batch:
// null and permanent-pool entries are dropped, an entry with no live table
// slot panics with invalidObjectError, and survivors move to the validated
// stage. Validity is computed as a bitmask over the whole
// batch before compaction, matching spec.md's "build a bitmask of validity
// ... compact surviving entries using the bitmask and a cursor".
func (p *Pipeline) drainUnvalidated() {
	n := p.unvalidatedLen
	if n == 0 {
		return
	}
	var mask [StageCapacity]bool
	entries := make([]*gcobj.Entry, n)
	for i := 0; i < n; i++ {
		slot := p.unvalidated[i]
		if slot.Index == 0 {
			continue
		}
		if p.permanent != nil && p.permanent.Contains(gcobj.Index(slot.Index)) {
			continue
		}
		entry, ok := p.table.IndexToItem(gcobj.Index(slot.Index))
		if !ok {
			// Invalid-object validation failure: the slot does not match
			// a live table entry. Fatal per spec.md §7; the caller
			// (reach/trace) is expected to install a panic->InvariantError
			// boundary, so we panic here rather than silently dropping a
			// corrupt reference.
			panic(invalidObjectError{index: slot.Index})
		}
		mask[i] = true
		entries[i] = entry
	}

	cursor := 0
	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		if cursor == StageCapacity {
			p.drainValidated()
			cursor = 0
		}
		p.validated[p.validatedLen] = Validated{
			Index: gcobj.Index(p.unvalidated[i].Index),
			Entry: entries[i],
			Slot:  p.unvalidated[i],
		}
		p.validatedLen++
		cursor++
		if p.validatedLen == StageCapacity {
			p.drainValidated()
		}
	}
	p.unvalidatedLen = 0
}

// drainValidated dispatches the buffered validated batch to the sink.
func (p *Pipeline) drainValidated() {
	for i := 0; i < p.validatedLen; i++ {
		p.sink(p.validated[i])
	}
	p.validatedLen = 0
}

// Flush drains every stage, even if not yet full. Call once per object
// visited (or at minimum once per cycle) so no reference is left stranded
// in a partially filled stage.
func (p *Pipeline) Flush() {
	p.drainArrays()
	p.drainUnvalidated()
	p.drainValidated()
}

// invalidObjectError is the panic value used to signal spec.md §7's fatal
// "invalid-object validation failure"; the root package recovers it at the
// worker-loop boundary and converts it to an InvariantError.
type invalidObjectError struct {
	index uint32
}

func (e invalidObjectError) Error() string {
	return "batch: reference does not match a live object-table slot"
}
