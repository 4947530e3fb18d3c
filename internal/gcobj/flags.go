// Package gcobj defines the collector's core, cycle-independent vocabulary
// — object indices, the atomic flags word, the consumed external
// interfaces (spec.md §6), and cluster bookkeeping — in one leaf package so
// every phase package (mark, reach, trace, gather, destroy, batch) and the
// public root package can share a single definition without an import
// cycle back to the root package.
package gcobj

import "go.uber.org/atomic"

// Index addresses a managed object in the global object table (spec.md §3
// "ObjectIndex"). Zero is reserved to mean "no object".
type Index uint32

// Flag is one bit of a managed object's Flags word.
type Flag uint32

const (
	Unreachable Flag = 1 << iota
	ReachableInCluster
	ClusterRoot
	RootSet
	GarbageCollectionKeepFlags
	Killable
	Destroyed
	PendingConstruction
	Garbage // cluster root / object carries a pending-kill / garbage marker
)

// Flags is a managed object's atomic flags word. Every flip that matters
// for reachability goes through TryClear/TrySet so exactly one caller
// "wins" a given transition — the "this-thread-cleared-flag" idiom spec.md
// §9 calls out as the core's race-free building block.
type Flags struct {
	bits atomic.Uint32
}

// NewFlags builds a Flags word with the given initial bits set.
func NewFlags(initial Flag) *Flags {
	f := &Flags{}
	f.bits.Store(uint32(initial))
	return f
}

// Load returns a snapshot of the flags word.
func (f *Flags) Load() Flag {
	return Flag(f.bits.Load())
}

// Has reports whether every bit in want is set in the current snapshot.
// An empty want is never considered present, even though it is vacuously a
// subset of any bitmask — callers that pass a caller-supplied, possibly
// zero keepFlags value rely on this to mean "no additional flags checked".
func (f *Flags) Has(want Flag) bool {
	if want == 0 {
		return false
	}
	return Flag(f.bits.Load())&want == want
}

// TrySet atomically sets bit in the flags word and reports whether this
// call was the one that changed it from unset to set (i.e. whether this
// caller "won" the transition). A no-op CAS race (another thread sets it
// first) is reported as false, matching the teacher runtime's pattern of
// only the winning flipper enqueueing follow-up work.
func (f *Flags) TrySet(bit Flag) bool {
	for {
		old := f.bits.Load()
		if Flag(old)&bit != 0 {
			return false
		}
		next := old | uint32(bit)
		if f.bits.CAS(old, next) {
			return true
		}
	}
}

// TryClear atomically clears bit and reports whether this call was the one
// that changed it from set to unset.
func (f *Flags) TryClear(bit Flag) bool {
	for {
		old := f.bits.Load()
		if Flag(old)&bit == 0 {
			return false
		}
		next := old &^ uint32(bit)
		if f.bits.CAS(old, next) {
			return true
		}
	}
}

// Set unconditionally sets bit (used outside the concurrent reachability
// phase, e.g. during the single-threaded mark pass, where no race exists).
func (f *Flags) Set(bit Flag) {
	for {
		old := f.bits.Load()
		next := old | uint32(bit)
		if old == next || f.bits.CAS(old, next) {
			return
		}
	}
}

// Clear unconditionally clears bit.
func (f *Flags) Clear(bit Flag) {
	for {
		old := f.bits.Load()
		next := old &^ uint32(bit)
		if old == next || f.bits.CAS(old, next) {
			return
		}
	}
}
