// Package destroy implements the incremental destruction pipeline of
// spec.md §4.8/§4.9: unhash + BeginDestroy, FinishDestroy with a
// PendingDestruction retry list and stall escalation, and the
// AsyncPurge/main-thread destructor split.
package destroy

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/orbitgc/orbitgc/internal/gcobj"
)

// Clock returns the current time; injected so tests can drive time-sliced
// passes deterministically instead of depending on wall-clock jitter.
type Clock func() time.Time

// Budget bounds one time-sliced call.
type Budget struct {
	Clock     Clock
	Deadline  time.Time
	Unlimited bool
}

func (b Budget) exceeded() bool {
	if b.Unlimited || b.Clock == nil {
		return false
	}
	return !b.Deadline.IsZero() && !b.Clock().Before(b.Deadline)
}

// UnhashCursor resumes an in-progress unhash+BeginDestroy pass across
// ticks.
type UnhashCursor struct {
	pos int
}

// Done reports whether the cursor has consumed every object.
func (c *UnhashCursor) Done(objects []gcobj.Index) bool { return c.pos >= len(objects) }

// UnhashPass iterates objects from the cursor's position, invoking
// ConditionalBeginDestroy on each; every 10 objects it checks budget and,
// if exceeded, saves the cursor and returns with more work pending
// (spec.md §4.8).
func UnhashPass(objects []gcobj.Index, cursor *UnhashCursor, lifecycle gcobj.Lifecycle, table gcobj.ObjectTable, budget Budget) (done bool) {
	const checkEvery = 10
	for ; cursor.pos < len(objects); cursor.pos++ {
		entry, ok := table.IndexToItem(objects[cursor.pos])
		if ok && entry != nil {
			lifecycle.ConditionalBeginDestroy(entry.Raw)
		}
		if (cursor.pos+1)%checkEvery == 0 && budget.exceeded() {
			cursor.pos++
			return false
		}
	}
	return true
}

// FinishDestroyCursor resumes an in-progress FinishDestroy pass across
// ticks, carrying the pending-retry list between calls.
type FinishDestroyCursor struct {
	pos     int
	pending []gcobj.Index

	stallSince time.Time
}

// FinishDestroyPass iterates objects from the cursor, calling
// ConditionalFinishDestroy on every object that reports ready, and
// deferring the rest onto the pending list; once the main cursor reaches
// the end, it sweeps the pending list removing ready objects by
// swap-with-last. If the pending list fails to converge within maxStall it
// returns a *multierror.Error holding one *NotReadyError per pending
// object (spec.md §4.9).
func FinishDestroyPass(objects []gcobj.Index, cursor *FinishDestroyCursor, lifecycle gcobj.Lifecycle, table gcobj.ObjectTable, budget Budget, maxStall time.Duration) (done bool, stallErr error) {
	const checkEvery = 10
	checked := 0

	for ; cursor.pos < len(objects); cursor.pos++ {
		advanceOne(objects[cursor.pos], cursor, lifecycle, table)
		checked++
		if checked%checkEvery == 0 && budget.exceeded() {
			cursor.pos++
			return false, nil
		}
	}

	if len(cursor.pending) == 0 {
		return true, nil
	}

	if cursor.stallSince.IsZero() && budget.Clock != nil {
		cursor.stallSince = budget.Clock()
	}

	for i := 0; i < len(cursor.pending); {
		idx := cursor.pending[i]
		entry, ok := table.IndexToItem(idx)
		if ok && entry != nil && lifecycle.IsReadyForFinishDestroy(entry.Raw) {
			lifecycle.ConditionalFinishDestroy(entry.Raw)
			last := len(cursor.pending) - 1
			cursor.pending[i] = cursor.pending[last]
			cursor.pending = cursor.pending[:last]
			continue
		}
		i++
		checked++
		if checked%checkEvery == 0 && budget.exceeded() {
			break
		}
	}

	if len(cursor.pending) == 0 {
		cursor.stallSince = time.Time{}
		return true, nil
	}

	if budget.Clock != nil && maxStall > 0 && !cursor.stallSince.IsZero() {
		if budget.Clock().Sub(cursor.stallSince) > maxStall {
			var merr *multierror.Error
			for _, idx := range cursor.pending {
				merr = multierror.Append(merr, &NotReadyError{Object: idx})
			}
			return false, merr.ErrorOrNil()
		}
	}

	return false, nil
}

func advanceOne(idx gcobj.Index, cursor *FinishDestroyCursor, lifecycle gcobj.Lifecycle, table gcobj.ObjectTable) {
	entry, ok := table.IndexToItem(idx)
	if !ok || entry == nil {
		return
	}
	if lifecycle.IsReadyForFinishDestroy(entry.Raw) {
		lifecycle.ConditionalFinishDestroy(entry.Raw)
		return
	}
	cursor.pending = append(cursor.pending, idx)
}

// NotReadyError reports one object that failed to converge to
// FinishDestroy-ready within the stall window.
type NotReadyError struct {
	Object gcobj.Index
}

func (e *NotReadyError) Error() string {
	return "destroy: object did not become ready for FinishDestroy before the stall timeout"
}
