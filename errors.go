package orbitgc

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrGCBusy is returned by TryCollect when another collection already holds
// the GC lock and the skip streak has not yet reached
// Config.NumRetriesBeforeForcingGC.
var ErrGCBusy = errors.New("orbitgc: collection already in progress")

// InvariantError reports a programming-invariant violation: a mark or
// gather failure, a panic recovered during tracing (such as the batcher's
// invalid-object validation failure), or a failed end-of-cycle assumption
// check. It carries a captured stack trace from the point
// of detection.
type InvariantError struct {
	cause error
}

func newInvariantError(msg string) *InvariantError {
	return &InvariantError{cause: pkgerrors.New(msg)}
}

func wrapInvariantError(err error) *InvariantError {
	if err == nil {
		return nil
	}
	return &InvariantError{cause: pkgerrors.WithStack(err)}
}

func invariantFromPanic(r interface{}) *InvariantError {
	if err, ok := r.(error); ok {
		return wrapInvariantError(err)
	}
	return wrapInvariantError(fmt.Errorf("%v", r))
}

func (e *InvariantError) Error() string { return "orbitgc: invariant violation: " + e.cause.Error() }
func (e *InvariantError) Unwrap() error { return e.cause }

// StallError reports that FinishDestroy failed to converge within
// Config.FinishDestroyMaxStall while Config.StallPolicy is Abort. It wraps
// a *multierror.Error carrying one *destroy.NotReadyError per object still
// pending.
type StallError struct {
	cause error
}

func (e *StallError) Error() string { return "orbitgc: finish-destroy stalled: " + e.cause.Error() }
func (e *StallError) Unwrap() error { return e.cause }
