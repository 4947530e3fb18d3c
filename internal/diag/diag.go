// Package diag carries orbitgc's observable side effects (spec.md §6):
// structured log records correlated by a per-cycle UUID, and the
// Prometheus collectors a host process may optionally register.
package diag

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitgc/orbitgc/internal/gcobj"
)

// Logger wraps a *zap.Logger with a cycle_id field threaded through every
// record for one collection cycle, so operators can correlate mark,
// reachability, and purge log lines for the same run.
type Logger struct {
	base *zap.Logger
}

// NewLogger wraps base. A nil base falls back to zap.NewNop(), so callers
// that don't care about logging don't need a special case.
func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base}
}

// ForCycle returns a child logger with cycle_id set to id, for use across
// one Collect call.
func (l *Logger) ForCycle(id uuid.UUID) *zap.Logger {
	return l.base.With(zap.String("cycle_id", id.String()))
}

// CycleStart logs the start of a collection cycle.
func (l *Logger) CycleStart(cycle *zap.Logger, reachableHint, totalObjects int) {
	cycle.Info("gc cycle start",
		zap.Int("total_objects", totalObjects),
		zap.Int("reachable_hint", reachableHint),
	)
}

// CycleEnd logs the end of a collection cycle.
func (l *Logger) CycleEnd(cycle *zap.Logger, reachable, unreachable int, durationMillis int64) {
	cycle.Info("gc cycle end",
		zap.Int("reachable", reachable),
		zap.Int("unreachable", unreachable),
		zap.Int64("duration_ms", durationMillis),
	)
}

// PhaseTiming logs one phase's duration within a cycle.
func (l *Logger) PhaseTiming(cycle *zap.Logger, phase string, durationMillis int64) {
	cycle.Debug("gc phase timing", zap.String("phase", phase), zap.Int64("duration_ms", durationMillis))
}

// UnhashProgress logs incremental unhash/BeginDestroy resumption.
func (l *Logger) UnhashProgress(cycle *zap.Logger, processed, total int) {
	cycle.Debug("gc unhash progress", zap.Int("processed", processed), zap.Int("total", total))
}

// Stalled logs a FinishDestroy stall escalation, listing every non-ready
// object (spec.md §7 "emit a diagnostic listing every non-ready object").
func (l *Logger) Stalled(cycle *zap.Logger, pending []gcobj.Index, continuing bool) {
	ids := make([]uint32, len(pending))
	for i, p := range pending {
		ids[i] = uint32(p)
	}
	cycle.Warn("gc finish-destroy stalled",
		zap.Int("pending_count", len(pending)),
		zap.Uint32s("pending", ids),
		zap.Bool("continuing", continuing),
	)
}

// GarbageReference logs a recorded garbage-reference diagnostic (a
// reference that survived to a garbage-flagged object because its
// referrer kept it alive).
func (l *Logger) GarbageReference(cycle *zap.Logger, referrer, target uint32) {
	cycle.Info("gc garbage reference observed",
		zap.Uint32("referrer", referrer),
		zap.Uint32("target", target),
	)
}

// PurgeComplete logs the end of the purge sub-phase.
func (l *Logger) PurgeComplete(cycle *zap.Logger, destroyed int) {
	cycle.Info("gc purge complete", zap.Int("destroyed", destroyed))
}

// Fatal logs a programming-invariant violation and terminates the process,
// the idiomatic Go substitute for spec.md §7's "abort" (zap.Fatal flushes
// the logger before calling os.Exit(1)).
func (l *Logger) Fatal(cycle *zap.Logger, msg string, err error) {
	cycle.Fatal(msg, zap.Error(err))
}
