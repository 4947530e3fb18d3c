package orbitgc

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/orbitgc/orbitgc/internal/diag"
)

// StallPolicy selects what happens when FinishDestroy fails to converge
// within Config.FinishDestroyMaxStall.
type StallPolicy int

const (
	// ContinueWithWarning logs the stall and lets purge proceed as if the
	// offending objects had converged: they are purged without
	// ConditionalFinishDestroy having run on them.
	ContinueWithWarning StallPolicy = iota
	// Abort returns a *StallError from IncrementalPurgeGarbage instead of
	// proceeding to purge.
	Abort
)

// GarbageReferenceTracking selects how much detail the gather phase's
// garbage-reference diagnostics (a surviving reference into an object
// flagged garbage) report.
type GarbageReferenceTracking int

const (
	// GarbageReferenceOff records nothing.
	GarbageReferenceOff GarbageReferenceTracking = iota
	// GarbageReferenceVerbose logs every garbage reference found.
	GarbageReferenceVerbose
	// GarbageReferenceSampled logs a fixed fraction of garbage references,
	// trading completeness for log volume on graphs with many violations.
	GarbageReferenceSampled
)

// garbageReferenceSampleRate is the "every Nth" divisor
// GarbageReferenceSampled logs at.
const garbageReferenceSampleRate = 8

// Config bounds one Coordinator's resource usage and policy choices. The
// zero value is not meant to be used directly; start from DefaultConfig or
// ConfigFromEnv.
type Config struct {
	NumWorkers          int
	MarkStripes         int
	GatherStripes       int
	AROStoreCapacity    int
	NumSlowAROCallbacks int
	SpinLimit           int
	StopDirectlyBudget  int

	// KeepFlags is OR'd into the per-object flag mask mark.Sweep checks in
	// addition to GarbageCollectionKeepFlags, letting a host keep a custom
	// flag's objects alive without changing the core classification.
	KeepFlags Flag

	FinishDestroyMaxStall      time.Duration
	StallPolicy                StallPolicy
	UnhashBudgetPerTick        time.Duration
	FinishDestroyBudgetPerTick time.Duration
	PurgeBatchPerTick          int

	// NumRetriesBeforeForcingGC bounds how many consecutive TryCollect calls
	// may be skipped (GC lock busy) before TryCollect falls back to a
	// blocking Collect, the Go analogue of the teacher runtime's forced-GC
	// escalation after repeated allocation-triggered GC requests are denied.
	NumRetriesBeforeForcingGC int

	// AllowParallel gates whether mark, reachability, and gather fan out
	// across NumWorkers/MarkStripes/GatherStripes goroutines at all; false
	// forces every phase of a cycle down to a single worker/stripe, for
	// hosts that need a deterministic single-threaded cycle (e.g. replaying
	// a recorded object graph under a debugger).
	AllowParallel bool

	// MultithreadedDestructionEnabled gates whether the purge phase's
	// AsyncPurge goroutine destroys thread-safe objects concurrently with
	// the main-thread tick loop. When false, every pending object is
	// destroyed from the main thread's TickMainThread calls instead.
	MultithreadedDestructionEnabled bool

	// IncrementalBeginDestroyEnabled gates whether the unhash/BeginDestroy
	// pass is time-sliced across IncrementalPurgeGarbage calls. When false,
	// the first call after a Collect runs UnhashPass to completion in one
	// shot, ignoring the caller's timeLimit for that sub-phase.
	IncrementalBeginDestroyEnabled bool

	// GarbageReferenceTracking controls how much gather-phase
	// garbage-reference diagnostic detail is logged.
	GarbageReferenceTracking GarbageReferenceTracking

	// VerifyAssumptionsChance is the probability, in [0, 1], that a cycle
	// runs an end-of-cycle invariant self-check over the object table
	// (spec.md §6). Zero disables the check entirely.
	VerifyAssumptionsChance float64

	Logger  *zap.Logger
	Metrics *diag.Metrics
}

// DefaultConfig returns reasonable defaults for an embedder that has not
// tuned anything.
func DefaultConfig() Config {
	return Config{
		NumWorkers:                      8,
		MarkStripes:                     8,
		GatherStripes:                   8,
		AROStoreCapacity:                64,
		NumSlowAROCallbacks:             0,
		SpinLimit:                       64,
		StopDirectlyBudget:              2,
		KeepFlags:                       0,
		FinishDestroyMaxStall:           5 * time.Second,
		StallPolicy:                     ContinueWithWarning,
		UnhashBudgetPerTick:             2 * time.Millisecond,
		FinishDestroyBudgetPerTick:      2 * time.Millisecond,
		PurgeBatchPerTick:               100,
		NumRetriesBeforeForcingGC:       10,
		AllowParallel:                   true,
		MultithreadedDestructionEnabled: true,
		IncrementalBeginDestroyEnabled:  true,
		GarbageReferenceTracking:        GarbageReferenceVerbose,
		VerifyAssumptionsChance:         0,
	}
}

// ConfigFromEnv builds a Config from ORBITGC_* environment variables layered
// over DefaultConfig — the library analogue of the teacher runtime's
// readgogc() reading $GOGC, generalized to this package's closed
// configuration set rather than stdlib flags, since a library must never
// call flag.Parse on its own.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v, ok := envInt("ORBITGC_NUM_WORKERS"); ok {
		cfg.NumWorkers = v
	}
	if v, ok := envInt("ORBITGC_MARK_STRIPES"); ok {
		cfg.MarkStripes = v
	}
	if v, ok := envInt("ORBITGC_GATHER_STRIPES"); ok {
		cfg.GatherStripes = v
	}
	if v, ok := envInt("ORBITGC_ARO_STORE_CAPACITY"); ok {
		cfg.AROStoreCapacity = v
	}
	if v, ok := envInt("ORBITGC_NUM_SLOW_ARO_CALLBACKS"); ok {
		cfg.NumSlowAROCallbacks = v
	}
	if v, ok := envInt("ORBITGC_PURGE_BATCH_PER_TICK"); ok {
		cfg.PurgeBatchPerTick = v
	}
	if v, ok := envInt("ORBITGC_NUM_RETRIES_BEFORE_FORCING_GC"); ok {
		cfg.NumRetriesBeforeForcingGC = v
	}
	if v, ok := envDuration("ORBITGC_FINISH_DESTROY_MAX_STALL"); ok {
		cfg.FinishDestroyMaxStall = v
	}
	if v, ok := envDuration("ORBITGC_UNHASH_BUDGET_PER_TICK"); ok {
		cfg.UnhashBudgetPerTick = v
	}
	if v, ok := envDuration("ORBITGC_FINISH_DESTROY_BUDGET_PER_TICK"); ok {
		cfg.FinishDestroyBudgetPerTick = v
	}
	if v, ok := os.LookupEnv("ORBITGC_STALL_POLICY"); ok {
		if v == "abort" {
			cfg.StallPolicy = Abort
		} else {
			cfg.StallPolicy = ContinueWithWarning
		}
	}
	if v, ok := envBool("ORBITGC_ALLOW_PARALLEL"); ok {
		cfg.AllowParallel = v
	}
	if v, ok := envBool("ORBITGC_MULTITHREADED_DESTRUCTION"); ok {
		cfg.MultithreadedDestructionEnabled = v
	}
	if v, ok := envBool("ORBITGC_INCREMENTAL_BEGIN_DESTROY"); ok {
		cfg.IncrementalBeginDestroyEnabled = v
	}
	if v, ok := os.LookupEnv("ORBITGC_GARBAGE_REFERENCE_TRACKING"); ok {
		switch v {
		case "off":
			cfg.GarbageReferenceTracking = GarbageReferenceOff
		case "sampled":
			cfg.GarbageReferenceTracking = GarbageReferenceSampled
		default:
			cfg.GarbageReferenceTracking = GarbageReferenceVerbose
		}
	}
	if v, ok := envFloat("ORBITGC_VERIFY_ASSUMPTIONS_CHANCE"); ok {
		cfg.VerifyAssumptionsChance = v
	}
	return cfg
}

func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
