package diag

import "github.com/prometheus/client_golang/prometheus"

// Metrics registers the optional Prometheus collectors for one
// orbitgc instance (spec.md §6 "Observable side effects", expanded per
// SPEC_FULL.md's ambient-stack section). The core never requires a running
// metrics server; Register is only called by hosts that want the data.
type Metrics struct {
	CycleDuration    prometheus.Histogram
	PhaseDuration    *prometheus.HistogramVec
	ObjectsReachable prometheus.Gauge
	ObjectsDead      prometheus.Gauge
	StalledObjects   prometheus.Gauge
	AROQueueFull     prometheus.Counter
}

// NewMetrics constructs the collector set without registering it anywhere.
func NewMetrics() *Metrics {
	return &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orbitgc",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full collection cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orbitgc",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one collection phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		ObjectsReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orbitgc",
			Name:      "objects_reachable",
			Help:      "Objects found reachable at the end of the most recent cycle.",
		}),
		ObjectsDead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orbitgc",
			Name:      "objects_unreachable",
			Help:      "Objects found unreachable at the end of the most recent cycle.",
		}),
		StalledObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orbitgc",
			Name:      "stalled_objects",
			Help:      "Objects currently stuck in FinishDestroy's pending-retry list.",
		}),
		AROQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orbitgc",
			Name:      "aro_queue_full_total",
			Help:      "Times a worker's ARO enqueue fell back to a synchronous callback because the shared block store was exhausted.",
		}),
	}
}

// Register adds every collector to reg. Safe to call at most once per
// registry.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.CycleDuration, m.PhaseDuration, m.ObjectsReachable,
		m.ObjectsDead, m.StalledObjects, m.AROQueueFull,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
