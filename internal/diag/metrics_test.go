package diag

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterSucceedsOnce(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
}

func TestMetricsRegisterRejectsDuplicateRegistry(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg), "registering the same collectors twice must surface the duplicate-registration error")
}

func TestMetricsObserveAndSetDoNotPanic(t *testing.T) {
	m := NewMetrics()
	m.CycleDuration.Observe(0.5)
	m.PhaseDuration.WithLabelValues("mark").Observe(0.1)
	m.ObjectsReachable.Set(10)
	m.ObjectsDead.Set(2)
	m.StalledObjects.Set(0)
	m.AROQueueFull.Inc()
}
