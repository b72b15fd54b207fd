package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric keys recorded by the netcode packages. Counter keys end in _total
// and map onto prometheus counters; the rest are gauges.
const (
	MetricRollbacksTotal        = "netcode_rollbacks_total"
	MetricResimulatedTicksTotal = "netcode_resimulated_ticks_total"
	MetricStalledFramesTotal    = "netcode_stalled_frames_total"
	MetricInputConflictsTotal   = "netcode_input_conflicts_total"
	MetricMalformedFramesTotal  = "netcode_malformed_frames_total"
	MetricSnapshotEvictedTotal  = "netcode_snapshots_evicted_total"
	MetricIntakeOverflowTotal   = "netcode_intake_overflow_total"
	MetricChecksumFailTotal     = "netcode_checksum_mismatches_total"

	MetricCurrentTick       = "netcode_current_tick"
	MetricConfirmedFrontier = "netcode_confirmed_frontier"
	MetricSnapshotWindow    = "netcode_snapshot_window"
	MetricIntakeOccupancy   = "netcode_intake_occupancy"
)

var counterKeys = []string{
	MetricRollbacksTotal,
	MetricResimulatedTicksTotal,
	MetricStalledFramesTotal,
	MetricInputConflictsTotal,
	MetricMalformedFramesTotal,
	MetricSnapshotEvictedTotal,
	MetricIntakeOverflowTotal,
	MetricChecksumFailTotal,
}

var gaugeKeys = []string{
	MetricCurrentTick,
	MetricConfirmedFrontier,
	MetricSnapshotWindow,
	MetricIntakeOccupancy,
}

// PromMetrics implements Metrics on top of a prometheus registry.
type PromMetrics struct {
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewPromMetrics builds a registry with all netcode collectors registered,
// plus process uptime.
func NewPromMetrics() *PromMetrics {
	registry := prometheus.NewRegistry()
	m := &PromMetrics{
		registry: registry,
		counters: make(map[string]prometheus.Counter, len(counterKeys)),
		gauges:   make(map[string]prometheus.Gauge, len(gaugeKeys)),
	}
	for _, key := range counterKeys {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name: key,
			Help: "netcode counter " + key,
		})
		registry.MustRegister(c)
		m.counters[key] = c
	}
	for _, key := range gaugeKeys {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: key,
			Help: "netcode gauge " + key,
		})
		registry.MustRegister(g)
		m.gauges[key] = g
	}

	start := time.Now()
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "netcode_uptime_seconds",
		Help: "Process uptime in seconds.",
	}, func() float64 { return time.Since(start).Seconds() }))
	return m
}

// Add implements Metrics for counter keys. Unknown keys are ignored.
func (m *PromMetrics) Add(key string, delta uint64) {
	if m == nil {
		return
	}
	if c, ok := m.counters[key]; ok {
		c.Add(float64(delta))
	}
}

// Store implements Metrics for gauge keys. Unknown keys are ignored.
func (m *PromMetrics) Store(key string, value uint64) {
	if m == nil {
		return
	}
	if g, ok := m.gauges[key]; ok {
		g.Set(float64(value))
	}
}

// Handler exposes the registry for mounting at /metrics.
func (m *PromMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
