// Package metrics provides Prometheus metrics collection for loom
// operations, behind a Collector interface so callers can wire the no-op
// collector instead.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector on a private Prometheus
// registry.
type PrometheusCollector struct {
	syncsTotal     *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	upsertsTotal   *prometheus.CounterVec
	conflictsTotal *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	entityCount    *prometheus.GaugeVec
	registry       *prometheus.Registry
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	syncsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_syncs_total",
			Help: "Total number of archive sync cycles by project and status",
		},
		[]string{"project", "status"},
	)

	syncDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loom_sync_duration_seconds",
			Help:    "Duration of archive sync cycles",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"project"},
	)

	upsertsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_upserts_total",
			Help: "Total number of entity upserts by project and action",
		},
		[]string{"project", "action"},
	)

	conflictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_conflicts_total",
			Help: "Total number of detected conflicts by project and signal",
		},
		[]string{"project", "signal"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	entityCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loom_entity_count",
			Help: "Current count of registry entities by project and status",
		},
		[]string{"project", "status"},
	)

	registry.MustRegister(syncsTotal)
	registry.MustRegister(syncDuration)
	registry.MustRegister(upsertsTotal)
	registry.MustRegister(conflictsTotal)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(entityCount)

	return &PrometheusCollector{
		syncsTotal:     syncsTotal,
		syncDuration:   syncDuration,
		upsertsTotal:   upsertsTotal,
		conflictsTotal: conflictsTotal,
		errorsTotal:    errorsTotal,
		entityCount:    entityCount,
		registry:       registry,
	}
}

// RecordSync records one completed sync cycle.
func (m *PrometheusCollector) RecordSync(ctx context.Context, project, status string, duration time.Duration) {
	m.syncsTotal.WithLabelValues(project, status).Inc()
	m.syncDuration.WithLabelValues(project).Observe(duration.Seconds())
}

// RecordUpsert records one entity upsert by resulting action.
func (m *PrometheusCollector) RecordUpsert(ctx context.Context, project, action string) {
	m.upsertsTotal.WithLabelValues(project, action).Inc()
}

// RecordConflict records one detected conflict by signal.
func (m *PrometheusCollector) RecordConflict(ctx context.Context, project, signal string) {
	m.conflictsTotal.WithLabelValues(project, signal).Inc()
}

// RecordError records an error occurrence.
func (m *PrometheusCollector) RecordError(ctx context.Context, operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetEntityCount sets the current entity count gauge.
func (m *PrometheusCollector) SetEntityCount(ctx context.Context, project, status string, count int64) {
	m.entityCount.WithLabelValues(project, status).Set(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure.
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}
