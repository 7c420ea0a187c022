package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"article-finder/internal/domain/entity"
)

// Metrics tracks scheduled ingestion runs and configuration fallbacks.
//
//   - worker_ingest_runs_total{status}: runs by status (success, failure, skipped)
//   - worker_ingest_run_duration_seconds: run duration
//   - worker_ingest_records_total{outcome}: records by outcome across runs
//   - worker_ingest_last_success_timestamp: Unix time of the last successful run
//   - worker_config_fallbacks_total{env_key}: invalid settings replaced by defaults
//   - worker_config_fallback_active: 1 while any fallback is in effect
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDurationSeconds prometheus.Histogram
	RecordsTotal       *prometheus.CounterVec
	LastSuccess        prometheus.Gauge
	FallbacksTotal     *prometheus.CounterVec
	FallbackActive     prometheus.Gauge
}

// NewMetrics creates the worker metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_ingest_runs_total",
			Help: "Total number of scheduled ingestion runs by status",
		}, []string{"status"}),

		RunDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_ingest_run_duration_seconds",
			Help:    "Duration of scheduled ingestion runs in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
		}),

		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_ingest_records_total",
			Help: "Records handled by scheduled ingestion runs by outcome",
		}, []string{"outcome"}),

		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "worker_ingest_last_success_timestamp",
			Help: "Unix timestamp of the last successful ingestion run",
		}),

		FallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_config_fallbacks_total",
			Help: "Invalid worker settings replaced by their default",
		}, []string{"env_key"}),

		FallbackActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "worker_config_fallback_active",
			Help: "1 if any worker setting fell back to its default, 0 otherwise",
		}),
	}
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	if status != StatusSkipped {
		m.RunDurationSeconds.Observe(d.Seconds())
	}
	if status == StatusSuccess {
		m.LastSuccess.SetToCurrentTime()
	}
}

// RecordReport adds the outcome counts of one run.
func (m *Metrics) RecordReport(r *entity.IngestionReport) {
	m.RecordsTotal.WithLabelValues("inserted").Add(float64(r.Inserted))
	m.RecordsTotal.WithLabelValues("updated").Add(float64(r.Updated))
	m.RecordsTotal.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.RecordsTotal.WithLabelValues("failed").Add(float64(r.Failed))
}

// RecordFallback counts a setting that fell back to its default.
func (m *Metrics) RecordFallback(envKey string) {
	m.FallbacksTotal.WithLabelValues(envKey).Inc()
}

// SetFallbackActive exposes whether any fallback is in effect.
func (m *Metrics) SetFallbackActive(active bool) {
	if active {
		m.FallbackActive.Set(1)
		return
	}
	m.FallbackActive.Set(0)
}
