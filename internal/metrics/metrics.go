package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FetchRequests   *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	SourceRecords   *prometheus.GaugeVec
	SourceFailures  *prometheus.CounterVec
	BatchRuns       *prometheus.CounterVec
	BatchDuration   *prometheus.HistogramVec
	SweepDuration   prometheus.Histogram
	SweepErrors     prometheus.Counter
	RiskLevels      *prometheus.GaugeVec
	RiskTransitions *prometheus.CounterVec
	LockHeld        prometheus.Gauge
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_fetch_requests_total",
			Help: "Outbound requests to public sources by host and outcome",
		}, []string{"host", "outcome"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigia_fetch_duration_seconds",
			Help:    "Outbound request latency by host",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"host"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_page_cache_lookups_total",
			Help: "Page cache lookups by result (hit or miss)",
		}, []string{"result"}),
		SourceRecords: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigia_source_records",
			Help: "Evidence records produced by the last run of each source",
		}, []string{"source"}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_source_document_failures_total",
			Help: "Documents skipped after a fetch or parse failure",
		}, []string{"source"}),
		BatchRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_batch_runs_total",
			Help: "Ingestion batches by index and outcome",
		}, []string{"batch", "outcome"}),
		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigia_batch_duration_seconds",
			Help:    "Ingestion batch wall time",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"batch"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigia_sweep_duration_seconds",
			Help:    "Risk resweep wall time",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		SweepErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vigia_sweep_identifier_errors_total",
			Help: "Identifiers whose evidence lookup or write failed during a resweep",
		}),
		RiskLevels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigia_tracked_identifiers",
			Help: "Tracked identifiers per risk level after the last resweep",
		}, []string{"level"}),
		RiskTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_risk_transitions_total",
			Help: "Risk level changes detected by resweeps",
		}, []string{"from", "to"}),
		LockHeld: f.NewGauge(prometheus.GaugeOpts{
			Name: "vigia_scheduler_lock_held",
			Help: "1 when this replica owns the daily cycle",
		}),
	}
}

func (m *Metrics) ObserveFetch(host, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(host, outcome).Inc()
	m.FetchDuration.WithLabelValues(host).Observe(d.Seconds())
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) SetSourceRecords(source string, n int) {
	if m == nil {
		return
	}
	m.SourceRecords.WithLabelValues(source).Set(float64(n))
}

func (m *Metrics) IncSourceFailure(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveBatch(batch, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchRuns.WithLabelValues(batch, outcome).Inc()
	m.BatchDuration.WithLabelValues(batch).Observe(d.Seconds())
}

func (m *Metrics) ObserveSweep(d time.Duration, errors int, levels map[string]int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	m.SweepErrors.Add(float64(errors))
	m.RiskLevels.Reset()
	for level, n := range levels {
		m.RiskLevels.WithLabelValues(level).Set(float64(n))
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "NEW"
	}
	m.RiskTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SetLockHeld(held bool) {
	if m == nil {
		return
	}
	if held {
		m.LockHeld.Set(1)
		return
	}
	m.LockHeld.Set(0)
}
