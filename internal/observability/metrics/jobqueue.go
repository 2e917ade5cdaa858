package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics tracks background enrichment jobs.
type JobMetrics struct {
	Submitted   prometheus.Counter
	Rejected    *prometheus.CounterVec
	Completed   *prometheus.CounterVec
	Retries     prometheus.Counter
	Pending     prometheus.Gauge
	Running     prometheus.Gauge
	JobDuration prometheus.Histogram
}

// NewJobMetrics creates and registers the job queue collectors.
func NewJobMetrics(registry prometheus.Registerer) (*JobMetrics, error) {
	m := &JobMetrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upc_jobs_submitted_total",
			Help: "Enrichment jobs accepted by the queue.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upc_jobs_rejected_total",
			Help: "Enrichment requests not queued, by reason.",
		}, []string{"reason"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upc_jobs_completed_total",
			Help: "Enrichment jobs finished, by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upc_job_retries_total",
			Help: "Retries of transient upstream failures.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upc_jobs_pending",
			Help: "Jobs waiting for a worker.",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upc_jobs_running",
			Help: "Jobs currently executing.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upc_job_duration_seconds",
			Help:    "Duration of enrichment jobs.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register job metrics: %w", err)
	}
	return m, nil
}

func (m *JobMetrics) RecordSubmitted() {
	if m == nil {
		return
	}
	m.Submitted.Inc()
	m.Pending.Inc()
}

func (m *JobMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *JobMetrics) RecordStarted() {
	if m == nil {
		return
	}
	m.Pending.Dec()
	m.Running.Inc()
}

func (m *JobMetrics) RecordFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Running.Dec()
	m.Completed.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(d.Seconds())
}

// RecordDropped accounts for a pending job discarded without running.
func (m *JobMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.Pending.Dec()
	m.Completed.WithLabelValues("dropped").Inc()
}

func (m *JobMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// Describe implements prometheus.Collector.
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Submitted.Describe(ch)
	m.Rejected.Describe(ch)
	m.Completed.Describe(ch)
	m.Retries.Describe(ch)
	m.Pending.Describe(ch)
	m.Running.Describe(ch)
	m.JobDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Submitted.Collect(ch)
	m.Rejected.Collect(ch)
	m.Completed.Collect(ch)
	m.Retries.Collect(ch)
	m.Pending.Collect(ch)
	m.Running.Collect(ch)
	m.JobDuration.Collect(ch)
}
