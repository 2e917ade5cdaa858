package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UpstreamMetrics tracks calls to the product data provider.
type UpstreamMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RateLimitWait   prometheus.Histogram
}

// NewUpstreamMetrics creates and registers the upstream collectors.
func NewUpstreamMetrics(registry prometheus.Registerer) (*UpstreamMetrics, error) {
	m := &UpstreamMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upc_upstream_requests_total",
			Help: "Upstream product lookups by outcome.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upc_upstream_request_duration_seconds",
			Help:    "Duration of upstream product lookups.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upc_upstream_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the upstream request pacer.",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register upstream metrics: %w", err)
	}
	return m, nil
}

func (m *UpstreamMetrics) RecordRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(d.Seconds())
}

func (m *UpstreamMetrics) RecordRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (m *UpstreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	m.RequestDuration.Describe(ch)
	m.RateLimitWait.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *UpstreamMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	m.RequestDuration.Collect(ch)
	m.RateLimitWait.Collect(ch)
}
