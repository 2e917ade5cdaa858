// Package metrics defines the Prometheus collectors for each component of
// the UPC lookup service. Every method is safe to call on a nil receiver so
// components run unchanged when metrics are disabled.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LookupMetrics tracks the synchronous lookup path and the product cache.
type LookupMetrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheErrors    *prometheus.CounterVec
	Lookups        *prometheus.CounterVec
	LookupDuration prometheus.Histogram
}

// NewLookupMetrics creates and registers the lookup collectors.
func NewLookupMetrics(registry prometheus.Registerer) (*LookupMetrics, error) {
	m := &LookupMetrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upc_cache_hits_total",
			Help: "Lookups answered from the product cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upc_cache_misses_total",
			Help: "Lookups that had to query the upstream provider.",
		}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upc_cache_errors_total",
			Help: "Cache backend failures by operation.",
		}, []string{"operation"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upc_lookups_total",
			Help: "Synchronous lookups by outcome.",
		}, []string{"outcome"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upc_lookup_duration_seconds",
			Help:    "End to end duration of synchronous lookups.",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register lookup metrics: %w", err)
	}
	return m, nil
}

func (m *LookupMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *LookupMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *LookupMetrics) RecordCacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(operation).Inc()
}

// RecordLookup counts one lookup with its outcome and duration.
func (m *LookupMetrics) RecordLookup(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(outcome).Inc()
	m.LookupDuration.Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (m *LookupMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.CacheHits.Describe(ch)
	m.CacheMisses.Describe(ch)
	m.CacheErrors.Describe(ch)
	m.Lookups.Describe(ch)
	m.LookupDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *LookupMetrics) Collect(ch chan<- prometheus.Metric) {
	m.CacheHits.Collect(ch)
	m.CacheMisses.Collect(ch)
	m.CacheErrors.Collect(ch)
	m.Lookups.Collect(ch)
	m.LookupDuration.Collect(ch)
}
