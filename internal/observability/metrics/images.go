package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ImageMetrics tracks candidate image downloads and validation.
type ImageMetrics struct {
	Downloads        prometheus.Counter
	Rejected         *prometheus.CounterVec
	Accepted         prometheus.Counter
	Reused           prometheus.Counter
	DownloadDuration prometheus.Histogram
	DownloadBytes    prometheus.Histogram
}

// NewImageMetrics creates and registers the image pipeline collectors.
func NewImageMetrics(registry prometheus.Registerer) (*ImageMetrics, error) {
	m := &ImageMetrics{
		Downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upc_image_downloads_total",
			Help: "Candidate images downloaded.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upc_image_rejected_total",
			Help: "Candidate images dropped, by reason.",
		}, []string{"reason"}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upc_image_accepted_total",
			Help: "Candidate images that passed validation.",
		}),
		Reused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upc_image_reused_total",
			Help: "Candidates served from an existing file instead of downloaded.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upc_image_download_duration_seconds",
			Help:    "Duration of candidate image downloads.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}),
		DownloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upc_image_download_size_bytes",
			Help:    "Size of downloaded candidate images.",
			Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor4, BucketCount10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register image metrics: %w", err)
	}
	return m, nil
}

func (m *ImageMetrics) RecordDownload(size int, d time.Duration) {
	if m == nil {
		return
	}
	m.Downloads.Inc()
	m.DownloadDuration.Observe(d.Seconds())
	m.DownloadBytes.Observe(float64(size))
}

func (m *ImageMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *ImageMetrics) RecordAccepted() {
	if m == nil {
		return
	}
	m.Accepted.Inc()
}

func (m *ImageMetrics) RecordReused() {
	if m == nil {
		return
	}
	m.Reused.Inc()
}

// Describe implements prometheus.Collector.
func (m *ImageMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Downloads.Describe(ch)
	m.Rejected.Describe(ch)
	m.Accepted.Describe(ch)
	m.Reused.Describe(ch)
	m.DownloadDuration.Describe(ch)
	m.DownloadBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *ImageMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Downloads.Collect(ch)
	m.Rejected.Collect(ch)
	m.Accepted.Collect(ch)
	m.Reused.Collect(ch)
	m.DownloadDuration.Collect(ch)
	m.DownloadBytes.Collect(ch)
}
