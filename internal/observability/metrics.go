// Package observability provides Prometheus metrics for the UPC lookup
// service. Sentry error reporting lives in the telemetry package.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
)

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	Lookup   *metrics.LookupMetrics
	Upstream *metrics.UpstreamMetrics
	Images   *metrics.ImageMetrics
	Jobs     *metrics.JobMetrics
	HTTP     *metrics.HTTPMetrics
}

// NewMetrics creates every collector plus the Go runtime and process
// collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	lookupMetrics, err := metrics.NewLookupMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup metrics: %w", err)
	}
	upstreamMetrics, err := metrics.NewUpstreamMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream metrics: %w", err)
	}
	imageMetrics, err := metrics.NewImageMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create image metrics: %w", err)
	}
	jobMetrics, err := metrics.NewJobMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create job metrics: %w", err)
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Lookup:   lookupMetrics,
		Upstream: upstreamMetrics,
		Images:   imageMetrics,
		Jobs:     jobMetrics,
		HTTP:     httpMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format. Scrape
// errors are logged through log.
func (m *Metrics) Handler(log logger.Logger) http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{log: log},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// promErrorLogger adapts logger.Logger to promhttp.Logger.
type promErrorLogger struct {
	log logger.Logger
}

func (l promErrorLogger) Println(v ...any) {
	if l.log == nil {
		slog.Error("metrics handler error", "error", fmt.Sprint(v...))
		return
	}
	l.log.Error("metrics handler error", logger.String("error", fmt.Sprint(v...)))
}
