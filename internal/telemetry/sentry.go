// Package telemetry reports unexpected internal errors to Sentry. Reporting
// is opt-in: nothing leaves the process unless telemetry is enabled and a
// DSN is configured. Messages are scrubbed of query strings and API keys.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
)

// expectedCategories are outcomes the service handles as part of normal
// operation; reporting them would only add noise.
var expectedCategories = map[errors.ErrorCategory]bool{
	errors.CategoryValidation:   true,
	errors.CategoryNotFound:     true,
	errors.CategoryCancellation: true,
	errors.CategoryLimit:        true,
	errors.CategoryImageFetch:   true,
	errors.CategoryImageDecode:  true,
}

// allowedExtras are the only event extras kept by the privacy filter.
var allowedExtras = map[string]bool{"component": true, "category": true, "operation": true}

// Reporter implements errors.TelemetryReporter on a dedicated Sentry hub.
type Reporter struct {
	hub     *sentry.Hub
	enabled atomic.Bool
	log     logger.Logger
}

// Option customizes the Sentry client options.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// New creates a reporter. When telemetry is disabled the reporter is
// returned in the disabled state and never contacts Sentry.
func New(settings *conf.TelemetrySettings, release string, log logger.Logger, opts ...Option) (*Reporter, error) {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	r := &Reporter{log: log.Module("telemetry")}
	if !settings.Enabled {
		r.log.Info("error telemetry is disabled")
		return r, nil
	}

	options := sentry.ClientOptions{
		Dsn:              settings.SentryDSN,
		Environment:      settings.Environment,
		Release:          release,
		SampleRate:       settings.SampleRate,
		AttachStacktrace: false,
		ServerName:       "", // never leak the hostname
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Dsn == "" && options.Transport == nil {
		return nil, errors.Newf("telemetry enabled but no sentry dsn configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}
	r.hub = sentry.NewHub(client, sentry.NewScope())
	r.enabled.Store(true)
	r.log.Info("error telemetry enabled", logger.String("environment", settings.Environment))
	return r, nil
}

// Install makes r the reporter used by the errors package.
func (r *Reporter) Install() {
	errors.SetTelemetryReporter(r)
}

// IsEnabled implements errors.TelemetryReporter.
func (r *Reporter) IsEnabled() bool {
	return r != nil && r.enabled.Load()
}

// ReportError implements errors.TelemetryReporter. Each error is sent at
// most once; expected outcomes are skipped.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !r.IsEnabled() || ee == nil || ee.IsReported() {
		return
	}
	if expectedCategories[ee.Category] {
		return
	}
	ee.MarkReported()

	component := ee.GetComponent()
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = errors.ScrubMessage(ee.Error())
	event.Tags = map[string]string{
		"component": component,
		"category":  string(ee.Category),
	}
	event.Extra = map[string]any{
		"component": component,
		"category":  string(ee.Category),
	}
	if op, ok := ee.GetContext()["operation"].(string); ok {
		event.Extra["operation"] = op
	}
	event.Fingerprint = []string{component, string(ee.Category)}

	r.hub.CaptureEvent(event)
}

// Flush waits up to timeout for queued events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.IsEnabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

// Close flushes pending events and disables the reporter.
func (r *Reporter) Close() {
	if !r.IsEnabled() {
		return
	}
	r.enabled.Store(false)
	if !r.hub.Flush(2 * time.Second) {
		r.log.Warn("timed out flushing telemetry events")
	}
	if errors.GetTelemetryReporter() == r {
		errors.SetTelemetryReporter(nil)
	}
}

// applyPrivacyFilters strips user, host and runtime details from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if !allowedExtras[k] {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	event.Message = errors.ScrubMessage(event.Message)
	return event
}
