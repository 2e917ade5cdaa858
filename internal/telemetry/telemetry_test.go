package telemetry

import (
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/errors"
)

func newTestReporter(t *testing.T) (*Reporter, *MockTransport) {
	t.Helper()
	transport := NewMockTransport()
	r, err := New(&conf.TelemetrySettings{Enabled: true, Environment: "test", SampleRate: 1}, "upc-lookup@test", nil, WithTransport(transport))
	require.NoError(t, err)
	require.True(t, r.IsEnabled())
	return r, transport
}

func TestDisabledReporterSendsNothing(t *testing.T) {
	t.Parallel()

	r, err := New(&conf.TelemetrySettings{Enabled: false, SentryDSN: "https://key@example.invalid/1"}, "test", nil)
	require.NoError(t, err)
	assert.False(t, r.IsEnabled())

	r.ReportError(errors.Newf("boom").Category(errors.CategoryCache).Build())
	assert.True(t, r.Flush(time.Second))
	r.Close()

	var nilReporter *Reporter
	assert.False(t, nilReporter.IsEnabled())
}

func TestEnabledWithoutDSNFails(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.TelemetrySettings{Enabled: true}, "test", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestReportErrorScrubsAndTags(t *testing.T) {
	t.Parallel()

	r, transport := newTestReporter(t)
	ee := errors.Newf("GET https://api.upcitemdb.com/prod/v1/lookup?upc=1&user_key=abc failed").
		Component("upcitemdb").
		Category(errors.CategoryNetwork).
		Context("operation", "request").
		Context("upc", "012993441012").
		Build()

	r.ReportError(ee)
	r.ReportError(ee) // reported once
	require.True(t, r.Flush(time.Second))

	events := transport.GetEvents()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, sentry.LevelError, event.Level)
	assert.NotContains(t, event.Message, "user_key=abc")
	assert.Contains(t, event.Message, "https://api.upcitemdb.com/prod/v1/lookup?[REDACTED]")
	assert.Equal(t, "upcitemdb", event.Tags["component"])
	assert.Equal(t, "network", event.Tags["category"])
	assert.Equal(t, "request", event.Extra["operation"])
	assert.NotContains(t, event.Extra, "upc")
	assert.Empty(t, event.ServerName)
	assert.True(t, ee.IsReported())
}

func TestExpectedCategoriesAreSkipped(t *testing.T) {
	t.Parallel()

	r, transport := newTestReporter(t)
	for _, cat := range []errors.ErrorCategory{
		errors.CategoryNotFound,
		errors.CategoryValidation,
		errors.CategoryCancellation,
		errors.CategoryImageFetch,
	} {
		r.ReportError(errors.Newf("expected").Category(cat).Build())
	}
	r.ReportError(errors.Newf("disk full").Category(errors.CategoryImageStorage).Build())
	require.True(t, r.Flush(time.Second))

	events := transport.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "image-storage", events[0].Tags["category"])
}

func TestPrivacyFilter(t *testing.T) {
	t.Parallel()

	event := sentry.NewEvent()
	event.User = sentry.User{ID: "42", IPAddress: "10.0.0.1"}
	event.ServerName = "prod-host-01"
	event.Contexts = map[string]sentry.Context{"os": {"name": "linux"}, "app": {"name": "upc"}}
	event.Extra = map[string]any{"component": "cache", "dsn": "user:pass@tcp(db)/x"}
	event.Tags = map[string]string{"hostname": "prod-host-01", "category": "cache"}

	filtered := applyPrivacyFilters(event)
	assert.True(t, filtered.User.IsEmpty())
	assert.Empty(t, filtered.ServerName)
	assert.NotContains(t, filtered.Contexts, "os")
	assert.Contains(t, filtered.Contexts, "app")
	assert.Equal(t, map[string]any{"component": "cache"}, filtered.Extra)
	assert.Equal(t, map[string]string{"category": "cache"}, filtered.Tags)
}

// Not parallel: installs the process-wide reporter.
func TestInstallReportsOnBuild(t *testing.T) {
	r, transport := newTestReporter(t)
	r.Install()
	t.Cleanup(func() { errors.SetTelemetryReporter(nil) })

	_ = errors.Newf("sqlite locked").Component("cache").Category(errors.CategoryCache).Build()
	require.True(t, r.Flush(time.Second))
	require.Len(t, transport.GetEvents(), 1)

	r.Close()
	assert.False(t, r.IsEnabled())
	assert.Nil(t, errors.GetTelemetryReporter())
}
