package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/upc-lookup/internal/logger"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line: %s", line)
		out = append(out, entry)
	}
	return out
}

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Trace("hidden")
	log.Info("visible", logger.String("upc", "012993441012"))
	log.Warn("also visible")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "visible", entries[0]["msg"])
	assert.Equal(t, "012993441012", entries[0]["upc"])
	assert.Equal(t, "WARN", entries[1]["level"])
}

func TestTraceLevelRendering(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelTrace, time.UTC)
	log.Trace("deep detail")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "TRACE", entries[0]["level"])
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	base := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC)
	log := base.Module("enrich").Module("worker").With(logger.String("job_id", "abc"))

	log.Debug("started", logger.Int("images", 3), logger.Duration("elapsed", 1500*time.Millisecond))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "enrich.worker", entries[0]["module"])
	assert.Equal(t, "abc", entries[0]["job_id"])
	assert.InDelta(t, 3, entries[0]["images"], 0)
	assert.Equal(t, "1.5s", entries[0]["elapsed"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(context.Background(), "req-42")
	log.WithContext(ctx).Info("handled")
	log.WithContext(context.Background()).Info("no trace")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "req-42", entries[0]["trace_id"])
	assert.NotContains(t, entries[1], "trace_id")
}

func TestCentralLoggerWritesJSONFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mainPath := filepath.Join(dir, "app.log")
	accessPath := filepath.Join(dir, "access.log")

	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput: &logger.FileOutput{
			Enabled: true,
			Path:    mainPath,
			Level:   "debug",
			MaxSize: 1,
		},
		ModuleOutputs: map[string]logger.ModuleOutput{
			"access": {Enabled: true, FilePath: accessPath, Level: "info"},
		},
	})
	require.NoError(t, err)

	cl.Module("cache").Debug("cache opened", logger.String("backend", "memory"))
	cl.Module("access").Info("GET /api/health", logger.Int("status", 200))
	require.NoError(t, cl.Close())

	mainData, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	assert.Contains(t, string(mainData), `"module":"cache"`)
	assert.NotContains(t, string(mainData), "/api/health")

	accessData, err := os.ReadFile(accessPath)
	require.NoError(t, err)
	assert.Contains(t, string(accessData), `"status":200`)
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{
		Timezone:   "Mars/Olympus",
		Console:    &logger.ConsoleOutput{Enabled: true},
		FileOutput: &logger.FileOutput{Enabled: false},
	})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}

func TestSanitizeURL(t *testing.T) {
	t.Parallel()

	got := logger.SanitizeURL("https://api.upcitemdb.com/prod/v1/lookup?upc=012993441012&user_key=s3cretvalue")
	assert.NotContains(t, got, "s3cretvalue")
	assert.Contains(t, got, "upc=012993441012")

	assert.Equal(t, "https://example.com/a.jpg", logger.SanitizeURL("https://example.com/a.jpg"))
	assert.NotContains(t, logger.RedactSensitiveData("Authorization: Bearer abc.def.ghi"), "abc.def.ghi")
}
