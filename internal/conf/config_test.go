package conf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEmbeddedConfigMatchesDefaults(t *testing.T) {
	t.Parallel()

	fromFile := viper.New()
	fromFile.SetConfigType("yaml")
	require.NoError(t, fromFile.ReadConfig(bytes.NewReader(getDefaultConfig())))

	defaults := viper.New()
	setDefaultConfig(defaults)

	for _, key := range []string{
		"webserver.port", "webserver.baseurl", "cache.backend", "cache.expirydays",
		"cache.redis.keyprefix", "upstream.baseurl", "images.dir", "images.mindimension", "images.maxpixels",
		"enrichment.workers", "enrichment.queuesize", "enrichment.retry.enabled",
	} {
		assert.Equal(t, defaults.GetString(key), fromFile.GetString(key), "key %s", key)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	t.Parallel()

	settings, err := LoadWith(viper.New(), writeConfig(t, "main:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, settings.WebServer.Port)
	assert.Equal(t, DefaultBaseURL, settings.WebServer.BaseURL)
	assert.Equal(t, CacheBackendMemory, settings.Cache.Backend)
	assert.Equal(t, 30*24*time.Hour, settings.Cache.TTL())
	assert.Equal(t, "upc:", settings.Cache.Redis.KeyPrefix)
	assert.Equal(t, DefaultUpstreamTimeout, settings.Upstream.Timeout)
	assert.Equal(t, int64(DefaultImageMaxBytes), settings.Images.MaxBytes)
	assert.Equal(t, int64(DefaultImageMaxPixels), settings.Images.MaxPixels)
	assert.Equal(t, "/static/upc_images", settings.Images.PublicPath)
	assert.False(t, settings.Enrichment.Retry.Enabled)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.FileOutput)
	assert.Equal(t, 7, settings.Logging.FileOutput.MaxRotatedFiles)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
webserver:
  port: 8080
  baseurl: https://upc.example.com/
cache:
  backend: SQLite
  expirydays: 0
images:
  concurrency: 0
  publicpath: media/
logging:
  module_levels:
    cache: debug
`)

	settings, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 8080, settings.WebServer.Port)
	assert.Equal(t, "https://upc.example.com", settings.WebServer.BaseURL)
	assert.Equal(t, CacheBackendSQLite, settings.Cache.Backend)
	assert.Equal(t, time.Duration(0), settings.Cache.TTL())
	assert.Equal(t, 1, settings.Images.Concurrency)
	assert.Equal(t, "/media", settings.Images.PublicPath)
	assert.Equal(t, "debug", settings.Logging.ModuleLevels["cache"])
}

func TestLoadWithRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown backend", "cache:\n  backend: memcached\n", "cache.backend"},
		{"negative ttl", "cache:\n  expirydays: -1\n", "expirydays"},
		{"zero workers", "enrichment:\n  workers: 0\n", "enrichment.workers"},
		{"zero pixel cap", "images:\n  maxpixels: 0\n", "images.maxpixels"},
		{"bad port", "webserver:\n  port: 70000\n", "webserver.port"},
		{"relative base url", "webserver:\n  baseurl: localhost\n", "webserver.baseurl"},
		{"retry without delay", "enrichment:\n  retry:\n    enabled: true\n    initialdelay: 0s\n", "initialdelay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadWith(viper.New(), writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadWithMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_EXPIRY_DAYS", "7")
	t.Setenv("UPCITEMDB_API_KEY", "secret-key")
	t.Setenv("UPC_IMAGES_CONCURRENCY", "8")

	settings, err := LoadWith(viper.New(), writeConfig(t, "debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, settings.WebServer.Port)
	assert.Equal(t, 7, settings.Cache.ExpiryDays)
	assert.Equal(t, "secret-key", settings.Upstream.APIKey)
	assert.Equal(t, 8, settings.Images.Concurrency)
}

func TestEnvironmentValidation(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := LoadWith(viper.New(), writeConfig(t, "debug: false\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestMarshalYAMLRedacted(t *testing.T) {
	t.Parallel()

	settings, err := LoadWith(viper.New(), writeConfig(t, "upstream:\n  apikey: topsecret\n"))
	require.NoError(t, err)

	out, err := settings.MarshalYAMLRedacted()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "topsecret")
	assert.Equal(t, "topsecret", settings.Upstream.APIKey, "original settings must not be modified")

	var roundTrip map[string]any
	require.NoError(t, yaml.Unmarshal(out, &roundTrip))
	assert.Contains(t, roundTrip, "cache")
}

func TestValidateEnvHelpers(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateEnvBool(" true "))
	require.Error(t, validateEnvBool("yes"))
	require.NoError(t, validateEnvPort("5000"))
	require.Error(t, validateEnvPort("0"))
	require.NoError(t, validateEnvURL("redis://localhost:6379/0"))
	require.Error(t, validateEnvURL("localhost"))
	require.NoError(t, validateEnvCacheBackend("Redis"))
	require.Error(t, validateEnvCacheBackend("memcached"))
	require.Error(t, validateEnvNonNegativeInt("-3"))
}

func TestMySQLBackendRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := LoadWith(viper.New(), writeConfig(t, "cache:\n  backend: mysql\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.mysql.dsn")

	settings, err := LoadWith(viper.New(), writeConfig(t, "cache:\n  backend: mysql\n  mysql:\n    dsn: \"upc:pw@tcp(db:3306)/upc?parseTime=true\"\n"))
	require.NoError(t, err)
	assert.Equal(t, CacheBackendMySQL, settings.Cache.Backend)
}
