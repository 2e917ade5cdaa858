// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with tests and the embedded config.yaml.
const (
	DefaultPort              = 5000
	DefaultBaseURL           = "http://localhost:5000"
	DefaultExpiryDays        = 30
	DefaultUpstreamBaseURL   = "https://api.upcitemdb.com/prod"
	DefaultUpstreamTimeout   = 10 * time.Second
	DefaultImageDir          = "static/upc_images"
	DefaultImagePublicPath   = "/static/upc_images"
	DefaultImageFetchTimeout = 10 * time.Second
	DefaultImageMaxBytes     = 10 << 20
	DefaultImageMinDim       = 50
	DefaultImageMaxPixels    = 40_000_000
	DefaultEnrichWorkers     = 4
	DefaultEnrichQueueSize   = 1000
	DefaultRedisKeyPrefix    = "upc:"
	DefaultSQLitePath        = "data/upc_cache.db"
	DefaultCacheSweep        = 10 * time.Minute
	DefaultMaxUploadBytes    = 5 << 20
	DefaultShutdownDeadline  = 15 * time.Second
)

// setDefaultConfig registers default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("main.name", AppName)

	v.SetDefault("webserver.port", DefaultPort)
	v.SetDefault("webserver.baseurl", DefaultBaseURL)
	v.SetDefault("webserver.cors", true)
	v.SetDefault("webserver.readtimeout", 30*time.Second)
	v.SetDefault("webserver.shutdowntimeout", DefaultShutdownDeadline)
	v.SetDefault("webserver.maxuploadbytes", DefaultMaxUploadBytes)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.expirydays", DefaultExpiryDays)
	v.SetDefault("cache.sweepinterval", DefaultCacheSweep)
	v.SetDefault("cache.redis.url", "redis://localhost:6379/0")
	v.SetDefault("cache.redis.keyprefix", DefaultRedisKeyPrefix)
	v.SetDefault("cache.sqlite.path", DefaultSQLitePath)
	v.SetDefault("cache.mysql.dsn", "")

	v.SetDefault("upstream.apikey", "")
	v.SetDefault("upstream.baseurl", DefaultUpstreamBaseURL)
	v.SetDefault("upstream.timeout", DefaultUpstreamTimeout)
	v.SetDefault("upstream.ratelimit", 1.0)
	v.SetDefault("upstream.burst", 1)

	v.SetDefault("images.dir", DefaultImageDir)
	v.SetDefault("images.publicpath", DefaultImagePublicPath)
	v.SetDefault("images.fetchtimeout", DefaultImageFetchTimeout)
	v.SetDefault("images.maxbytes", DefaultImageMaxBytes)
	v.SetDefault("images.mindimension", DefaultImageMinDim)
	v.SetDefault("images.maxpixels", DefaultImageMaxPixels)
	v.SetDefault("images.concurrency", 4)
	v.SetDefault("images.reuseexisting", true)

	v.SetDefault("enrichment.workers", DefaultEnrichWorkers)
	v.SetDefault("enrichment.queuesize", DefaultEnrichQueueSize)
	v.SetDefault("enrichment.retry.enabled", false)
	v.SetDefault("enrichment.retry.maxretries", 3)
	v.SetDefault("enrichment.retry.initialdelay", 5*time.Second)
	v.SetDefault("enrichment.retry.maxdelay", 2*time.Minute)
	v.SetDefault("enrichment.retry.multiplier", 2.0)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", true)
	v.SetDefault("logging.file_output.path", "logs/upc-lookup.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 100)
	v.SetDefault("logging.file_output.max_age", 7)
	v.SetDefault("logging.file_output.max_rotated_files", 7)
	v.SetDefault("logging.file_output.compress", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sentrydsn", "")
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("telemetry.samplerate", 1.0)

	v.SetDefault("metrics.enabled", true)
}
