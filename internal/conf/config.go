// Package conf loads service settings from the embedded defaults, an optional
// config.yaml, environment variables and command line flags.
package conf

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// AppName is used for config search paths and the HTTP User-Agent.
const AppName = "upc-lookup"

// Settings contains all configuration options for the service.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main struct {
		Name string `yaml:"name"`
	} `yaml:"main"`

	WebServer  WebServerSettings    `yaml:"webserver"`
	Cache      CacheSettings        `yaml:"cache"`
	Upstream   UpstreamSettings     `yaml:"upstream"`
	Images     ImageSettings        `yaml:"images"`
	Enrichment EnrichmentSettings   `yaml:"enrichment"`
	Logging    logger.LoggingConfig `yaml:"logging"`
	Telemetry  TelemetrySettings    `yaml:"telemetry"`
	Metrics    MetricsSettings      `yaml:"metrics"`
}

// WebServerSettings configures the HTTP boundary.
type WebServerSettings struct {
	Port            int           `yaml:"port"`
	BaseURL         string        `yaml:"baseurl"` // prefix for public image URLs
	CORS            bool          `yaml:"cors"`
	ReadTimeout     time.Duration `yaml:"readtimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdowntimeout"`
	MaxUploadBytes  int64         `yaml:"maxuploadbytes"` // batch CSV upload limit
}

// CacheSettings selects and configures the product cache backend.
type CacheSettings struct {
	Backend       string         `yaml:"backend"`    // memory, redis, sqlite or mysql
	ExpiryDays    int            `yaml:"expirydays"` // 0 disables caching
	SweepInterval time.Duration  `yaml:"sweepinterval"`
	Redis         RedisSettings  `yaml:"redis"`
	SQLite        SQLiteSettings `yaml:"sqlite"`
	MySQL         MySQLSettings  `yaml:"mysql"`
}

// TTL returns the entry lifetime derived from ExpiryDays.
func (c *CacheSettings) TTL() time.Duration {
	return time.Duration(c.ExpiryDays) * 24 * time.Hour
}

// RedisSettings configures the redis cache backend.
type RedisSettings struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"keyprefix"`
}

// SQLiteSettings configures the sqlite cache backend.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// MySQLSettings configures the mysql cache backend.
type MySQLSettings struct {
	DSN string `yaml:"dsn"` // go-sql-driver DSN, user:pass@tcp(host:3306)/db
}

// UpstreamSettings configures the UPCitemdb client.
type UpstreamSettings struct {
	APIKey    string        `yaml:"apikey"` // empty uses the trial endpoint
	BaseURL   string        `yaml:"baseurl"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"ratelimit"` // requests per second, 0 disables pacing
	Burst     int           `yaml:"burst"`
}

// ImageSettings configures image download and storage.
type ImageSettings struct {
	Dir           string        `yaml:"dir"`
	PublicPath    string        `yaml:"publicpath"` // URL path the dir is served under
	FetchTimeout  time.Duration `yaml:"fetchtimeout"`
	MaxBytes      int64         `yaml:"maxbytes"`
	MinDimension  int           `yaml:"mindimension"`
	MaxPixels     int64         `yaml:"maxpixels"` // width*height cap checked before a full decode
	Concurrency   int           `yaml:"concurrency"`
	ReuseExisting bool          `yaml:"reuseexisting"`
}

// EnrichmentSettings configures the background worker pool.
type EnrichmentSettings struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queuesize"`
	Retry     RetrySettings `yaml:"retry"`
}

// RetrySettings controls retry of transient upstream failures in background jobs.
type RetrySettings struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRetries   int           `yaml:"maxretries"`
	InitialDelay time.Duration `yaml:"initialdelay"`
	MaxDelay     time.Duration `yaml:"maxdelay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// TelemetrySettings configures optional Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool    `yaml:"enabled"`
	SentryDSN   string  `yaml:"sentrydsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"samplerate"`
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration into a new Settings using the global viper
// instance, which is where cobra flags are bound. An empty configFile
// searches the default config paths.
func Load(configFile string) (*Settings, error) {
	settings, err := LoadWith(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// LoadWith reads configuration through v. Tests pass a fresh viper.New().
func LoadWith(v *viper.Viper, configFile string) (*Settings, error) {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	return settings, nil
}

// readConfigFile reads the explicit file, or the first config.yaml found in
// the search paths, falling back to the embedded defaults.
func readConfigFile(v *viper.Viper, configFile string) error {
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if configFile == "" && errors.As(err, &notFound) {
		return v.ReadConfig(bytes.NewReader(getDefaultConfig()))
	}

	return errors.New(err).
		Component("conf").
		Category(errors.CategoryFileIO).
		Context("operation", "read-config").
		FileContext(configFile, 0).
		Build()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// highest priority first.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", AppName))
	}
	return append(paths, filepath.Join("/etc", AppName))
}

// getDefaultConfig returns the embedded config.yaml.
func getDefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time; cannot fail at runtime
		panic(err)
	}
	return data
}

// GetSettings returns the settings stored by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// MarshalYAMLRedacted renders settings as YAML with secrets masked.
func (s *Settings) MarshalYAMLRedacted() ([]byte, error) {
	masked := *s
	if masked.Upstream.APIKey != "" {
		masked.Upstream.APIKey = "********"
	}
	if masked.Cache.MySQL.DSN != "" {
		masked.Cache.MySQL.DSN = "********"
	}
	if masked.Telemetry.SentryDSN != "" {
		masked.Telemetry.SentryDSN = "********"
	}
	return yaml.Marshal(&masked)
}
