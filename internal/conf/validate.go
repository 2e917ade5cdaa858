// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Cache backend names accepted by cache.backend.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendSQLite = "sqlite"
	CacheBackendMySQL  = "mysql"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		validateWebServerSettings,
		validateCacheSettings,
		validateUpstreamSettings,
		validateImageSettings,
		validateEnrichmentSettings,
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	if s.WebServer.Port < 1 || s.WebServer.Port > 65535 {
		return fmt.Errorf("webserver.port %d out of range", s.WebServer.Port)
	}
	if u, err := url.Parse(s.WebServer.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("webserver.baseurl %q must be an absolute URL", s.WebServer.BaseURL)
	}
	s.WebServer.BaseURL = strings.TrimRight(s.WebServer.BaseURL, "/")
	return nil
}

func validateCacheSettings(s *Settings) error {
	s.Cache.Backend = strings.ToLower(s.Cache.Backend)
	switch s.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendSQLite, CacheBackendMySQL:
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, redis, sqlite, mysql", s.Cache.Backend)
	}
	if s.Cache.ExpiryDays < 0 {
		return fmt.Errorf("cache.expirydays must not be negative")
	}
	if s.Cache.Backend == CacheBackendRedis && s.Cache.Redis.URL == "" {
		return fmt.Errorf("cache.redis.url is required for the redis backend")
	}
	if s.Cache.Backend == CacheBackendSQLite && s.Cache.SQLite.Path == "" {
		return fmt.Errorf("cache.sqlite.path is required for the sqlite backend")
	}
	if s.Cache.Backend == CacheBackendMySQL {
		if _, err := mysql.ParseDSN(s.Cache.MySQL.DSN); err != nil || s.Cache.MySQL.DSN == "" {
			return fmt.Errorf("cache.mysql.dsn is missing or invalid")
		}
	}
	return nil
}

func validateUpstreamSettings(s *Settings) error {
	if _, err := url.Parse(s.Upstream.BaseURL); err != nil || s.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.baseurl %q is invalid", s.Upstream.BaseURL)
	}
	s.Upstream.BaseURL = strings.TrimRight(s.Upstream.BaseURL, "/")
	if s.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if s.Upstream.RateLimit < 0 {
		return fmt.Errorf("upstream.ratelimit must not be negative")
	}
	if s.Upstream.RateLimit > 0 && s.Upstream.Burst < 1 {
		s.Upstream.Burst = 1
	}
	return nil
}

func validateImageSettings(s *Settings) error {
	if s.Images.Dir == "" {
		return fmt.Errorf("images.dir is required")
	}
	if s.Images.FetchTimeout <= 0 {
		return fmt.Errorf("images.fetchtimeout must be positive")
	}
	if s.Images.MaxBytes <= 0 {
		return fmt.Errorf("images.maxbytes must be positive")
	}
	if s.Images.MinDimension < 0 {
		return fmt.Errorf("images.mindimension must not be negative")
	}
	if s.Images.MaxPixels <= 0 {
		return fmt.Errorf("images.maxpixels must be positive")
	}
	if s.Images.Concurrency < 1 {
		s.Images.Concurrency = 1
	}
	if !strings.HasPrefix(s.Images.PublicPath, "/") {
		s.Images.PublicPath = "/" + s.Images.PublicPath
	}
	s.Images.PublicPath = strings.TrimRight(s.Images.PublicPath, "/")
	return nil
}

func validateEnrichmentSettings(s *Settings) error {
	if s.Enrichment.Workers < 1 {
		return fmt.Errorf("enrichment.workers must be at least 1")
	}
	if s.Enrichment.QueueSize < 1 {
		return fmt.Errorf("enrichment.queuesize must be at least 1")
	}
	r := &s.Enrichment.Retry
	if r.Enabled {
		if r.MaxRetries < 1 {
			return fmt.Errorf("enrichment.retry.maxretries must be at least 1 when retry is enabled")
		}
		if r.InitialDelay <= 0 {
			return fmt.Errorf("enrichment.retry.initialdelay must be positive")
		}
		if r.Multiplier < 1 {
			r.Multiplier = 1
		}
	}
	return nil
}
