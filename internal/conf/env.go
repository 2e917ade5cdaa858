// env.go - environment variable bindings and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for an environment variable binding
type envBinding struct {
	ConfigKey string             // viper config key
	EnvVar    string             // environment variable name
	Validate  func(string) error // optional validation function
}

// getEnvBindings returns the explicit environment variable bindings. The
// unprefixed names match the variables earlier deployments already set.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "UPC_DEBUG", validateEnvBool},

		{"webserver.port", "PORT", validateEnvPort},
		{"webserver.baseurl", "BASE_URL", validateEnvURL},

		{"cache.backend", "UPC_CACHE_BACKEND", validateEnvCacheBackend},
		{"cache.expirydays", "CACHE_EXPIRY_DAYS", validateEnvNonNegativeInt},
		{"cache.redis.url", "REDIS_URL", validateEnvURL},
		{"cache.sqlite.path", "UPC_SQLITE_PATH", nil},
		{"cache.mysql.dsn", "UPC_MYSQL_DSN", nil},

		{"upstream.apikey", "UPCITEMDB_API_KEY", nil},
		{"upstream.baseurl", "UPCITEMDB_BASE_URL", validateEnvURL},

		{"images.dir", "UPC_IMAGE_DIR", nil},

		{"enrichment.workers", "UPC_WORKERS", validateEnvPositiveInt},

		{"telemetry.sentrydsn", "SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every env var and validates values that are set
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// configureEnvironmentVariables enables UPC_-prefixed overrides for every
// key (UPC_IMAGES_CONCURRENCY, ...) plus the explicit bindings above.
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix("UPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return bindEnvVars(v)
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvCacheBackend(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendSQLite, CacheBackendMySQL:
		return nil
	default:
		return fmt.Errorf("must be one of memory, redis, sqlite, mysql")
	}
}
