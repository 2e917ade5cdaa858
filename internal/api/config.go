// Package api serves the UPC lookup core over HTTP. Handlers validate
// input, call into lookup.Service and map its errors to status codes; no
// lookup logic lives here.
package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tphakala/upc-lookup/internal/conf"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the HTTP server configuration derived from Settings.
type Config struct {
	Host string
	Port string

	CORS bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxUploadBytes caps batch CSV uploads.
	MaxUploadBytes int64

	// BaseURL and ImagePublicPath build the public image URLs.
	BaseURL         string
	ImagePublicPath string

	Debug bool
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := &Config{
		Port:            strconv.Itoa(settings.WebServer.Port),
		CORS:            settings.WebServer.CORS,
		ReadTimeout:     settings.WebServer.ReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: settings.WebServer.ShutdownTimeout,
		MaxUploadBytes:  settings.WebServer.MaxUploadBytes,
		BaseURL:         settings.WebServer.BaseURL,
		ImagePublicPath: settings.Images.PublicPath,
		Debug:           settings.Debug,
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = conf.DefaultMaxUploadBytes
	}
	if cfg.ImagePublicPath == "" {
		cfg.ImagePublicPath = conf.DefaultImagePublicPath
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.ImagePublicPath[0] != '/' {
		return fmt.Errorf("image public path %q must start with /", c.ImagePublicPath)
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}
