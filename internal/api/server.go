package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/upc-lookup/internal/api/middleware"
	"github.com/tphakala/upc-lookup/internal/buildinfo"
	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/enrich"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/imagestore"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/lookup"
	"github.com/tphakala/upc-lookup/internal/observability"
)

// Server is the HTTP front of the lookup service. It owns the echo
// instance and nothing else; all state lives behind lookup.Service.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	build    *buildinfo.Context
	log      logger.Logger

	service   *lookup.Service
	images    *imagestore.Store
	metrics   *observability.Metrics
	publicURL enrich.URLBuilder

	errCh     chan error
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the parent logger; the server logs under module "api".
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithBuildInfo reports the build version in the health response.
func WithBuildInfo(b *buildinfo.Context) ServerOption {
	return func(s *Server) { s.build = b }
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// New creates the HTTP server and registers every route.
func New(settings *conf.Settings, service *lookup.Service, images *imagestore.Store, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    config,
		settings:  settings,
		service:   service,
		images:    images,
		publicURL: enrich.PublicURLs(config.BaseURL, config.ImagePublicPath),
		errCh:     make(chan error, 1),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	s.log = s.log.Module("api")

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.String("image_path", config.ImagePublicPath),
		logger.Bool("cors", config.CORS),
		logger.Bool("metrics", s.metrics != nil))
	return s, nil
}

// setupMiddleware configures the echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))
	if s.metrics != nil {
		s.echo.Use(mw.NewHTTPMetrics(s.metrics.HTTP))
	}
	if s.config.CORS {
		s.echo.Use(mw.NewCORS(mw.DefaultSecurityConfig()))
	}
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes registers the API, static image and metrics routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/api/health", s.Health)

	apiGroup := s.echo.Group("/api")
	apiGroup.GET("/products", s.ListProducts)
	apiGroup.GET("/product/:upc", s.GetProduct)
	apiGroup.GET("/product/:upc/images", s.GetImages)
	apiGroup.GET("/product/:upc/best-image", s.GetBestImage)

	apiGroup.POST("/process/batch", s.ProcessBatch, mw.NewBodyLimit(s.config.MaxUploadBytes))
	apiGroup.POST("/process/:upc", s.ProcessUPC)

	s.registerImageRoutes()

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler(s.log)))
	}
}

// ServeHTTP lets the server be mounted in tests and other muxes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start begins serving in a background goroutine and returns at once.
// A listen failure is delivered on Err.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("server error", logger.Error(err))
			s.errCh <- err
		}
	}()
	s.log.Info("HTTP server starting", logger.String("address", s.config.Address()))
}

// Err reports a failure of the listener started by Start.
func (s *Server) Err() <-chan error { return s.errCh }

func (s *Server) startBlocking() error {
	err := s.echo.Start(s.config.Address())
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
