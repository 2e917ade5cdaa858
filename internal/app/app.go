// Package app assembles the lookup service from settings: logging,
// metrics, telemetry, the cache backend, the upstream client, the image
// pipeline and the background worker. Commands build one App and close it
// on exit.
package app

import (
	"context"
	"time"

	"github.com/tphakala/upc-lookup/internal/api"
	"github.com/tphakala/upc-lookup/internal/buildinfo"
	"github.com/tphakala/upc-lookup/internal/cache"
	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/dedup"
	"github.com/tphakala/upc-lookup/internal/enrich"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/httpclient"
	"github.com/tphakala/upc-lookup/internal/imagepipeline"
	"github.com/tphakala/upc-lookup/internal/imagestore"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/lookup"
	"github.com/tphakala/upc-lookup/internal/observability"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
	"github.com/tphakala/upc-lookup/internal/telemetry"
	"github.com/tphakala/upc-lookup/internal/upcitemdb"
)

// App owns every long-lived component. Close releases them in reverse
// order of construction.
type App struct {
	Settings  *conf.Settings
	Build     *buildinfo.Context
	Log       logger.Logger
	Metrics   *observability.Metrics
	Telemetry *telemetry.Reporter
	Images    *imagestore.Store
	Service   *lookup.Service

	central *logger.CentralLogger
	http    *httpclient.Client
	cache   cache.Store
	worker  *enrich.Worker
	closers []func() error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	log     logger.Logger
	httpCfg httpclient.Config
}

// WithLogger uses log instead of building a central logger from settings.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithHTTPConfig replaces the outbound HTTP client configuration.
func WithHTTPConfig(cfg httpclient.Config) Option {
	return func(o *options) { o.httpCfg = cfg }
}

// New builds the application. On error every component created so far is
// closed again.
func New(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts ...Option) (a *App, err error) {
	o := options{httpCfg: httpclient.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{Settings: settings, Build: build}
	defer func() {
		if err != nil {
			_ = a.Close(0)
			a = nil
		}
	}()

	if err = a.initLogger(o.log); err != nil {
		return a, err
	}

	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return a, errors.New(err).
				Component("app").
				Category(errors.CategorySystem).
				Context("operation", "init_metrics").
				Build()
		}
		a.Metrics = m
	}

	reporter, err := telemetry.New(&settings.Telemetry, build.GetVersion(), a.Log)
	if err != nil {
		return a, err
	}
	if reporter.IsEnabled() {
		reporter.Install()
	}
	a.Telemetry = reporter
	a.closers = append(a.closers, func() error {
		reporter.Close()
		return nil
	})

	httpCfg := o.httpCfg
	if httpCfg.UserAgent == "" {
		httpCfg.UserAgent = build.UserAgent(conf.AppName)
	}
	a.http = httpclient.New(&httpCfg)
	a.closers = append(a.closers, func() error {
		a.http.Close()
		return nil
	})

	store, err := cache.New(ctx, &settings.Cache, a.Log)
	if err != nil {
		return a, err
	}
	a.cache = store
	a.closers = append(a.closers, store.Close)

	images, err := imagestore.NewOS(settings.Images.Dir, a.Log)
	if err != nil {
		return a, err
	}
	a.Images = images

	a.buildCore(store)

	a.Log.Info("application initialized",
		logger.String("version", build.GetVersion()),
		logger.String("cache_backend", store.Backend()),
		logger.Int("cache_expiry_days", settings.Cache.ExpiryDays),
		logger.String("image_dir", images.Root()),
		logger.Int("workers", settings.Enrichment.Workers),
		logger.Bool("upstream_trial", settings.Upstream.APIKey == ""),
		logger.Bool("metrics", a.Metrics != nil),
		logger.Bool("telemetry", reporter.IsEnabled()))
	return a, nil
}

func (a *App) initLogger(log logger.Logger) error {
	if log != nil {
		a.Log = log
		return nil
	}

	if a.Settings.Debug && a.Settings.Logging.DefaultLevel == "" {
		a.Settings.Logging.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&a.Settings.Logging)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logger").
			Build()
	}
	logger.SetGlobal(central)
	a.central = central
	a.Log = central.Module("")
	a.closers = append(a.closers, central.Close)
	return nil
}

// buildCore wires the lookup core: upstream client and image pipeline feed
// the enricher, which the worker and the service share.
func (a *App) buildCore(store cache.Store) {
	var (
		lookupMetrics   *metrics.LookupMetrics
		upstreamMetrics *metrics.UpstreamMetrics
		imageMetrics    *metrics.ImageMetrics
		jobMetrics      *metrics.JobMetrics
	)
	if a.Metrics != nil {
		lookupMetrics = a.Metrics.Lookup
		upstreamMetrics = a.Metrics.Upstream
		imageMetrics = a.Metrics.Images
		jobMetrics = a.Metrics.Jobs
	}

	s := a.Settings
	upstream := upcitemdb.New(a.http, &s.Upstream, a.Log, upcitemdb.WithMetrics(upstreamMetrics))
	pipeline := imagepipeline.New(a.http, a.Images, &s.Images, a.Log, imagepipeline.WithMetrics(imageMetrics))
	enricher := enrich.NewEnricher(upstream, pipeline, enrich.PublicURLs(s.WebServer.BaseURL, s.Images.PublicPath), a.Log)

	a.worker = enrich.NewWorker(enricher, store, dedup.New(), &s.Enrichment, a.Log, jobMetrics)
	a.Service = lookup.New(store, enricher, a.worker, a.Images, a.Log, lookup.WithMetrics(lookupMetrics))
}

// Start launches the background workers. Jobs are detached from ctx; Close
// stops them.
func (a *App) Start(ctx context.Context) {
	a.worker.Start(ctx)
}

// NewServer builds the HTTP server for the service.
func (a *App) NewServer() (*api.Server, error) {
	opts := []api.ServerOption{api.WithLogger(a.Log), api.WithBuildInfo(a.Build)}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}
	return api.New(a.Settings, a.Service, a.Images, opts...)
}

// RotateLogs reopens log files, used on SIGHUP.
func (a *App) RotateLogs() error {
	if a.central == nil {
		return nil
	}
	return a.central.Rotate()
}

// Close stops the workers, waiting up to timeout for running jobs, then
// releases the remaining components.
func (a *App) Close(timeout time.Duration) error {
	var errs []error
	if a.worker != nil {
		if err := a.worker.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
