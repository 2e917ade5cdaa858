// Package lookup is the entry point to the lookup-and-cache core. The HTTP
// router and the CLI call into a Service; nothing outside this package
// touches the cache, the dedup tracker or the worker pool directly.
package lookup

import (
	"context"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/upc-lookup/internal/cache"
	"github.com/tphakala/upc-lookup/internal/enrich"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/imagepipeline"
	"github.com/tphakala/upc-lookup/internal/imagestore"
	"github.com/tphakala/upc-lookup/internal/jobqueue"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
	"github.com/tphakala/upc-lookup/internal/product"
)

// ErrNotFound matches every not-found error returned by the Service.
var ErrNotFound = errors.Newf("product not found").
	Component("lookup").
	Category(errors.CategoryNotFound).
	Build()

// Result is the outcome of a synchronous lookup.
type Result struct {
	Record *product.Record
	// Cached reports whether the record came from the cache.
	Cached bool
}

// EnqueueResult reports whether a background job was scheduled.
type EnqueueResult struct {
	// Accepted is false when a job for the UPC was already in flight.
	Accepted bool
}

// Service coordinates the cache, the upstream lookup and background
// enrichment. Safe for concurrent use.
type Service struct {
	cache    cache.Store
	enricher *enrich.Enricher
	worker   *enrich.Worker
	images   *imagestore.Store
	log      logger.Logger
	metrics  *metrics.LookupMetrics
}

// Option customizes a Service.
type Option func(*Service)

// WithMetrics records cache and lookup activity.
func WithMetrics(m *metrics.LookupMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New assembles a service. The worker must be started by the caller.
func New(store cache.Store, enricher *enrich.Enricher, worker *enrich.Worker, images *imagestore.Store, log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	s := &Service{
		cache:    store,
		enricher: enricher,
		worker:   worker,
		images:   images,
		log:      log.Module("lookup"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns the cached record for upc, or fetches it upstream, runs
// the image pipeline and writes the result through to the cache. It never
// creates or consults dedup markers.
func (s *Service) Lookup(ctx context.Context, upc string) (*Result, error) {
	start := time.Now()

	if rec, ok := s.cached(ctx, upc); ok {
		s.metrics.RecordLookup(metrics.OutcomeSuccess, time.Since(start))
		return &Result{Record: rec, Cached: true}, nil
	}

	rec, err := s.enricher.Build(ctx, upc)
	s.metrics.RecordLookup(metrics.Outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, upc, rec); err != nil {
		// the caller still gets the fresh record
		s.metrics.RecordCacheError("put")
		s.log.Warn("failed to cache product record", logger.String("upc", upc), logger.Error(err))
	}

	s.log.Info("product fetched",
		logger.String("upc", upc),
		logger.Int("images", len(rec.Images)),
		logger.Duration("duration", time.Since(start)))
	return &Result{Record: rec, Cached: false}, nil
}

// CachedRecord returns the cached record for upc without going upstream.
func (s *Service) CachedRecord(ctx context.Context, upc string) (*product.Record, error) {
	if rec, ok := s.cached(ctx, upc); ok {
		return rec, nil
	}
	return nil, notFound(upc, "product not in cache")
}

// cached reads the cache, treating read failures as misses.
func (s *Service) cached(ctx context.Context, upc string) (*product.Record, bool) {
	rec, ok, err := s.cache.Get(ctx, upc)
	switch {
	case err != nil:
		s.metrics.RecordCacheError("get")
		s.log.Warn("cache read failed", logger.String("upc", upc), logger.Error(err))
		return nil, false
	case !ok:
		s.metrics.RecordCacheMiss()
		return nil, false
	}
	s.metrics.RecordCacheHit()
	rec.Cached = true
	return rec, true
}

// IsCached reports whether a non-expired record exists for upc.
func (s *Service) IsCached(ctx context.Context, upc string) (bool, error) {
	_, ok, err := s.cache.Get(ctx, upc)
	return ok, err
}

// SplitCached partitions upcs into those without a live cache entry, in
// input order, and a count of those already cached. A failed cache read
// counts as uncached.
func (s *Service) SplitCached(ctx context.Context, upcs []string) ([]string, int) {
	uncached := make([]string, 0, len(upcs))
	cached := 0
	for _, upc := range upcs {
		ok, err := s.IsCached(ctx, upc)
		if err != nil {
			s.log.Warn("cache check failed", logger.String("upc", upc), logger.Error(err))
		}
		if ok {
			cached++
			continue
		}
		uncached = append(uncached, upc)
	}
	return uncached, cached
}

// Enqueue schedules background enrichment for upc and returns immediately.
func (s *Service) Enqueue(upc string) (EnqueueResult, error) {
	accepted, err := s.worker.Submit(upc)
	return EnqueueResult{Accepted: accepted}, err
}

// EnqueueBatch schedules every UPC in upcs independently.
func (s *Service) EnqueueBatch(upcs []string) enrich.BatchResult {
	res := s.worker.SubmitBatch(upcs)
	s.log.Info("batch enqueued",
		logger.Int("total", len(upcs)),
		logger.Int("queued", res.Queued),
		logger.Int("already_processing", res.AlreadyProcessing),
		logger.Int("rejected", res.Rejected))
	return res
}

// Processing reports whether upc has a background job in flight.
func (s *Service) Processing(upc string) bool { return s.worker.InFlight(upc) }

// ListCached returns the UPCs of all non-expired records, sorted.
func (s *Service) ListCached(ctx context.Context) ([]string, error) {
	keys, err := s.cache.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// GetBestImage returns the store-relative path of the best image for upc.
func (s *Service) GetBestImage(upc string) (string, error) {
	names, err := s.images.List(upc)
	if err != nil {
		return "", err
	}
	prefix := imagepipeline.BestFileName(upc, "")
	for _, name := range names {
		if strings.HasPrefix(name, prefix) && strings.TrimPrefix(name, prefix) == path.Ext(name) {
			return path.Join(upc, name), nil
		}
	}
	return "", notFound(upc, "no best image")
}

// GetAllImages returns the store-relative paths of the accepted images for
// upc in provider order. A product without images yields an empty slice.
func (s *Service) GetAllImages(upc string) ([]string, error) {
	names, err := s.images.List(upc)
	if err != nil {
		return nil, err
	}

	type numbered struct {
		ordinal int
		name    string
	}
	var found []numbered
	for _, name := range names {
		if n, ok := imageOrdinal(upc, name); ok {
			found = append(found, numbered{n, name})
		}
	}
	slices.SortFunc(found, func(a, b numbered) int { return a.ordinal - b.ordinal })

	paths := make([]string, 0, len(found))
	for _, f := range found {
		paths = append(paths, path.Join(upc, f.name))
	}
	return paths, nil
}

// StoragePath resolves a store-relative image path to its location on disk.
func (s *Service) StoragePath(rel string) string { return s.images.Path(rel) }

// imageOrdinal parses names of the form <upc>_<n><ext>.
func imageOrdinal(upc, name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, upc+"_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(rest, path.Ext(rest)))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Wait blocks until all background jobs have finished.
func (s *Service) Wait(ctx context.Context) error { return s.worker.Wait(ctx) }

// QueueStats reports background job activity.
func (s *Service) QueueStats() jobqueue.Stats { return s.worker.Stats() }

// CacheBackend names the cache implementation.
func (s *Service) CacheBackend() string { return s.cache.Backend() }

func notFound(upc, msg string) error {
	return errors.Newf("%s", msg).
		Component("lookup").
		Category(errors.CategoryNotFound).
		Context("upc", upc).
		Build()
}
