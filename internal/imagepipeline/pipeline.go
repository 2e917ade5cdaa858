// Package imagepipeline downloads a product's candidate images, keeps the
// ones that decode as images of a minimum size, stores them per UPC and
// picks the best one. Candidate failures are absorbed: a product with no
// usable image is a valid outcome, not an error.
package imagepipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	// Registered decoders define which formats count as images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/httpclient"
	"github.com/tphakala/upc-lookup/internal/imagestore"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
)

const defaultExt = ".jpg"

// Rejection reasons, also used as metric labels.
const (
	ReasonFetch     = "fetch"
	ReasonStatus    = "http_status"
	ReasonTooLarge  = "too_large"
	ReasonDecode    = "decode"
	ReasonTooSmall  = "too_small"
	ReasonTooMany   = "too_many_pixels"
	ReasonStorage   = "storage"
	ReasonBadURL    = "bad_url"
	ReasonCancelled = "cancelled"
)

var knownExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// Candidate is one provider image URL and what became of it.
type Candidate struct {
	URL string
	// Ordinal is the 1-based position in the provider's list.
	Ordinal int
	// Path is the file's location relative to the image store root.
	Path   string
	Format string
	Width  int
	Height int
	Bytes  int
	Valid  bool
	// Reason names why an invalid candidate was dropped.
	Reason string
	Reused bool

	data []byte
}

// Area is the ranking score: larger images rank higher.
func (c *Candidate) Area() int { return c.Width * c.Height }

// Result is the outcome of one pipeline run.
type Result struct {
	// Accepted holds valid candidates in provider order.
	Accepted []Candidate
	// Best is the top-ranked accepted candidate, nil when none.
	Best *Candidate
	// BestPath is the store-relative path of the best image copy.
	BestPath string
	// Rejected holds dropped candidates for diagnostics.
	Rejected []Candidate
}

// Pipeline is safe for concurrent use. Runs for the same UPC are
// serialized since they share one directory.
type Pipeline struct {
	http          *httpclient.Client
	store         *imagestore.Store
	locks         upcLocks
	fetchTimeout  time.Duration
	maxBytes      int64
	maxPixels     int64
	minDimension  int
	concurrency   int
	reuseExisting bool
	log           logger.Logger
	metrics       *metrics.ImageMetrics
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetrics records download and validation outcomes.
func WithMetrics(m *metrics.ImageMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a pipeline from settings.
func New(hc *httpclient.Client, store *imagestore.Store, settings *conf.ImageSettings, log logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	p := &Pipeline{
		http:          hc,
		store:         store,
		fetchTimeout:  settings.FetchTimeout,
		maxBytes:      settings.MaxBytes,
		maxPixels:     settings.MaxPixels,
		minDimension:  settings.MinDimension,
		concurrency:   max(settings.Concurrency, 1),
		reuseExisting: settings.ReuseExisting,
		log:           log.Module("imagepipeline"),
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = conf.DefaultImageFetchTimeout
	}
	if p.maxPixels <= 0 {
		p.maxPixels = conf.DefaultImageMaxPixels
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FileName returns the deterministic file name for a candidate.
func FileName(upc string, ordinal int, ext string) string {
	return fmt.Sprintf("%s_%d%s", upc, ordinal, ext)
}

// BestFileName returns the name of the best image copy.
func BestFileName(upc, ext string) string {
	return "best_" + upc + ext
}

// extFromURL takes the extension from the URL path, defaulting to .jpg
// for missing or non-image extensions.
func extFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return defaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !knownExts[ext] {
		return defaultExt
	}
	return ext
}

// Select runs the pipeline for upc over the candidate URLs. Running it
// again with the same inputs produces the same files and the same result;
// files from earlier runs that are no longer selected are removed.
func (p *Pipeline) Select(ctx context.Context, upc string, urls []string) Result {
	unlock := p.locks.lock(upc)
	defer unlock()

	start := time.Now()
	candidates := make([]Candidate, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, u := range urls {
		candidates[i] = Candidate{
			URL:     u,
			Ordinal: i + 1,
			Path:    path.Join(upc, FileName(upc, i+1, extFromURL(u))),
		}
		c := &candidates[i]
		g.Go(func() error {
			p.process(gctx, c)
			return nil // candidate failures never fail the run
		})
	}
	_ = g.Wait()

	var res Result
	keep := make([]string, 0, len(candidates)+1)
	for i := range candidates {
		c := candidates[i]
		c.data = nil
		if !c.Valid {
			res.Rejected = append(res.Rejected, c)
			continue
		}
		res.Accepted = append(res.Accepted, c)
		keep = append(keep, path.Base(c.Path))
	}

	if best := rank(res.Accepted); best != nil {
		bestPath := path.Join(upc, BestFileName(upc, path.Ext(best.Path)))
		if err := p.writeBest(best, bestPath, candidates); err != nil {
			p.log.Warn("failed to store best image", logger.String("upc", upc), logger.Error(err))
		} else {
			res.Best = best
			res.BestPath = bestPath
			keep = append(keep, path.Base(bestPath))
		}
	}

	if err := p.store.Prune(upc, keep); err != nil {
		p.log.Warn("failed to prune stale images", logger.String("upc", upc), logger.Error(err))
	}

	p.log.Info("image selection complete",
		logger.String("upc", upc),
		logger.Int("candidates", len(urls)),
		logger.Int("accepted", len(res.Accepted)),
		logger.String("best", res.BestPath),
		logger.Duration("duration", time.Since(start)))
	return res
}

// rank returns a pointer into accepted for the best candidate: largest
// area, then earliest provider position. accepted is in provider order.
func rank(accepted []Candidate) *Candidate {
	if len(accepted) == 0 {
		return nil
	}
	best := &accepted[0]
	for i := 1; i < len(accepted); i++ {
		if accepted[i].Area() > best.Area() {
			best = &accepted[i]
		}
	}
	return best
}

func (p *Pipeline) writeBest(best *Candidate, bestPath string, all []Candidate) error {
	for i := range all {
		if all[i].Ordinal == best.Ordinal && all[i].data != nil {
			return p.store.Write(bestPath, all[i].data)
		}
	}
	data, err := p.store.Read(best.Path)
	if err != nil {
		return err
	}
	return p.store.Write(bestPath, data)
}

// process fetches (or reuses), validates and stores one candidate.
func (p *Pipeline) process(ctx context.Context, c *Candidate) {
	log := p.log.With(logger.String("url", logger.SanitizeURL(c.URL)), logger.Int("ordinal", c.Ordinal))

	if p.reuseExisting && p.tryReuse(c, log) {
		return
	}

	data, reason, err := p.fetch(ctx, c.URL)
	if err != nil {
		p.reject(c, reason, err, log)
		return
	}
	if reason, err := p.validate(c, data); err != nil {
		p.reject(c, reason, err, log)
		return
	}
	if err := p.store.Write(c.Path, data); err != nil {
		p.reject(c, ReasonStorage, err, log)
		return
	}

	c.Valid = true
	c.data = data
	p.metrics.RecordAccepted()
}

// tryReuse accepts a file left by an earlier run if it still validates.
func (p *Pipeline) tryReuse(c *Candidate, log logger.Logger) bool {
	if !p.store.Exists(c.Path) {
		return false
	}
	data, err := p.store.Read(c.Path)
	if err != nil {
		return false
	}
	if _, err := p.validate(c, data); err != nil {
		log.Debug("existing image file failed validation, refetching", logger.String("path", c.Path), logger.Error(err))
		c.Format, c.Width, c.Height, c.Bytes = "", 0, 0, 0
		return false
	}

	c.Reused = true
	c.Valid = true
	c.data = data
	p.metrics.RecordReused()
	p.metrics.RecordAccepted()
	log.Debug("reusing existing image file", logger.String("path", c.Path))
	return true
}

// validate checks the header against the size limits, then decodes data
// in full, filling in the candidate's format and size.
func (p *Pipeline) validate(c *Candidate, data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ReasonDecode, decodeError(err)
	}
	c.Format = format
	c.Width = cfg.Width
	c.Height = cfg.Height
	c.Bytes = len(data)

	// decoders allocate the full pixel buffer up front
	if int64(c.Width)*int64(c.Height) > p.maxPixels {
		return ReasonTooMany, errors.Newf("image %dx%d exceeds %d pixels", c.Width, c.Height, p.maxPixels).
			Component("imagepipeline").
			Category(errors.CategoryImageDecode).
			Build()
	}
	if c.Width < p.minDimension || c.Height < p.minDimension {
		return ReasonTooSmall, errors.Newf("image %dx%d below minimum %d", c.Width, c.Height, p.minDimension).
			Component("imagepipeline").
			Category(errors.CategoryImageDecode).
			Build()
	}

	// a full decode rejects truncated or corrupt files with a valid header
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return ReasonDecode, decodeError(err)
	}
	return "", nil
}

func (p *Pipeline) reject(c *Candidate, reason string, err error, log logger.Logger) {
	c.Reason = reason
	p.metrics.RecordRejected(reason)
	log.Warn("dropping image candidate", logger.String("reason", reason), logger.Error(err))
}

// fetch downloads url within the fetch timeout and size cap.
func (p *Pipeline) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ReasonBadURL, errors.Newf("unsupported image url").
			Component("imagepipeline").
			Category(errors.CategoryValidation).
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.http.Get(ctx, rawURL, http.Header{"Accept": {"image/*"}})
	if err != nil {
		reason := ReasonFetch
		if errors.Is(err, context.Canceled) {
			reason = ReasonCancelled
		}
		return nil, reason, fetchError(err, rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, ReasonStatus, errors.Newf("image fetch returned HTTP %d", resp.StatusCode).
			Component("imagepipeline").
			Category(errors.CategoryImageFetch).
			Context("status", resp.StatusCode).
			Build()
	}

	data, err := httpclient.ReadBody(resp, p.maxBytes)
	if err != nil {
		reason := ReasonFetch
		if errors.Is(err, httpclient.ErrBodyTooLarge) {
			reason = ReasonTooLarge
		}
		return nil, reason, fetchError(err, rawURL)
	}
	p.metrics.RecordDownload(len(data), time.Since(start))
	return data, "", nil
}

func decodeError(err error) error {
	return errors.New(err).
		Component("imagepipeline").
		Category(errors.CategoryImageDecode).
		Build()
}

func fetchError(err error, rawURL string) error {
	return errors.New(err).
		Component("imagepipeline").
		Category(errors.CategoryImageFetch).
		Context("url", logger.SanitizeURL(rawURL)).
		Build()
}

// upcLocks hands out one mutex per UPC, dropping it once no run holds or
// waits for it.
type upcLocks struct {
	mu sync.Mutex
	m  map[string]*upcLock
}

type upcLock struct {
	mu   sync.Mutex
	refs int
}

func (l *upcLocks) lock(upc string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*upcLock)
	}
	ul, ok := l.m[upc]
	if !ok {
		ul = &upcLock{}
		l.m[upc] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, upc)
		}
		l.mu.Unlock()
	}
}
