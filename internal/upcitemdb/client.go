// Package upcitemdb fetches product metadata from the UPCitemdb API. The
// client is stateless between calls: it performs no caching and keeps no
// per-UPC state.
package upcitemdb

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"golang.org/x/time/rate"

	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/httpclient"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
	"github.com/tphakala/upc-lookup/internal/product"
)

const (
	trialLookupPath = "/trial/lookup"
	paidLookupPath  = "/v1/lookup"

	// maxResponseBytes caps the JSON body; real responses are a few KB.
	maxResponseBytes = 1 << 20
)

// Provider error codes that carry meaning beyond the HTTP status.
var (
	notFoundCodes  = map[string]bool{"INVALID_UPC": true, "NOT_FOUND": true, "INVALID_QUERY": true}
	rateLimitCodes = map[string]bool{"TOO_FAST": true, "EXCEED_LIMIT": true}
)

// Client queries UPCitemdb. Safe for concurrent use.
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
	now     func() time.Time
	log     logger.Logger
	metrics *metrics.UpstreamMetrics
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.UpstreamMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock overrides the clock used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client from settings. An empty API key selects the trial
// endpoint; a RateLimit of zero disables request pacing.
func New(hc *httpclient.Client, settings *conf.UpstreamSettings, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	c := &Client{
		http:    hc,
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		apiKey:  settings.APIKey,
		timeout: settings.Timeout,
		now:     time.Now,
		log:     log.Module("upcitemdb"),
	}
	if c.baseURL == "" {
		c.baseURL = conf.DefaultUpstreamBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = conf.DefaultUpstreamTimeout
	}
	if settings.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(settings.RateLimit), max(settings.Burst, 1))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trial reports whether the client uses the keyless trial endpoint.
func (c *Client) Trial() bool { return c.apiKey == "" }

func (c *Client) lookupURL(upc string) string {
	path := paidLookupPath
	if c.Trial() {
		path = trialLookupPath
	}
	return c.baseURL + path + "?upc=" + url.QueryEscape(upc)
}

// Fetch looks up upc. It returns a NotFound error when the provider
// confirms no product, and a network, timeout or limit error for failures
// a later attempt may resolve. The returned record has no accepted images
// yet; SourceImages carries the provider's candidate URLs.
func (c *Client) Fetch(ctx context.Context, upc string) (*product.Record, error) {
	start := time.Now()
	rec, err := c.fetch(ctx, upc)
	c.metrics.RecordRequest(metrics.Outcome(err), time.Since(start))
	return rec, err
}

func (c *Client) fetch(ctx context.Context, upc string) (*product.Record, error) {
	if err := c.wait(ctx, upc); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.lookupURL(upc)
	header := http.Header{"Accept": {"application/json"}}
	if !c.Trial() {
		header.Set("user_key", c.apiKey)
		header.Set("key_type", "3scale")
	}

	c.log.Debug("querying upstream", logger.String("upc", upc), logger.String("url", logger.SanitizeURL(reqURL)))

	resp, err := c.http.Get(ctx, reqURL, header)
	if err != nil {
		return nil, c.transportError(err, upc, "request")
	}
	body, err := httpclient.ReadBody(resp, maxResponseBytes)
	if err != nil {
		return nil, c.transportError(err, upc, "read_body")
	}

	obj, parseErr := jason.NewObjectFromBytes(body)
	code := ""
	if parseErr == nil {
		code, _ = obj.GetString("code")
	}

	if err := c.classifyStatus(resp.StatusCode, code, upc); err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, errors.New(parseErr).
			Component("upcitemdb").
			Category(errors.CategoryNetwork).
			Context("upc", upc).
			Context("operation", "parse_response").
			Build()
	}

	rec, err := c.parseRecord(obj, upc)
	if err != nil {
		return nil, err
	}
	c.log.Info("fetched product from upstream",
		logger.String("upc", upc),
		logger.Int("candidate_images", len(rec.SourceImages)))
	return rec, nil
}

// wait paces the request. The wait is bounded by the request timeout, so a
// backlog of callers fails fast with a limit error instead of queueing
// without a deadline.
func (c *Client) wait(ctx context.Context, upc string) error {
	if c.limiter == nil {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	waitStart := time.Now()
	if err := c.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return c.transportError(ctx.Err(), upc, "rate_limiter_wait")
		}
		// the limiter refuses up front when the reservation would outlast
		// the wait budget
		return errors.New(err).
			Component("upcitemdb").
			Category(errors.CategoryLimit).
			Context("upc", upc).
			Context("operation", "rate_limiter_wait").
			Context("wait_budget", c.timeout.String()).
			Build()
	}
	c.metrics.RecordRateLimitWait(time.Since(waitStart))
	return nil
}

// classifyStatus maps provider status and error code to the error taxonomy.
func (c *Client) classifyStatus(status int, code, upc string) error {
	switch {
	case status == http.StatusNotFound || notFoundCodes[code]:
		return notFound(upc, code)
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests || rateLimitCodes[code]:
		c.log.Warn("upstream rate limit reached", logger.String("upc", upc), logger.String("code", code))
		return errors.Newf("upstream rate limit reached").
			Component("upcitemdb").
			Category(errors.CategoryLimit).
			Context("upc", upc).
			Context("status", status).
			Context("code", code).
			Build()
	case status >= http.StatusInternalServerError:
		return errors.Newf("upstream returned HTTP %d", status).
			Component("upcitemdb").
			Category(errors.CategoryNetwork).
			Context("upc", upc).
			Context("status", status).
			Build()
	default:
		return errors.Newf("upstream rejected request with HTTP %d", status).
			Component("upcitemdb").
			Category(errors.CategoryHTTP).
			Context("upc", upc).
			Context("status", status).
			Context("code", code).
			Build()
	}
}

func (c *Client) parseRecord(obj *jason.Object, upc string) (*product.Record, error) {
	items, err := obj.GetObjectArray("items")
	if err != nil || len(items) == 0 {
		return nil, notFound(upc, "NO_ITEMS")
	}
	item := items[0]

	rec := &product.Record{
		UPC:                  upc,
		Title:                optString(item, "title"),
		Brand:                optString(item, "brand"),
		Description:          optString(item, "description"),
		Model:                optString(item, "model"),
		Color:                optString(item, "color"),
		Size:                 optString(item, "size"),
		Weight:               optString(item, "weight"),
		Dimension:            optString(item, "dimension"),
		Category:             optString(item, "category"),
		Currency:             optString(item, "currency"),
		LowestRecordedPrice:  optPrice(item, "lowest_recorded_price"),
		HighestRecordedPrice: optPrice(item, "highest_recorded_price"),
		Images:               []string{},
		SourceImages:         imageURLs(item),
		Source:               product.SourceUPCItemDB,
		FetchedAt:            c.now().UTC(),
	}
	return rec, nil
}

func optString(obj *jason.Object, key string) string {
	s, err := obj.GetString(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// optPrice accepts both numeric and empty-string prices; the provider
// sends "" when no price was recorded.
func optPrice(obj *jason.Object, key string) *float64 {
	v, err := obj.GetFloat64(key)
	if err != nil {
		return nil
	}
	return &v
}

// imageURLs returns the absolute http(s) candidate URLs in provider order,
// without duplicates.
func imageURLs(obj *jason.Object) []string {
	values, err := obj.GetValueArray("images")
	if err != nil {
		return []string{}
	}
	seen := make(map[string]bool, len(values))
	urls := make([]string, 0, len(values))
	for _, v := range values {
		s, err := v.String()
		if err != nil {
			continue
		}
		s = strings.TrimSpace(s)
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || seen[s] {
			continue
		}
		seen[s] = true
		urls = append(urls, s)
	}
	return urls
}

func notFound(upc, code string) error {
	return errors.Newf("product %s not found upstream", upc).
		Component("upcitemdb").
		Category(errors.CategoryNotFound).
		Context("upc", upc).
		Context("code", code).
		Build()
}

// transportError classifies failures that happened before a status was
// available. Cancellation by the caller is not transient.
func (c *Client) transportError(err error, upc, operation string) error {
	category := errors.CategoryNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		category = errors.CategoryTimeout
	case errors.Is(err, httpclient.ErrBodyTooLarge):
		category = errors.CategoryHTTP
	}
	c.log.Warn("upstream request failed",
		logger.String("upc", upc),
		logger.String("operation", operation),
		logger.String("category", string(category)),
		logger.Error(err))
	return errors.New(err).
		Component("upcitemdb").
		Category(category).
		Context("upc", upc).
		Context("operation", operation).
		Build()
}
