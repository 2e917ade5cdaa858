// Package enrich turns a UPC into a complete product record: upstream
// metadata plus the images selected by the image pipeline. The Worker runs
// that sequence in the background for enqueued UPCs and writes the result
// to the cache.
package enrich

import (
	"context"
	"strings"

	"github.com/tphakala/upc-lookup/internal/imagepipeline"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/product"
)

// Fetcher retrieves product metadata from the upstream provider.
type Fetcher interface {
	Fetch(ctx context.Context, upc string) (*product.Record, error)
}

// Selector downloads, validates and ranks candidate images.
type Selector interface {
	Select(ctx context.Context, upc string, urls []string) imagepipeline.Result
}

// URLBuilder maps a store-relative image path to the URL clients load it from.
type URLBuilder func(rel string) string

// PublicURLs builds absolute image URLs under baseURL and publicPath, e.g.
// http://localhost:5000/static/upc_images/<upc>/<file>.
func PublicURLs(baseURL, publicPath string) URLBuilder {
	prefix := strings.TrimRight(baseURL, "/")
	if p := strings.Trim(publicPath, "/"); p != "" {
		prefix += "/" + p
	}
	return func(rel string) string {
		return prefix + "/" + strings.TrimLeft(rel, "/")
	}
}

// Enricher assembles product records.
type Enricher struct {
	fetcher Fetcher
	images  Selector
	urls    URLBuilder
	log     logger.Logger
}

// NewEnricher wires the upstream client and the image pipeline.
func NewEnricher(fetcher Fetcher, images Selector, urls URLBuilder, log logger.Logger) *Enricher {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Enricher{
		fetcher: fetcher,
		images:  images,
		urls:    urls,
		log:     log.Module("enrich"),
	}
}

// Build fetches upc upstream and then runs the image pipeline over the
// provider's image URLs. Upstream errors are returned unchanged; image
// failures never are.
func (e *Enricher) Build(ctx context.Context, upc string) (*product.Record, error) {
	rec, err := e.fetcher.Fetch(ctx, upc)
	if err != nil {
		return nil, err
	}

	res := e.images.Select(ctx, upc, rec.SourceImages)
	rec.Images = make([]string, 0, len(res.Accepted))
	for i := range res.Accepted {
		rec.Images = append(rec.Images, e.urls(res.Accepted[i].Path))
	}
	rec.BestImage = ""
	if res.Best != nil {
		rec.BestImage = e.urls(res.BestPath)
	}

	e.log.Debug("product record assembled",
		logger.String("upc", upc),
		logger.Int("source_images", len(rec.SourceImages)),
		logger.Int("images", len(rec.Images)))
	return rec, nil
}
