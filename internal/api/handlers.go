package api

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/jobqueue"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/product"
)

// Status values returned by the process endpoints.
const (
	StatusAlreadyCached     = "already_cached"
	StatusProcessing        = "processing"
	StatusProcessingStarted = "processing_started"
	StatusBatchQueued       = "batch_processing_queued"
)

// ProductResponse is a product record with its cache provenance.
type ProductResponse struct {
	*product.Record
	Cached bool `json:"cached"`
}

// ProcessResponse answers POST /api/process/:upc.
type ProcessResponse struct {
	Status  string `json:"status"`
	UPC     string `json:"upc"`
	CheckAt string `json:"check_at"`
}

// BatchResponse answers POST /api/process/batch.
type BatchResponse struct {
	Status                string `json:"status"`
	TotalUPCsInFile       int    `json:"total_upcs_in_file"`
	UPCsQueued            int    `json:"upcs_queued"`
	UPCsAlreadyProcessing int    `json:"upcs_already_processing"`
	UPCsIgnoredCached     int    `json:"upcs_ignored_cached"`
	UPCsInvalid           int    `json:"upcs_invalid"`
	UPCsRejected          int    `json:"upcs_rejected,omitempty"`
	Message               string `json:"message"`
}

// ProductsResponse answers GET /api/products.
type ProductsResponse struct {
	UPCs  []string `json:"upcs"`
	Count int      `json:"count"`
}

// ImagesResponse answers GET /api/product/:upc/images.
type ImagesResponse struct {
	UPC    string   `json:"upc"`
	Images []string `json:"images"`
}

// HealthResponse answers GET /api/health.
type HealthResponse struct {
	Status       string         `json:"status"`
	Version      string         `json:"version"`
	CacheBackend string         `json:"cache_backend"`
	Queue        jobqueue.Stats `json:"queue"`
	Uptime       string         `json:"uptime"`
}

func checkAt(upc string) string { return "/api/product/" + upc }

// upcParam validates the :upc path parameter.
func upcParam(c echo.Context) (string, error) {
	return product.NormalizeUPC(c.Param("upc"))
}

// GetProduct returns the product for a UPC, fetching it upstream on a
// cache miss. With cache_only=true a miss is a 404 instead.
func (s *Server) GetProduct(c echo.Context) error {
	upc, err := upcParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid UPC")
	}
	cacheOnly, err := boolQuery(c, "cache_only")
	if err != nil {
		return s.HandleError(c, err, "Invalid query parameter")
	}

	ctx := c.Request().Context()
	if cacheOnly {
		rec, err := s.service.CachedRecord(ctx, upc)
		if err != nil {
			return s.HandleError(c, err, "Product not found in cache")
		}
		return c.JSON(http.StatusOK, ProductResponse{Record: rec, Cached: true})
	}

	res, err := s.service.Lookup(ctx, upc)
	if err != nil {
		msg := "Product lookup failed"
		if errors.IsNotFound(err) {
			msg = "Product not found"
		}
		return s.HandleError(c, err, msg)
	}
	return c.JSON(http.StatusOK, ProductResponse{Record: res.Record, Cached: res.Cached})
}

// ProcessUPC schedules background enrichment for one UPC and returns
// without waiting for it.
func (s *Server) ProcessUPC(c echo.Context) error {
	upc, err := upcParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid UPC")
	}

	cached, err := s.service.IsCached(c.Request().Context(), upc)
	if err != nil {
		// an unreadable cache entry is refreshed like a miss
		s.log.Warn("cache check failed", logger.String("upc", upc), logger.Error(err))
	}
	if cached {
		return c.JSON(http.StatusOK, ProcessResponse{Status: StatusAlreadyCached, UPC: upc, CheckAt: checkAt(upc)})
	}

	res, err := s.service.Enqueue(upc)
	if err != nil {
		return s.HandleError(c, err, "Failed to schedule processing")
	}
	status := StatusProcessingStarted
	if !res.Accepted {
		status = StatusProcessing
	}
	return c.JSON(http.StatusAccepted, ProcessResponse{Status: status, UPC: upc, CheckAt: checkAt(upc)})
}

// ProcessBatch reads the upc column of an uploaded CSV and schedules
// every distinct valid UPC that is not already cached.
func (s *Server) ProcessBatch(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return s.HandleError(c, errors.ValidationError("no file part in the request"), "Invalid upload")
	}
	if !strings.EqualFold(path.Ext(fh.Filename), ".csv") {
		return s.HandleError(c, errors.ValidationError("file must be a CSV (.csv)"), "Invalid upload")
	}
	f, err := fh.Open()
	if err != nil {
		return s.HandleError(c, err, "Failed to read upload")
	}
	defer func() { _ = f.Close() }()

	parsed, err := product.ReadUPCColumn(f)
	if err != nil {
		return s.HandleError(c, err, "Invalid CSV")
	}

	toQueue, ignored := s.service.SplitCached(c.Request().Context(), parsed.Valid)
	res := s.service.EnqueueBatch(toQueue)
	s.log.Info("batch upload processed",
		logger.String("file", fh.Filename),
		logger.Int("total", parsed.Total),
		logger.Int("queued", res.Queued),
		logger.Int("already_processing", res.AlreadyProcessing),
		logger.Int("ignored_cached", ignored),
		logger.Int("invalid", parsed.Invalid),
		logger.Int("rejected", res.Rejected))

	return c.JSON(http.StatusAccepted, BatchResponse{
		Status:                StatusBatchQueued,
		TotalUPCsInFile:       parsed.Total,
		UPCsQueued:            res.Queued,
		UPCsAlreadyProcessing: res.AlreadyProcessing,
		UPCsIgnoredCached:     ignored,
		UPCsInvalid:           parsed.Invalid,
		UPCsRejected:          res.Rejected,
		Message:               "Processing started in the background. Check /api/product/<upc> for results later.",
	})
}

// ListProducts returns the UPCs with a live cache entry.
func (s *Server) ListProducts(c echo.Context) error {
	upcs, err := s.service.ListCached(c.Request().Context())
	if err != nil {
		return s.HandleError(c, err, "Failed to list cached products")
	}
	return c.JSON(http.StatusOK, ProductsResponse{UPCs: upcs, Count: len(upcs)})
}

// GetImages returns the public URLs of a product's stored images in
// provider order.
func (s *Server) GetImages(c echo.Context) error {
	upc, err := upcParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid UPC")
	}
	paths, err := s.service.GetAllImages(upc)
	if err != nil {
		return s.HandleError(c, err, "Failed to list images")
	}
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		urls = append(urls, s.publicURL(p))
	}
	return c.JSON(http.StatusOK, ImagesResponse{UPC: upc, Images: urls})
}

// GetBestImage streams the best image file for a UPC.
func (s *Server) GetBestImage(c echo.Context) error {
	upc, err := upcParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid UPC")
	}
	rel, err := s.service.GetBestImage(upc)
	if err != nil {
		return s.HandleError(c, err, "No image for product")
	}
	f, _, err := s.images.Open(rel)
	if err != nil {
		return s.HandleError(c, err, "No image for product")
	}
	defer func() { _ = f.Close() }()

	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=3600")
	http.ServeContent(c.Response(), c.Request(), path.Base(rel), time.Time{}, f)
	return nil
}

// Health reports liveness plus cache and queue state.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		Version:      s.build.GetVersion(),
		CacheBackend: s.service.CacheBackend(),
		Queue:        s.service.QueueStats(),
		Uptime:       time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func boolQuery(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.ValidationError(name + " must be true or false")
	}
	return v, nil
}
