package enrich

import (
	"context"
	"time"

	"github.com/tphakala/upc-lookup/internal/cache"
	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/dedup"
	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/jobqueue"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
)

// BatchResult counts the outcome of SubmitBatch.
type BatchResult struct {
	Queued            int `json:"queued"`
	AlreadyProcessing int `json:"already_processing"`
	// Rejected counts UPCs the queue refused because it was full or stopped.
	Rejected int `json:"rejected"`
}

// Worker executes background enrichment jobs. It owns the dedup markers:
// a marker is taken on submit and released after the job's last attempt,
// once the cache write (if any) has happened.
type Worker struct {
	enricher *Enricher
	cache    cache.Store
	tracker  *dedup.Tracker
	queue    *jobqueue.Queue[string]
	log      logger.Logger
}

// NewWorker creates a worker pool sized by settings. Retries of transient
// upstream failures happen only when settings.Retry.Enabled is set.
func NewWorker(enricher *Enricher, store cache.Store, tracker *dedup.Tracker, settings *conf.EnrichmentSettings, log logger.Logger, m *metrics.JobMetrics) *Worker {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	w := &Worker{
		enricher: enricher,
		cache:    store,
		tracker:  tracker,
		log:      log.Module("worker"),
	}

	retry := jobqueue.RetryConfig{
		Enabled:      settings.Retry.Enabled,
		MaxRetries:   settings.Retry.MaxRetries,
		InitialDelay: settings.Retry.InitialDelay,
		MaxDelay:     settings.Retry.MaxDelay,
		Multiplier:   settings.Retry.Multiplier,
	}
	w.queue = jobqueue.New[string](w, settings.Workers, settings.QueueSize,
		jobqueue.WithRetry[string](retry, errors.IsTransient),
		jobqueue.WithCompletion(w.complete),
		jobqueue.WithMetrics[string](m),
		jobqueue.WithLogger[string](log))
	return w
}

// Start launches the worker goroutines.
func (w *Worker) Start(ctx context.Context) { w.queue.Start(ctx) }

// Stop drains queued jobs, waiting at most timeout.
func (w *Worker) Stop(timeout time.Duration) error { return w.queue.Stop(timeout) }

// Wait blocks until no background job is queued or running.
func (w *Worker) Wait(ctx context.Context) error { return w.queue.Wait(ctx) }

// Stats reports queue activity.
func (w *Worker) Stats() jobqueue.Stats { return w.queue.Stats() }

// InFlight reports whether upc has a job queued or running.
func (w *Worker) InFlight(upc string) bool { return w.tracker.InFlight(upc) }

// Submit schedules upc for enrichment. It returns false with a nil error
// when a job for upc is already in flight.
func (w *Worker) Submit(upc string) (bool, error) {
	if !w.tracker.TryAcquire(upc) {
		return false, nil
	}
	if _, err := w.queue.Enqueue(upc); err != nil {
		w.tracker.Release(upc)
		return false, err
	}
	return true, nil
}

// SubmitBatch submits each UPC independently.
func (w *Worker) SubmitBatch(upcs []string) BatchResult {
	var res BatchResult
	for _, upc := range upcs {
		accepted, err := w.Submit(upc)
		switch {
		case err != nil:
			res.Rejected++
			w.log.Warn("failed to queue enrichment job", logger.String("upc", upc), logger.Error(err))
		case accepted:
			res.Queued++
		default:
			res.AlreadyProcessing++
		}
	}
	return res
}

// Execute runs one attempt: upstream fetch, image pipeline, cache write.
// A not-found result leaves the cache untouched.
func (w *Worker) Execute(ctx context.Context, upc string) error {
	rec, err := w.enricher.Build(ctx, upc)
	if err != nil {
		return err
	}
	return w.cache.Put(ctx, upc, rec)
}

// GetDescription implements jobqueue.TypedAction.
func (w *Worker) GetDescription() string { return "upc enrichment" }

// complete runs after the job's last attempt and releases the marker.
func (w *Worker) complete(job jobqueue.Job[string]) {
	defer w.tracker.Release(job.Data)

	fields := []logger.Field{
		logger.String("upc", job.Data),
		logger.String("job_id", job.ID),
		logger.Int("attempts", job.Attempts),
	}
	switch {
	case job.LastError == nil:
		w.log.Info("product enriched", fields...)
	case errors.IsNotFound(job.LastError):
		w.log.Info("product not found upstream", fields...)
	default:
		w.log.Warn("enrichment failed", append(fields, logger.Error(job.LastError))...)
	}
}
