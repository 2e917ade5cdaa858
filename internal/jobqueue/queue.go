package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
)

type queueState int

const (
	stateNew queueState = iota
	stateRunning
	stateStopped
)

// Option customizes a Queue.
type Option[T any] func(*Queue[T])

// WithRetry retries failed attempts for which retryable returns true.
func WithRetry[T any](cfg RetryConfig, retryable func(error) bool) Option[T] {
	return func(q *Queue[T]) {
		q.retry = cfg
		if retryable != nil {
			q.retryable = retryable
		}
	}
}

// WithCompletion registers fn to run once per accepted job after its last
// attempt, whatever the outcome.
func WithCompletion[T any](fn func(job Job[T])) Option[T] {
	return func(q *Queue[T]) { q.onDone = fn }
}

// WithMetrics records queue activity.
func WithMetrics[T any](m *metrics.JobMetrics) Option[T] {
	return func(q *Queue[T]) { q.metrics = m }
}

// WithLogger sets the parent logger.
func WithLogger[T any](log logger.Logger) Option[T] {
	return func(q *Queue[T]) {
		if log != nil {
			q.log = log.Module("jobqueue")
		}
	}
}

// Queue is a bounded FIFO of jobs served by a fixed number of workers.
// Enqueue never blocks: a full queue rejects the job.
type Queue[T any] struct {
	action    TypedAction[T]
	workers   int
	maxJobs   int
	jobs      chan *Job[T]
	retry     RetryConfig
	retryable func(error) bool
	onDone    func(Job[T])
	log       logger.Logger
	metrics   *metrics.JobMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  queueState
	active int           // accepted jobs that have not finished
	idle   chan struct{} // closed while active == 0
	stats  Stats
}

// New creates a queue for action. Call Start before enqueueing.
func New[T any](action TypedAction[T], workers, maxJobs int, opts ...Option[T]) *Queue[T] {
	idle := make(chan struct{})
	close(idle)

	q := &Queue[T]{
		action:    action,
		workers:   max(workers, 1),
		maxJobs:   max(maxJobs, 1),
		retryable: errors.IsTransient,
		log:       logger.NewSlogLogger(nil, logger.LogLevelInfo, nil).Module("jobqueue"),
		idle:      idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan *Job[T], q.maxJobs)
	return q
}

// Start launches the workers. Jobs run under a context detached from ctx's
// cancellation, so a job outlives the request that enqueued it; only a Stop
// that times out cancels running jobs.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != stateNew {
		return
	}
	q.state = stateRunning
	q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for range q.workers {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("job queue started",
		logger.String("action", q.action.GetDescription()),
		logger.Int("workers", q.workers),
		logger.Int("max_queue_size", q.maxJobs))
}

// Enqueue accepts data as a new job and returns its ID.
func (q *Queue[T]) Enqueue(data T) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != stateRunning {
		q.stats.Rejected++
		q.metrics.RecordRejected("stopped")
		return "", ErrQueueStopped
	}

	job := &Job[T]{
		ID:        uuid.NewString(),
		Data:      data,
		CreatedAt: time.Now(),
		Status:    JobStatusPending,
	}
	select {
	case q.jobs <- job:
	default:
		q.stats.Rejected++
		q.metrics.RecordRejected("queue_full")
		return "", errors.New(ErrQueueFull).
			Component("jobqueue").
			Category(errors.CategoryJobQueue).
			Context("max_queue_size", q.maxJobs).
			Build()
	}

	if q.active == 0 {
		q.idle = make(chan struct{})
	}
	q.active++
	q.stats.Submitted++
	q.metrics.RecordSubmitted()
	q.logJobEnqueued(job)
	return job.ID, nil
}

func (q *Queue[T]) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

// run executes job until it succeeds, fails permanently or the queue is
// cancelled.
func (q *Queue[T]) run(job *Job[T]) {
	start := time.Now()
	q.mu.Lock()
	q.stats.Running++
	q.mu.Unlock()
	q.metrics.RecordStarted()

	defer q.finish(job, start)

	maxAttempts := q.retry.maxAttempts()
	for {
		job.Attempts++
		job.Status = JobStatusRunning
		q.logJobStarted(job)

		err := q.execute(job)
		job.LastError = err
		if err == nil {
			job.Status = JobStatusCompleted
			return
		}
		if job.Attempts >= maxAttempts || !q.retryable(err) {
			job.Status = JobStatusFailed
			return
		}

		delay := q.retry.backoff(job.Attempts)
		job.Status = JobStatusRetrying
		q.mu.Lock()
		q.stats.RetryAttempts++
		q.mu.Unlock()
		q.metrics.RecordRetry()
		q.logJobRetrying(job, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-q.ctx.Done():
			timer.Stop()
			job.Status = JobStatusFailed
			return
		}
	}
}

// execute runs one attempt, converting a panic into an error.
func (q *Queue[T]) execute(job *Job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job execution panicked: %v", r).
				Component("jobqueue").
				Category(errors.CategoryJobQueue).
				Context("job_id", job.ID).
				Build()
		}
	}()
	return q.action.Execute(q.ctx, job.Data)
}

func (q *Queue[T]) finish(job *Job[T], start time.Time) {
	duration := time.Since(start)
	if q.onDone != nil {
		q.onDone(*job)
	}
	q.metrics.RecordFinished(metrics.Outcome(job.LastError), duration)
	q.logJobFinished(job, duration)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.Running--
	if job.Status == JobStatusCompleted {
		q.stats.Completed++
	} else {
		q.stats.Failed++
	}
	q.active--
	if q.active == 0 {
		close(q.idle)
	}
}

// Wait blocks until every accepted job has finished or ctx is done.
func (q *Queue[T]) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs and waits up to timeout for queued and running jobs
// to drain. On timeout running jobs are cancelled and an error is returned.
func (q *Queue[T]) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if q.state != stateRunning {
		q.state = stateStopped
		q.mu.Unlock()
		return nil
	}
	q.state = stateStopped
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.log.Info("job queue stopped")
		return nil
	case <-time.After(timeout):
		q.cancel()
		return errors.Newf("timed out waiting for jobs to complete after %v", timeout).
			Component("jobqueue").
			Category(errors.CategoryJobQueue).
			Build()
	}
}

// Stats returns a snapshot of queue activity.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Pending = len(q.jobs)
	s.Workers = q.workers
	s.MaxQueueSize = q.maxJobs
	s.Utilization = float64(s.Pending) / float64(q.maxJobs) * 100
	return s
}
