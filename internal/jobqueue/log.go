package jobqueue

import (
	"time"

	"github.com/tphakala/upc-lookup/internal/logger"
	"github.com/tphakala/upc-lookup/internal/observability/metrics"
)

func (q *Queue[T]) logJobEnqueued(job *Job[T]) {
	q.log.Debug("job enqueued",
		logger.String("job_id", job.ID),
		logger.Int("pending", len(q.jobs)))
}

func (q *Queue[T]) logJobStarted(job *Job[T]) {
	q.log.Debug("job started",
		logger.String("job_id", job.ID),
		logger.Int("attempt", job.Attempts))
}

func (q *Queue[T]) logJobRetrying(job *Job[T], delay time.Duration) {
	q.log.Warn("job failed, will retry",
		logger.String("job_id", job.ID),
		logger.Int("attempt", job.Attempts),
		logger.Int("max_attempts", q.retry.maxAttempts()),
		logger.Duration("delay", delay),
		logger.Error(job.LastError))
}

// logJobFinished logs successes at debug level, expected failures (not
// found) at info and everything else at warn.
func (q *Queue[T]) logJobFinished(job *Job[T], duration time.Duration) {
	fields := []logger.Field{
		logger.String("job_id", job.ID),
		logger.String("status", job.Status.String()),
		logger.Int("attempts", job.Attempts),
		logger.Duration("duration", duration),
	}
	if job.LastError == nil {
		q.log.Debug("job completed", fields...)
		return
	}
	fields = append(fields, logger.Error(job.LastError))
	if metrics.Outcome(job.LastError) == metrics.OutcomeNotFound {
		q.log.Info("job finished without result", fields...)
		return
	}
	q.log.Warn("job failed", fields...)
}
