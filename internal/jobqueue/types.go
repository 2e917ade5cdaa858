// Package jobqueue runs typed jobs on a bounded worker pool with optional
// retry of transient failures. Every accepted job reaches a terminal state
// and reports it through the completion hook, including jobs that panic.
package jobqueue

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tphakala/upc-lookup/internal/errors"
)

// Common errors that can be returned by job queue operations
var (
	ErrQueueStopped = errors.NewStd("job queue has been stopped")
	ErrQueueFull    = errors.NewStd("job queue is full")
)

// RetryConfig holds the configuration for retry behavior of an action
type RetryConfig struct {
	Enabled      bool          // Whether retry is enabled
	MaxRetries   int           // Maximum number of retry attempts
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier for each subsequent retry
}

// maxAttempts returns the total number of executions a job may get.
func (c RetryConfig) maxAttempts() int {
	if !c.Enabled || c.MaxRetries <= 0 {
		return 1
	}
	return c.MaxRetries + 1
}

// backoff returns the delay before the given retry (1-based), with ±10%
// jitter and capped at MaxDelay.
func (c RetryConfig) backoff(retry int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(retry-1))
	d *= 0.9 + 0.2*rand.Float64() //nolint:gosec // jitter only
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// TypedAction is executed once per job attempt.
type TypedAction[T any] interface {
	Execute(ctx context.Context, data T) error
	GetDescription() string // Returns a human-readable description of the action
}

// JobStatus represents the current status of a job in the queue
type JobStatus int

const (
	// JobStatusPending indicates the job is waiting for a worker
	JobStatusPending JobStatus = iota
	// JobStatusRunning indicates the job is currently being executed
	JobStatusRunning
	// JobStatusRetrying indicates the job failed and waits for its next attempt
	JobStatusRetrying
	// JobStatusCompleted indicates the job has completed successfully
	JobStatusCompleted
	// JobStatusFailed indicates the job has failed and will not be retried
	JobStatusFailed
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusRetrying:
		return "Retrying"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Job is one unit of work. Jobs are owned by the queue; callers only see
// the ID and the completion callback's copy.
type Job[T any] struct {
	ID        string
	Data      T
	Attempts  int
	CreatedAt time.Time
	Status    JobStatus
	LastError error
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Submitted     int     `json:"submitted"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Rejected      int     `json:"rejected"`
	RetryAttempts int     `json:"retry_attempts"`
	Pending       int     `json:"pending"`
	Running       int     `json:"running"`
	Workers       int     `json:"workers"`
	MaxQueueSize  int     `json:"max_queue_size"`
	Utilization   float64 `json:"utilization"` // pending / max queue size, in percent
}
