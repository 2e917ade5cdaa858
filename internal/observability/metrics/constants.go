package metrics

import "github.com/tphakala/upc-lookup/internal/errors"

// Outcome label values shared by the lookup, upstream and job metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeNotFound  = "not_found"
	OutcomeTransient = "transient"
	OutcomeError     = "error"
)

// Histogram bucket parameters.
const (
	// BucketStart1ms starts a 1ms..~4s range with factor 2 and 12 buckets.
	BucketStart1ms = 0.001
	// BucketStart10ms starts a 10ms..~40s range with factor 2 and 12 buckets.
	BucketStart10ms = 0.01
	// BucketStart1KB starts a 1KB..~1GB range with factor 4 and 10 buckets.
	BucketStart1KB = 1024.0

	BucketFactor2 = 2
	BucketFactor4 = 4

	BucketCount10 = 10
	BucketCount12 = 12
)

// Outcome maps an operation error onto an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.IsNotFound(err):
		return OutcomeNotFound
	case errors.IsTransient(err):
		return OutcomeTransient
	default:
		return OutcomeError
	}
}
