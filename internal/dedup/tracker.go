// Package dedup tracks which UPCs have a background enrichment job in
// flight, so concurrent requests for the same code schedule at most one job.
package dedup

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker holds one marker per in-flight UPC. The zero value is not usable;
// create trackers with New.
type Tracker struct {
	markers sync.Map // upc -> time.Time the marker was taken
	count   atomic.Int64
	now     func() time.Time
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{now: time.Now}
}

// TryAcquire takes the marker for upc. It returns false without side effects
// when a marker already exists. Exactly one of any set of concurrent callers
// for the same upc wins until the marker is released.
func (t *Tracker) TryAcquire(upc string) bool {
	if _, loaded := t.markers.LoadOrStore(upc, t.now()); loaded {
		return false
	}
	t.count.Add(1)
	return true
}

// Release removes the marker for upc. Releasing an absent marker is a no-op.
func (t *Tracker) Release(upc string) {
	if _, loaded := t.markers.LoadAndDelete(upc); loaded {
		t.count.Add(-1)
	}
}

// InFlight reports whether upc currently holds a marker.
func (t *Tracker) InFlight(upc string) bool {
	_, ok := t.markers.Load(upc)
	return ok
}

// Since returns when the marker for upc was taken.
func (t *Tracker) Since(upc string) (time.Time, bool) {
	v, ok := t.markers.Load(upc)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Len returns the number of in-flight markers.
func (t *Tracker) Len() int {
	return int(t.count.Load())
}
