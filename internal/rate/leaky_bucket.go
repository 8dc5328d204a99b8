// Package rate schedules iteration start times for arrival-rate executors.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket hands out start times spaced 1/rate apart.
//
// The bucket tracks a virtual "next drip" instant. Each call to Next returns
// that instant and advances it by one interval. When callers fall behind,
// the drip is pulled forward to now, so missed slots are never replayed.
//
// # Thread Safety
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	mu   sync.Mutex
	rate float64 // starts per second
	next time.Time
	now  func() time.Time

	scheduled atomic.Int64
	waited    atomic.Int64 // nanoseconds
}

// NewLeakyBucket creates a bucket at rate starts per second. Non-positive
// rates fall back to 1/s. The first start is due immediately.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return newBucket(rate, time.Now)
}

func newBucket(rate float64, now func() time.Time) *LeakyBucket {
	if rate <= 0 {
		rate = 1
	}
	return &LeakyBucket{rate: rate, now: now, next: now()}
}

func (lb *LeakyBucket) interval() time.Duration {
	return time.Duration(float64(time.Second) / lb.rate)
}

// Next reserves the next start slot and returns its time, which is never
// earlier than now.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.now()
	if lb.next.Before(now) {
		lb.next = now
	}

	slot := lb.next
	lb.next = slot.Add(lb.interval())

	lb.scheduled.Add(1)
	if wait := slot.Sub(now); wait > 0 {
		lb.waited.Add(int64(wait))
	}
	return slot
}

// Wait blocks until the next slot, or returns ctx.Err() if ctx ends first.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	wait := time.Until(lb.Next())
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the current rate in starts per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats describes the bucket's activity so far.
type Stats struct {
	Rate      float64       `json:"rate"`
	Scheduled int64         `json:"scheduled"`
	Waited    time.Duration `json:"waited"`
}

// Stats returns a snapshot of the bucket's counters.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Rate:      lb.Rate(),
		Scheduled: lb.scheduled.Load(),
		Waited:    time.Duration(lb.waited.Load()),
	}
}

// Reset makes the next slot due immediately and clears the counters.
func (lb *LeakyBucket) Reset() {
	lb.mu.Lock()
	lb.next = lb.now()
	lb.mu.Unlock()

	lb.scheduled.Store(0)
	lb.waited.Store(0)
}
