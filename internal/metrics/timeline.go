package metrics

import (
	"sync"
	"time"
)

// Totals are cumulative headline numbers at one instant.
type Totals struct {
	VUs        int64
	Iterations int64
	Requests   int64
	Failures   int64
	// Latency percentiles of http_req_duration in milliseconds.
	P50, P95, P99 float64
}

// Point is one timeline entry.
type Point struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`

	VUs        int64 `json:"vus"`
	Iterations int64 `json:"iterations"`
	Requests   int64 `json:"requests"`
	Failures   int64 `json:"failures"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRps"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Timeline keeps periodic points in a ring buffer.
//
// When the buffer is full the oldest point is overwritten, so memory stays
// bounded for arbitrarily long tests.
type Timeline struct {
	mu        sync.RWMutex
	points    []Point
	head      int
	count     int
	maxPoints int

	lastTime     time.Time
	lastRequests int64
	lastFailures int64
}

// NewTimeline creates a timeline retaining at most maxPoints points
// (3600 when maxPoints <= 0, an hour at one point per second).
func NewTimeline(maxPoints int) *Timeline {
	if maxPoints <= 0 {
		maxPoints = 3600
	}
	return &Timeline{
		points:    make([]Point, maxPoints),
		maxPoints: maxPoints,
	}
}

// Record appends a point built from the cumulative totals and derives the
// interval rates from the previous point.
func (tl *Timeline) Record(now time.Time, elapsed time.Duration, t Totals) Point {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	intervalReqs := t.Requests - tl.lastRequests
	intervalFails := t.Failures - tl.lastFailures

	seconds := 1.0
	if !tl.lastTime.IsZero() {
		seconds = now.Sub(tl.lastTime).Seconds()
	} else if elapsed > 0 {
		seconds = elapsed.Seconds()
	}
	if seconds <= 0 {
		seconds = 1.0
	}

	errRate := 0.0
	if intervalReqs > 0 {
		errRate = float64(intervalFails) / float64(intervalReqs)
	}

	p := Point{
		Timestamp:         now,
		Elapsed:           elapsed,
		VUs:               t.VUs,
		Iterations:        t.Iterations,
		Requests:          t.Requests,
		Failures:          t.Failures,
		IntervalRequests:  intervalReqs,
		IntervalRPS:       float64(intervalReqs) / seconds,
		IntervalErrorRate: errRate,
		P50:               t.P50,
		P95:               t.P95,
		P99:               t.P99,
	}

	tl.points[tl.head] = p
	tl.head = (tl.head + 1) % tl.maxPoints
	if tl.count < tl.maxPoints {
		tl.count++
	}

	tl.lastTime = now
	tl.lastRequests = t.Requests
	tl.lastFailures = t.Failures
	return p
}

// Points returns all retained points in chronological order.
func (tl *Timeline) Points() []Point {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.recent(tl.count)
}

// Recent returns the n most recent points in chronological order.
func (tl *Timeline) Recent(n int) []Point {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.recent(n)
}

func (tl *Timeline) recent(n int) []Point {
	if n > tl.count {
		n = tl.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Point, n)
	for i := 0; i < n; i++ {
		idx := (tl.head - 1 - i + tl.maxPoints) % tl.maxPoints
		out[n-1-i] = tl.points[idx]
	}
	return out
}

// Latest returns the most recent point.
func (tl *Timeline) Latest() (Point, bool) {
	pts := tl.Recent(1)
	if len(pts) == 0 {
		return Point{}, false
	}
	return pts[0], true
}

// Len returns the number of retained points.
func (tl *Timeline) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.count
}
