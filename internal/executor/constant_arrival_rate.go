package executor

import (
	"context"

	"github.com/wesleyorama2/surge/internal/rate"
	"github.com/wesleyorama2/surge/internal/vu"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Iterations are scheduled by a leaky bucket regardless of how long each
// one takes. Each start borrows an idle VU from the pool, creating one if
// maxVUs allows; when none is available the iteration is dropped and
// counted in dropped_iterations.
//
// Example:
//
//	executor: constant-arrival-rate
//	rate: 100              # iterations per timeUnit
//	timeUnit: 1s
//	duration: 5m
//	preAllocatedVUs: 10
//	maxVUs: 50
type ConstantArrivalRate struct {
	base

	bucket *rate.LeakyBucket
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{base: base{typ: TypeConstantArrivalRate}}
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if err := e.init(config, TypeConstantArrivalRate); err != nil {
		return err
	}
	e.bucket = rate.NewLeakyBucket(config.ratePerSecond(config.Rate))
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, pool *vu.Pool, runner *vu.Runner) error {
	w, err := e.begin(ctx, pool, runner)
	if err != nil {
		return err
	}
	defer e.end(w)

	e.bucket.Reset()
	for {
		if err := e.bucket.Wait(w.schedule); err != nil {
			return nil
		}
		if w.schedule.Err() != nil {
			return nil
		}
		e.startArrival(w)
	}
}

// Progress returns elapsed time over duration.
func (e *ConstantArrivalRate) Progress() float64 {
	return e.timeProgress()
}

// Stats returns executor statistics.
func (e *ConstantArrivalRate) Stats() *Stats {
	st := e.baseStats()
	bs := e.bucket.Stats()
	st.TargetRate = bs.Rate
	if secs := st.Elapsed.Seconds(); secs > 0 {
		st.CurrentRate = float64(bs.Scheduled) / secs
	}
	return st
}

var _ Executor = (*ConstantArrivalRate)(nil)
