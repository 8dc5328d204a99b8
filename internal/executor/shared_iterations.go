package executor

import (
	"context"
	"sync/atomic"

	"github.com/wesleyorama2/surge/internal/vu"
)

// SharedIterations shares a fixed total of iterations between VUs. Faster
// VUs take more of them. The scenario ends once all are claimed and done,
// or at maxDuration.
type SharedIterations struct {
	base

	claimed atomic.Int64
}

// NewSharedIterations creates a new shared iterations executor.
func NewSharedIterations() *SharedIterations {
	return &SharedIterations{base: base{typ: TypeSharedIterations}}
}

// Init initializes the executor with configuration.
func (e *SharedIterations) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeSharedIterations)
}

// Run starts the executor and blocks until completion.
func (e *SharedIterations) Run(ctx context.Context, pool *vu.Pool, runner *vu.Runner) error {
	w, err := e.begin(ctx, pool, runner)
	if err != nil {
		return err
	}
	defer e.end(w)

	total := e.config.Iterations
	claim := func() bool {
		if e.claimed.Add(1) <= total {
			return true
		}
		e.claimed.Add(-1)
		return false
	}

	for i := 0; i < e.config.VUs; i++ {
		v, err := pool.Get(w.schedule)
		if err != nil {
			break
		}
		e.activeVUs.Add(1)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer pool.Put(v)
			defer e.activeVUs.Add(-1)
			e.vuLoop(w, w.iter, v, claim)
		}()
	}
	return nil
}

// Progress returns finished iterations over the total.
func (e *SharedIterations) Progress() float64 {
	return iterationProgress(&e.base, e.config.Iterations)
}

// Stats returns executor statistics.
func (e *SharedIterations) Stats() *Stats {
	st := e.baseStats()
	st.TargetVUs = e.config.VUs
	st.TotalIterations = e.config.Iterations
	return st
}

var _ Executor = (*SharedIterations)(nil)
