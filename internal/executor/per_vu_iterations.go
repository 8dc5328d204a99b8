package executor

import (
	"context"

	"github.com/wesleyorama2/surge/internal/vu"
)

// PerVUIterations has every VU run exactly the configured number of
// iterations, bounded by maxDuration.
type PerVUIterations struct {
	base
}

// NewPerVUIterations creates a new per-VU iterations executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{base: base{typ: TypePerVUIterations}}
}

// Init initializes the executor with configuration.
func (e *PerVUIterations) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypePerVUIterations)
}

// Run starts the executor and blocks until completion.
func (e *PerVUIterations) Run(ctx context.Context, pool *vu.Pool, runner *vu.Runner) error {
	w, err := e.begin(ctx, pool, runner)
	if err != nil {
		return err
	}
	defer e.end(w)

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

			left := e.config.Iterations
			e.vuLoop(w, w.iter, v, func() bool {
				if left <= 0 {
					return false
				}
				left--
				return true
			})
		}()
	}
	return nil
}

// total is the planned number of iterations.
func (e *PerVUIterations) total() int64 {
	return e.config.Iterations * int64(e.config.VUs)
}

// Progress returns finished iterations over the planned total.
func (e *PerVUIterations) Progress() float64 {
	return iterationProgress(&e.base, e.total())
}

// Stats returns executor statistics.
func (e *PerVUIterations) Stats() *Stats {
	st := e.baseStats()
	st.TargetVUs = e.config.VUs
	st.TotalIterations = e.total()
	return st
}

// iterationProgress is done iterations over total, or elapsed time over
// maxDuration when that is further along.
func iterationProgress(b *base, total int64) float64 {
	if total <= 0 {
		return b.timeProgress()
	}
	if !b.running.Load() && !b.startTime().IsZero() {
		return 1
	}
	p := float64(b.iterations.Load()+b.interrupted.Load()) / float64(total)
	if t := b.timeProgress(); t > p {
		p = t
	}
	if p > 1 {
		p = 1
	}
	return p
}

var _ Executor = (*PerVUIterations)(nil)
