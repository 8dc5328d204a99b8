package executor

import (
	"context"

	"github.com/wesleyorama2/surge/internal/vu"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU runs iterations back to back (closed model), optionally with
// pacing, until the duration expires.
type ConstantVUs struct {
	base
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{base: base{typ: TypeConstantVUs}}
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeConstantVUs)
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, pool *vu.Pool, runner *vu.Runner) error {
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
			e.vuLoop(w, w.iter, v, nil)
		}()
	}
	return nil
}

// Progress returns elapsed time over duration.
func (e *ConstantVUs) Progress() float64 {
	return e.timeProgress()
}

// Stats returns executor statistics.
func (e *ConstantVUs) Stats() *Stats {
	st := e.baseStats()
	st.TargetVUs = e.config.VUs
	return st
}

var _ Executor = (*ConstantVUs)(nil)
