package executor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/surge/internal/vu"
)

// rampTick is how often ramping executors re-evaluate their target.
const rampTick = 100 * time.Millisecond

// RampingVUs changes the number of looping VUs over a series of stages.
//
// The VU count is interpolated linearly from startVUs through each stage
// target. The executor never keeps more VUs active than the lowest target
// until its next adjustment, so the active count never exceeds the
// interpolated target. VUs removed on the way down finish their current
// iteration, which is interrupted after gracefulRampDown.
type RampingVUs struct {
	base

	mu      sync.Mutex
	handles []*rampHandle

	target atomic.Int32
}

type rampHandle struct {
	v      *vu.VU
	cancel context.CancelFunc
	timer  *time.Timer
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{base: base{typ: TypeRampingVUs}}
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeRampingVUs)
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, pool *vu.Pool, runner *vu.Runner) error {
	w, err := e.begin(ctx, pool, runner)
	if err != nil {
		return err
	}
	defer e.end(w)

	e.adjust(w, e.targetAt(0))

	ticker := time.NewTicker(rampTick)
	defer ticker.Stop()

	for {
		select {
		case <-w.schedule.Done():
			return nil
		case <-ticker.C:
			e.adjust(w, e.targetAt(e.elapsed()))
		}
	}
}

// targetAt is the VU count allowed from t until the next tick.
func (e *RampingVUs) targetAt(t time.Duration) int {
	v := minBetween(float64(e.config.StartVUs), e.config.Stages, t, t+rampTick)
	n := int(math.Floor(v + 1e-9))
	if n < 0 {
		n = 0
	}
	return n
}

// adjust spawns or retires VUs to reach target.
func (e *RampingVUs) adjust(w *window, target int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.target.Store(int32(target))

	for len(e.handles) > target {
		last := len(e.handles) - 1
		h := e.handles[last]
		e.handles = e.handles[:last]
		e.activeVUs.Add(-1)

		h.v.RequestStop()
		h.timer = time.AfterFunc(e.config.GracefulRampDown, h.cancel)
	}

	for len(e.handles) < target {
		if w.schedule.Err() != nil {
			return
		}
		v, ok := e.pool.TryGet()
		if !ok {
			return
		}
		ctx, cancel := context.WithCancel(w.iter)
		h := &rampHandle{v: v, cancel: cancel}
		e.handles = append(e.handles, h)
		e.activeVUs.Add(1)

		e.wg.Add(1)
		go e.runVU(w, ctx, h)
	}
}

func (e *RampingVUs) runVU(w *window, ctx context.Context, h *rampHandle) {
	defer e.wg.Done()
	defer e.pool.Put(h.v)

	e.vuLoop(w, ctx, h.v, nil)

	e.mu.Lock()
	for i, other := range e.handles {
		if other == h {
			e.handles = append(e.handles[:i], e.handles[i+1:]...)
			e.activeVUs.Add(-1)
			break
		}
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	e.mu.Unlock()
	h.cancel()
}

// Progress returns elapsed time over the total stage duration.
func (e *RampingVUs) Progress() float64 {
	return e.timeProgress()
}

// Stats returns executor statistics.
func (e *RampingVUs) Stats() *Stats {
	st := e.baseStats()
	st.TargetVUs = int(e.target.Load())
	stageInfo(st, e.config.Stages, st.Elapsed)
	return st
}

var _ Executor = (*RampingVUs)(nil)
