package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/surge/internal/vu"
)

// window holds the two contexts every executor runs under.
//
// schedule ends when no new iterations may start: at the end of the planned
// duration, on Stop, or when the parent ends. iter bounds the iterations
// themselves; it ends gracefulStop after schedule, or immediately when the
// parent ends.
type window struct {
	schedule       context.Context
	cancelSchedule context.CancelFunc
	iter           context.Context
	cancelIter     context.CancelFunc
}

func newWindow(parent context.Context, duration, gracefulStop time.Duration) *window {
	w := &window{}
	w.iter, w.cancelIter = context.WithCancel(parent)
	if duration > 0 {
		w.schedule, w.cancelSchedule = context.WithTimeout(w.iter, duration)
	} else {
		w.schedule, w.cancelSchedule = context.WithCancel(w.iter)
	}

	go func() {
		select {
		case <-w.schedule.Done():
		case <-w.iter.Done():
			return
		}
		timer := time.NewTimer(gracefulStop)
		defer timer.Stop()
		select {
		case <-timer.C:
			w.cancelIter()
		case <-w.iter.Done():
		}
	}()
	return w
}

func (w *window) close() {
	w.cancelSchedule()
	w.cancelIter()
}

// base carries the state and bookkeeping shared by every executor.
type base struct {
	typ    Type
	config *Config
	pool   *vu.Pool
	runner *vu.Runner

	startNanos atomic.Int64
	running    atomic.Bool
	stopped    atomic.Bool
	done       chan struct{}
	win        atomic.Pointer[window]

	activeVUs   atomic.Int32
	iterations  atomic.Int64
	interrupted atomic.Int64
	dropped     atomic.Int64

	wg sync.WaitGroup
}

func (b *base) init(config *Config, want Type) error {
	if config == nil {
		return fmt.Errorf("nil config for %s executor", want)
	}
	if config.Type != want {
		return fmt.Errorf("invalid config type: expected %s, got %s", want, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	b.typ = want
	b.config = config
	b.done = make(chan struct{})
	return nil
}

// begin records the start of Run and opens the execution window.
func (b *base) begin(ctx context.Context, pool *vu.Pool, runner *vu.Runner) (*window, error) {
	if b.config == nil {
		return nil, fmt.Errorf("%s executor used before Init", b.typ)
	}
	if pool == nil || runner == nil {
		return nil, fmt.Errorf("%s executor needs a VU pool and an iteration runner", b.typ)
	}
	b.pool, b.runner = pool, runner
	b.startNanos.Store(time.Now().UnixNano())
	b.running.Store(true)

	w := newWindow(ctx, b.config.TotalDuration(), b.config.GracefulStop)
	b.win.Store(w)
	if b.stopped.Load() {
		w.cancelSchedule()
	}
	return w, nil
}

// end waits for every VU goroutine and closes the window.
func (b *base) end(w *window) {
	b.wg.Wait()
	w.close()
	b.running.Store(false)
	close(b.done)
}

// record updates counters from an iteration result and reports whether the
// VU may continue with another iteration.
func (b *base) record(res vu.Result) bool {
	switch res.Outcome {
	case vu.Interrupted:
		b.interrupted.Add(1)
		return false
	case vu.Aborted:
		return false
	default:
		b.iterations.Add(1)
		return true
	}
}

func (b *base) startTime() time.Time {
	n := b.startNanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (b *base) elapsed() time.Duration {
	st := b.startTime()
	if st.IsZero() {
		return 0
	}
	return time.Since(st)
}

// Type returns the executor type.
func (b *base) Type() Type { return b.typ }

// ActiveVUs returns the number of VUs allowed to start iterations.
func (b *base) ActiveVUs() int { return int(b.activeVUs.Load()) }

// timeProgress is elapsed over the planned duration.
func (b *base) timeProgress() float64 {
	if !b.running.Load() {
		if b.startTime().IsZero() {
			return 0
		}
		return 1
	}
	total := b.config.TotalDuration()
	if total <= 0 {
		return 0
	}
	p := float64(b.elapsed()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

func (b *base) baseStats() *Stats {
	maxVUs := 0
	if b.config != nil {
		maxVUs = b.config.PeakVUs()
	}
	var total time.Duration
	if b.config != nil {
		total = b.config.TotalDuration()
	}
	return &Stats{
		StartTime:     b.startTime(),
		CurrentTime:   time.Now(),
		Elapsed:       b.elapsed(),
		TotalDuration: total,
		ActiveVUs:     b.ActiveVUs(),
		MaxVUs:        maxVUs,
		Iterations:    b.iterations.Load(),
		Interrupted:   b.interrupted.Load(),
		Dropped:       b.dropped.Load(),
	}
}

// Stop ends the schedule early and waits for Run to finish. Called before
// Run, it makes Run return as soon as it starts.
func (b *base) Stop(ctx context.Context) error {
	b.stopped.Store(true)
	w := b.win.Load()
	if w == nil {
		return nil
	}
	w.cancelSchedule()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// vuLoop runs iterations on v until the schedule ends, the VU is asked to
// stop, or claim refuses another iteration. iterCtx bounds each iteration.
func (b *base) vuLoop(w *window, iterCtx context.Context, v *vu.VU, claim func() bool) {
	for {
		if w.schedule.Err() != nil || v.Stopping() {
			return
		}
		if claim != nil && !claim() {
			return
		}
		if !b.record(b.runner.Run(iterCtx, v)) {
			return
		}
		if !pace(w.schedule, b.config.Pacing) {
			return
		}
	}
}

// pace sleeps between iterations. It returns false if ctx ended while waiting.
func pace(ctx context.Context, p *PacingConfig) bool {
	if p == nil {
		return true
	}

	var wait time.Duration
	switch p.Type {
	case PacingConstant:
		wait = p.Duration
	case PacingRandom:
		if diff := p.Max - p.Min; diff > 0 {
			wait = p.Min + time.Duration(rand.Int63n(int64(diff)))
		} else {
			wait = p.Min
		}
	}
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// startArrival starts one iteration on a free VU, or records it as dropped
// when the pool is exhausted.
func (b *base) startArrival(w *window) {
	v, ok := b.pool.TryGet()
	if !ok {
		b.dropped.Add(1)
		b.runner.RecordDropped()
		return
	}
	b.activeVUs.Add(1)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.pool.Put(v)
		defer b.activeVUs.Add(-1)
		b.record(b.runner.Run(w.iter, v))
	}()
}
