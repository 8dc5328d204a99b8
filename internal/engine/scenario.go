package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surge/internal/httpflow"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/threshold"
	"github.com/wesleyorama2/surge/internal/vu"
)

// runScenarios prepares pools and runners, then runs every scenario
// concurrently while the monitor and threshold loops run alongside.
func (e *Engine) runScenarios(ctx context.Context, abort context.CancelCauseFunc, data any) error {
	for _, s := range e.scenarios {
		if err := e.prepare(s, data, abort); err != nil {
			return err
		}
	}
	defer func() {
		for _, s := range e.scenarios {
			if s.pool != nil {
				s.pool.Close()
			}
		}
	}()

	if e.opts.Progress != nil {
		e.opts.Progress.PrintHeader(e.scenarioProgress())
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.monitor(monitorCtx)
	}()
	go func() {
		defer wg.Done()
		e.thresholds.Run(monitorCtx, e.elapsed, func(r threshold.Result) {
			abort(newRunError(ExitThresholdsFailed, "threshold %q on %s crossed (value %g)", r.Expression, r.Metric, r.Value))
		})
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range e.scenarios {
		s := s
		g.Go(func() error { return e.runScenario(gctx, s) })
	}
	err := g.Wait()

	stopMonitor()
	wg.Wait()
	e.tick()
	return err
}

func (e *Engine) prepare(s *scenarioRunner, data any, abort context.CancelCauseFunc) error {
	runner, err := vu.NewRunner(vu.RunnerConfig{
		Scenario: s.name,
		Exec:     s.exec,
		Tags:     metrics.Tags(s.config.Tags),
		Data:     data,
		Registry: e.registry,
		Builtin:  e.builtin,
		Logger:   e.logger,
		OnAbort: func(err error) {
			abort(&RunError{Code: ExitScriptAborted, Err: err})
		},
	})
	if err != nil {
		return &RunError{Code: ExitScriptError, Err: err}
	}
	s.runner = runner

	s.pool = vu.NewPool(s.name, s.execCfg.PeakVUs(), e.client, e.tracker)
	if e.clientCfg.DisableKeepAlives {
		cfg := e.clientCfg
		s.pool.SetClientFactory(func() *http.Client { return httpflow.NewClient(cfg) })
	}
	s.pool.Init(s.execCfg.InitialVUs())
	return nil
}

func (e *Engine) runScenario(ctx context.Context, s *scenarioRunner) error {
	log := e.logger.With("scenario", s.name)

	if d := s.execCfg.StartTime; d > 0 {
		log.Debugw("scenario waiting to start", "start_time", d)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-e.stopped:
			log.Infow("scenario skipped, test stopped")
			return nil
		case <-t.C:
		}
	}

	log.Infow("scenario started", "executor", s.executor.Type(), "max_vus", s.execCfg.PeakVUs())
	if err := s.executor.Run(ctx, s.pool, s.runner); err != nil {
		return fmt.Errorf("scenario %s: %w", s.name, err)
	}

	st := s.runner.Stats()
	log.Infow("scenario finished",
		"completed", st.Completed,
		"failed", st.Failed,
		"interrupted", st.Interrupted,
		"dropped", st.Dropped)
	return nil
}

func (e *Engine) monitor(ctx context.Context) {
	interval := e.opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick emits the VU gauges, records a timeline point and refreshes the
// live progress.
func (e *Engine) tick() metrics.Point {
	var active int64
	for _, s := range e.scenarios {
		active += int64(s.executor.ActiveVUs())
	}

	now := time.Now()
	e.registry.Push(
		metrics.Sample{Metric: e.builtin.VUs, Time: now, Value: float64(active)},
		metrics.Sample{Metric: e.builtin.VUsMax, Time: now, Value: float64(e.tracker.Initialized())},
	)

	p := e.timeline.Record(now, e.elapsed(), e.builtin.Totals())
	if e.opts.Progress != nil {
		e.opts.Progress.Update(e.liveStats(p))
	}
	return p
}

func (e *Engine) liveStats(p metrics.Point) *output.LiveStats {
	ls := &output.LiveStats{
		Elapsed:    p.Elapsed,
		ActiveVUs:  p.VUs,
		MaxVUs:     e.tracker.Initialized(),
		Iterations: p.Iterations,
		Requests:   p.Requests,
		Failures:   p.Failures,
		RPS:        p.IntervalRPS,
		P95:        metrics.ToDuration(p.P95),
		Scenarios:  e.scenarioProgress(),
	}
	if p.Requests > 0 {
		ls.ErrorRate = float64(p.Failures) / float64(p.Requests)
	}
	return ls
}

func (e *Engine) scenarioProgress() []output.ScenarioProgress {
	out := make([]output.ScenarioProgress, 0, len(e.scenarios))
	for _, s := range e.scenarios {
		sp := output.ScenarioProgress{
			Name:     s.name,
			Executor: string(s.executor.Type()),
			Progress: s.executor.Progress(),
		}
		if st := s.executor.Stats(); st.TotalStages > 0 {
			sp.Stage = st.CurrentStageName
			if sp.Stage == "" {
				sp.Stage = fmt.Sprintf("stage %d/%d", st.CurrentStage+1, st.TotalStages)
			}
		}
		out = append(out, sp)
	}
	return out
}
