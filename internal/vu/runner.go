package vu

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
)

// Outcome classifies how an iteration ended.
type Outcome int

const (
	// Completed iterations returned nil.
	Completed Outcome = iota
	// Failed iterations returned an error or panicked.
	Failed
	// Interrupted iterations had their context cancelled before returning.
	Interrupted
	// Aborted iterations asked for the whole test to stop.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result describes a single iteration.
type Result struct {
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Scenario string
	Exec     IterationFunc
	// Tags are the scenario tags; the scenario name is added automatically.
	Tags     metrics.Tags
	Data     any
	Registry *metrics.Registry
	Builtin  *metrics.BuiltinMetrics
	Logger   *zap.SugaredLogger
	// OnAbort is called for every iteration that returns an AbortError.
	OnAbort func(err error)
}

// Runner executes iterations of one scenario.
//
// # Thread Safety
//
// Runner is safe for concurrent use; every VU of the scenario shares one.
type Runner struct {
	cfg    RunnerConfig
	tags   metrics.Tags
	logger *zap.SugaredLogger

	next        atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	interrupted atomic.Int64
	dropped     atomic.Int64
}

// NewRunner creates a runner. Exec must not be nil.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Exec == nil {
		return nil, fmt.Errorf("scenario %q has no exec function", cfg.Scenario)
	}
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}
	if cfg.Builtin == nil {
		cfg.Builtin = metrics.RegisterBuiltinMetrics(cfg.Registry)
	}
	return &Runner{
		cfg:    cfg,
		tags:   cfg.Tags.With("scenario", cfg.Scenario),
		logger: logging.OrNop(cfg.Logger).With("scenario", cfg.Scenario),
	}, nil
}

// Scenario returns the scenario name.
func (r *Runner) Scenario() string { return r.cfg.Scenario }

// Run executes one iteration on v. ctx bounds the iteration itself; its
// cancellation interrupts the user function.
func (r *Runner) Run(ctx context.Context, v *VU) Result {
	st := &State{
		VU:                v,
		Scenario:          r.cfg.Scenario,
		Iteration:         v.Iterations(),
		ScenarioIteration: r.next.Add(1) - 1,
		Tags:              r.tags,
		Data:              r.cfg.Data,
		HTTP:              v.HTTP,
		Logger:            r.logger.With("vu", v.ID),
		Metrics:           r.cfg.Registry,
		Builtin:           r.cfg.Builtin,
	}

	start := time.Now()
	err := r.call(ctx, st)
	res := Result{Duration: time.Since(start), Err: err}

	switch {
	case IsAbort(err):
		res.Outcome = Aborted
		r.logger.Warnw("iteration aborted the test", "vu", v.ID, "error", err)
		if r.cfg.OnAbort != nil {
			r.cfg.OnAbort(err)
		}
		return res
	case ctx.Err() != nil:
		res.Outcome = Interrupted
		r.interrupted.Add(1)
		v.iterations.Add(1)
		return res
	case err != nil:
		res.Outcome = Failed
		r.failed.Add(1)
		var fe *FailError
		if errors.As(err, &fe) {
			r.logger.Debugw("iteration failed", "vu", v.ID, "error", err)
		} else {
			r.logger.Warnw("iteration error", "vu", v.ID, "error", err)
		}
	default:
		res.Outcome = Completed
		r.completed.Add(1)
	}

	v.iterations.Add(1)
	now := time.Now()
	r.cfg.Registry.Push(
		metrics.Sample{Metric: r.cfg.Builtin.Iterations, Time: now, Value: 1, Tags: r.tags},
		metrics.Sample{Metric: r.cfg.Builtin.IterationDuration, Time: now, Value: metrics.D(res.Duration), Tags: r.tags},
	)
	return res
}

func (r *Runner) call(ctx context.Context, st *State) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in iteration: %v", p)
		}
	}()
	return r.cfg.Exec(ctx, st)
}

// RecordDropped emits a dropped_iterations sample for an iteration that
// could not start because no VU was available.
func (r *Runner) RecordDropped() {
	r.dropped.Add(1)
	r.cfg.Registry.Push(metrics.NewSample(r.cfg.Builtin.DroppedIterations, 1, r.tags))
}

// RunnerStats counts iteration outcomes.
type RunnerStats struct {
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Interrupted int64 `json:"interrupted"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns outcome counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Completed:   r.completed.Load(),
		Failed:      r.failed.Load(),
		Interrupted: r.interrupted.Load(),
		Dropped:     r.dropped.Load(),
	}
}
