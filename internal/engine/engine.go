// Package engine orchestrates a load test: setup, concurrently running
// scenarios, threshold evaluation, teardown and the final summary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/executor"
	"github.com/wesleyorama2/surge/internal/httpflow"
	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/threshold"
	"github.com/wesleyorama2/surge/internal/vu"
)

// DefaultTickInterval is how often the VU gauges, the timeline and the
// live progress are refreshed.
const DefaultTickInterval = time.Second

// SetupFunc runs once before any scenario starts. Its result is handed to
// every iteration as State.Data and to teardown.
type SetupFunc func(ctx context.Context, st *vu.State) (any, error)

// TeardownFunc runs once after every scenario has finished.
type TeardownFunc func(ctx context.Context, st *vu.State, data any) error

// MetricDef declares a custom metric.
type MetricDef struct {
	Name     string
	Type     metrics.MetricType
	Contains metrics.ValueType
}

// Options configures an Engine beyond the test document.
type Options struct {
	// Execs are Go iteration functions scenarios can name in exec.
	Execs map[string]vu.IterationFunc

	// Setup and Teardown replace the setup and teardown request flows.
	Setup    SetupFunc
	Teardown TeardownFunc

	Metrics []MetricDef

	// Outputs are added to the ones declared in the document.
	Outputs []output.Output

	// Progress, when set, is refreshed every tick.
	Progress *output.Progress

	Logger *zap.SugaredLogger

	TickInterval      time.Duration
	ThresholdInterval time.Duration
	FlushInterval     time.Duration
}

// Engine runs one test.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	eng, _ := engine.New(cfg, engine.Options{})
//	res, err := eng.Run(ctx)
//	os.Exit(int(engine.ExitCodeOf(err)))
type Engine struct {
	config *config.TestConfig
	opts   Options
	logger *zap.SugaredLogger
	runID  string

	registry   *metrics.Registry
	builtin    *metrics.BuiltinMetrics
	thresholds *threshold.Evaluator
	tally      *output.CheckTally
	timeline   *metrics.Timeline
	outputs    []output.Output
	trendPcts  []float64

	tracker   *vu.Tracker
	client    *http.Client
	clientCfg httpflow.ClientConfig
	limiter   ratelimit.Limiter

	setupFlow    *httpflow.Flow
	teardownFlow *httpflow.Flow
	scenarios    []*scenarioRunner

	mu        sync.RWMutex
	started   bool
	startTime time.Time
	stopCause *RunError
	stopOnce  sync.Once
	stopped   chan struct{}
}

// scenarioRunner ties a scenario to its executor, pool and runner.
type scenarioRunner struct {
	name     string
	config   *config.ScenarioConfig
	execCfg  *executor.Config
	executor executor.Executor
	exec     vu.IterationFunc
	pool     *vu.Pool
	runner   *vu.Runner
}

// Result is the outcome of a run.
type Result struct {
	Summary *output.Summary
	// SetupData is what setup returned.
	SetupData any
}

// Passed reports whether the run ended without error and every threshold
// passed.
func (r *Result) Passed() bool {
	return r != nil && r.Summary != nil && r.Summary.Passed
}

// New validates cfg and prepares every scenario. Configuration problems are
// returned as a *RunError with ExitInvalidConfig, a missing exec function
// with ExitScriptError.
func New(cfg *config.TestConfig, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, newRunError(ExitInvalidConfig, "no test configuration")
	}
	config.ApplyDefaults(cfg)

	execs := make(map[string]bool, len(opts.Execs))
	for name := range opts.Execs {
		execs[name] = true
	}
	custom := make(map[string]bool, len(opts.Metrics))
	for _, m := range opts.Metrics {
		custom[m.Name] = true
	}
	if err := cfg.ValidateWith(config.ValidateOptions{Execs: execs, Metrics: custom}); err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: fmt.Errorf("invalid configuration: %w", err)}
	}

	e := &Engine{
		config:   cfg,
		opts:     opts,
		runID:    output.NewRunID(),
		registry: metrics.NewRegistry(),
		timeline: metrics.NewTimeline(0),
		tracker:  &vu.Tracker{},
		stopped:  make(chan struct{}),
	}
	e.logger = logging.OrNop(opts.Logger).With("run_id", e.runID)
	e.builtin = metrics.RegisterBuiltinMetrics(e.registry)
	e.tally = output.NewCheckTally(e.builtin.Checks)
	e.registry.AddListener(e.tally)

	if err := e.registerMetrics(); err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: err}
	}

	pcts, err := output.ParseTrendStats(cfg.Options.SummaryTrendStats)
	if err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: fmt.Errorf("options.summaryTrendStats: %w", err)}
	}
	e.trendPcts = pcts

	if err := e.buildThresholds(); err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: err}
	}
	if err := e.buildOutputs(); err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: err}
	}

	e.clientCfg = httpflow.ClientConfigFrom(&cfg.Settings, cfg.Options.NoConnectionReuse)
	e.client = httpflow.NewClient(e.clientCfg)
	if cfg.Settings.RPS > 0 {
		e.limiter = ratelimit.New(cfg.Settings.RPS)
	}

	if err := e.buildHooks(); err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: err}
	}
	for _, name := range cfg.ScenarioNames() {
		s, err := e.buildScenario(name, cfg.Scenarios[name])
		if err != nil {
			return nil, err
		}
		e.scenarios = append(e.scenarios, s)
	}

	return e, nil
}

func (e *Engine) registerMetrics() error {
	for i, m := range e.config.Metrics {
		typ, err := metrics.ParseMetricType(m.Type)
		if err != nil {
			return fmt.Errorf("metrics[%d]: %w", i, err)
		}
		contains := metrics.Default
		if m.Contains != "" {
			if contains, err = metrics.ParseValueType(m.Contains); err != nil {
				return fmt.Errorf("metrics[%d]: %w", i, err)
			}
		}
		if _, err := e.registry.NewMetric(m.Name, typ, contains); err != nil {
			return fmt.Errorf("metrics[%d]: %w", i, err)
		}
	}
	for _, m := range e.opts.Metrics {
		if _, err := e.registry.NewMetric(m.Name, m.Type, m.Contains); err != nil {
			return fmt.Errorf("metric %s: %w", m.Name, err)
		}
	}
	return nil
}

func (e *Engine) buildThresholds() error {
	defs := make(map[string][]threshold.Definition, len(e.config.Thresholds))
	for key, list := range e.config.Thresholds {
		for i, th := range list {
			delay, err := config.ParseDurationString(th.DelayAbortEval)
			if err != nil {
				return fmt.Errorf("thresholds.%s[%d].delayAbortEval: %w", key, i, err)
			}
			defs[key] = append(defs[key], threshold.Definition{
				Expression:     th.Threshold,
				AbortOnFail:    th.AbortOnFail,
				DelayAbortEval: delay,
			})
		}
	}

	ev, err := threshold.NewEvaluator(e.registry, defs, e.logger)
	if err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	ev.SetInterval(e.opts.ThresholdInterval)
	e.thresholds = ev
	return nil
}

func (e *Engine) buildOutputs() error {
	for i, oc := range e.config.Outputs {
		out, err := output.New(oc.Type, output.Params{
			Target:   oc.Target,
			RunID:    e.runID,
			Registry: e.registry,
			Logger:   e.logger,
		})
		if err != nil {
			return fmt.Errorf("outputs[%d]: %w", i, err)
		}
		e.outputs = append(e.outputs, out)
	}
	e.outputs = append(e.outputs, e.opts.Outputs...)
	return nil
}

func (e *Engine) flowOptions(vars map[string]string) httpflow.Options {
	return httpflow.Options{
		Settings:  &e.config.Settings,
		Variables: vars,
		Limiter:   e.limiter,
		Logger:    e.logger,
	}
}

func (e *Engine) buildHooks() error {
	var err error
	if e.opts.Setup == nil && e.config.Setup != nil && len(e.config.Setup.Requests) > 0 {
		e.setupFlow, err = httpflow.Compile(e.config.Setup.Requests, e.flowOptions(e.config.Variables))
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	if e.opts.Teardown == nil && e.config.Teardown != nil && len(e.config.Teardown.Requests) > 0 {
		e.teardownFlow, err = httpflow.Compile(e.config.Teardown.Requests, e.flowOptions(e.config.Variables))
		if err != nil {
			return fmt.Errorf("teardown: %w", err)
		}
	}
	return nil
}

func (e *Engine) buildScenario(name string, sc *config.ScenarioConfig) (*scenarioRunner, error) {
	execCfg, err := config.ConvertToExecutorConfig(name, sc)
	if err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: fmt.Errorf("scenarios.%s: %w", name, err)}
	}

	s := &scenarioRunner{name: name, config: sc, execCfg: execCfg}

	switch {
	case sc.Exec != "":
		fn, ok := e.opts.Execs[sc.Exec]
		if !ok || fn == nil {
			return nil, newRunError(ExitScriptError, "scenarios.%s: exec function %q not found", name, sc.Exec)
		}
		s.exec = fn
	case len(sc.Requests) > 0:
		vars := config.MergeVariables(e.config.Variables, sc.Variables)
		flow, err := httpflow.Compile(sc.Requests, e.flowOptions(vars))
		if err != nil {
			return nil, &RunError{Code: ExitInvalidConfig, Err: fmt.Errorf("scenarios.%s: %w", name, err)}
		}
		s.exec = flow.Iteration()
		e.logger.Debugw("scenario compiled", "scenario", name, "requests", flow.Len())
	default:
		return nil, newRunError(ExitScriptError, "scenarios.%s: no exec function or requests", name)
	}

	s.executor, err = executor.CreateAndInitExecutor(context.Background(), execCfg)
	if err != nil {
		return nil, &RunError{Code: ExitInvalidConfig, Err: fmt.Errorf("scenarios.%s: %w", name, err)}
	}
	return s, nil
}

// RunID identifies this run in logs and outputs.
func (e *Engine) RunID() string { return e.runID }

// Registry is the metrics registry every sample goes to.
func (e *Engine) Registry() *metrics.Registry { return e.registry }

// Builtin returns the built-in metrics.
func (e *Engine) Builtin() *metrics.BuiltinMetrics { return e.builtin }

// ScenarioNames lists the scenarios in start order.
func (e *Engine) ScenarioNames() []string {
	names := make([]string, len(e.scenarios))
	for i, s := range e.scenarios {
		names[i] = s.name
	}
	return names
}

// Stop ends every scenario's schedule. Iterations in flight get their
// gracefulStop to finish, scenarios still waiting on startTime never start,
// and teardown and the final threshold evaluation run as usual. The run
// then reports ExitExternalAbort. Stop waits for the executors to wind
// down or ctx to end.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopCause = newRunError(ExitExternalAbort, "test stopped")
		e.mu.Unlock()
		close(e.stopped)
		e.logger.Warnw("stopping test, waiting for in-flight iterations")
	})

	var g errgroup.Group
	for _, s := range e.scenarios {
		s := s
		g.Go(func() error { return s.executor.Stop(ctx) })
	}
	return g.Wait()
}

func (e *Engine) elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// Run executes the test. An Engine runs at most once.
//
// The returned Result is non-nil whenever the run got as far as starting
// its outputs, including when err is set. Cancelling ctx stops every
// scenario; teardown still runs and err carries ExitExternalAbort.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.started = true
	e.mu.Unlock()

	manager := output.NewManager(e.logger, e.outputs...)
	if e.opts.FlushInterval > 0 {
		manager.SetFlushInterval(e.opts.FlushInterval)
	}
	if err := manager.Start(); err != nil {
		return nil, fmt.Errorf("start outputs: %w", err)
	}
	e.registry.AddListener(manager)
	for _, o := range manager.Outputs() {
		e.logger.Infow("output started", "output", o.Description())
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()
	e.logger.Infow("starting test", "name", e.config.Name, "scenarios", len(e.scenarios))

	res := &Result{}
	var setupErr, scenarioErr, teardownErr error

	data, setupErr := e.runSetup(runCtx)
	if setupErr == nil {
		res.SetupData = data
		scenarioErr = e.runScenarios(runCtx, cancel, data)
		teardownErr = e.runTeardown(ctx, data)
	}

	var abortErr *RunError
	if cause := context.Cause(runCtx); cause != nil {
		if !errors.As(cause, &abortErr) {
			abortErr = &RunError{Code: ExitExternalAbort, Err: cause}
		}
	} else {
		e.mu.RLock()
		abortErr = e.stopCause
		e.mu.RUnlock()
	}

	elapsed := e.elapsed()
	results := e.thresholds.Evaluate(elapsed)
	passed := threshold.Passed(results)

	if e.opts.Progress != nil {
		e.opts.Progress.Finish()
	}
	if err := manager.Stop(); err != nil {
		e.logger.Errorw("failed to stop outputs", "error", err)
	}

	var runErr error
	switch {
	case abortErr != nil:
		runErr = abortErr
	case setupErr != nil:
		runErr = setupErr
	case scenarioErr != nil:
		runErr = scenarioErr
		if !errors.As(scenarioErr, new(*RunError)) {
			runErr = &RunError{Code: ExitGeneric, Err: scenarioErr}
		}
	case teardownErr != nil:
		runErr = teardownErr
	case !passed:
		runErr = newRunError(ExitThresholdsFailed, "some thresholds have failed")
	}

	res.Summary = e.summary(elapsed, results, runErr, abortErr)
	if runErr != nil {
		e.logger.Warnw("test finished with errors", "error", runErr, "exit_code", int(ExitCodeOf(runErr)))
	} else {
		e.logger.Infow("test finished", "duration", elapsed)
	}
	return res, runErr
}

func (e *Engine) summary(elapsed time.Duration, results []threshold.Result, runErr error, abortErr *RunError) *output.Summary {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	s := &output.Summary{
		RunID:      e.runID,
		Name:       e.config.Name,
		StartTime:  start,
		EndTime:    start.Add(elapsed),
		Duration:   elapsed,
		Passed:     runErr == nil,
		Aborted:    abortErr != nil,
		Checks:     e.tally.Results(),
		Thresholds: results,
		Metrics:    e.registry.Snapshot(elapsed, e.trendPcts...),
		Timeline:   e.timeline.Points(),
	}
	if abortErr != nil {
		s.AbortReason = abortErr.Error()
	}
	for _, sc := range e.scenarios {
		ss := output.ScenarioSummary{Name: sc.name, Executor: string(sc.executor.Type())}
		if sc.runner != nil {
			ss.RunnerStats = sc.runner.Stats()
		}
		s.Scenarios = append(s.Scenarios, ss)
	}
	return s
}

// hookState is the State handed to setup and teardown.
func (e *Engine) hookState(name string, data any) *vu.State {
	tags := metrics.Tags{"scenario": name}
	return &vu.State{
		VU:       vu.New(0, 0, name, e.client),
		Scenario: name,
		Tags:     tags,
		Data:     data,
		HTTP:     e.client,
		Logger:   e.logger.With("scenario", name),
		Metrics:  e.registry,
		Builtin:  e.builtin,
	}
}

func (e *Engine) runSetup(ctx context.Context) (any, error) {
	if e.opts.Setup == nil && e.setupFlow == nil {
		return nil, nil
	}

	timeout := e.config.Options.SetupTimeout.GetDuration(config.DefaultSetupTimeout)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st := e.hookState("setup", nil)
	var data any
	err := protect(func() error {
		var err error
		if e.opts.Setup != nil {
			data, err = e.opts.Setup(sctx, st)
			return err
		}
		data, err = e.setupFlow.Run(sctx, st, nil)
		return err
	})

	switch {
	case err == nil:
		e.logger.Debugw("setup finished")
		return data, nil
	case ctx.Err() != nil:
		return nil, &RunError{Code: ExitExternalAbort, Err: fmt.Errorf("setup interrupted: %w", err)}
	case vu.IsAbort(err):
		return nil, &RunError{Code: ExitScriptAborted, Err: err}
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		return nil, newRunError(ExitSetupFailed, "setup timed out after %s", timeout)
	default:
		return nil, &RunError{Code: ExitSetupFailed, Err: fmt.Errorf("setup: %w", err)}
	}
}

// runTeardown runs even when the run was aborted, so it is bounded only
// by teardownTimeout.
func (e *Engine) runTeardown(ctx context.Context, data any) error {
	if e.opts.Teardown == nil && e.teardownFlow == nil {
		return nil
	}

	timeout := e.config.Options.TeardownTimeout.GetDuration(config.DefaultTeardownTimeout)
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	st := e.hookState("teardown", data)
	err := protect(func() error {
		if e.opts.Teardown != nil {
			return e.opts.Teardown(tctx, st, data)
		}
		_, err := e.teardownFlow.Run(tctx, st, nil)
		return err
	})

	switch {
	case err == nil:
		e.logger.Debugw("teardown finished")
		return nil
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return newRunError(ExitTeardownFailed, "teardown timed out after %s", timeout)
	default:
		return &RunError{Code: ExitTeardownFailed, Err: fmt.Errorf("teardown: %w", err)}
	}
}

func protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
