package perf

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/engine"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/vu"
)

// Test document types.
type (
	Config          = config.TestConfig
	Settings        = config.GlobalSettings
	ScenarioConfig  = config.ScenarioConfig
	StageConfig     = config.StageConfig
	RequestConfig   = config.RequestConfig
	AssertionConfig = config.AssertionConfig
	ExtractConfig   = config.ExtractConfig
	ThresholdConfig = config.ThresholdConfig
	FlowConfig      = config.FlowConfig
	Options         = config.ExecutionOptions
	Duration        = config.Duration
)

// Runtime types.
type (
	State         = vu.State
	IterationFunc = vu.IterationFunc
	SetupFunc     = engine.SetupFunc
	TeardownFunc  = engine.TeardownFunc
	Result        = engine.Result
	RunError      = engine.RunError
	Output        = output.Output
	Sample        = metrics.Sample
	Metric        = metrics.Metric
	MetricType    = metrics.MetricType
	ValueType     = metrics.ValueType
	Tags          = metrics.Tags
)

// Metric types.
const (
	Counter = metrics.Counter
	Gauge   = metrics.Gauge
	Rate    = metrics.Rate
	Trend   = metrics.Trend
)

// Value types.
const (
	Default = metrics.Default
	Time    = metrics.Time
	Data    = metrics.Data
)

// Load reads a YAML or JSON test document.
func Load(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// Parse decodes a test document; filename selects the format by extension.
func Parse(data []byte, filename string) (*Config, error) {
	return config.ParseConfig(data, filename)
}

// Test is a configured, runnable load test.
type Test struct {
	cfg  *Config
	opts engine.Options
}

// Option configures a Test.
type Option func(*Test)

// New creates a test from cfg.
func New(cfg *Config, opts ...Option) *Test {
	t := &Test{cfg: cfg, opts: engine.Options{Execs: make(map[string]IterationFunc)}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// WithExec registers fn under name for scenarios that set exec: name.
func WithExec(name string, fn IterationFunc) Option {
	return func(t *Test) { t.opts.Execs[name] = fn }
}

// WithSetup runs fn before the scenarios. Its result is State.Data.
func WithSetup(fn SetupFunc) Option {
	return func(t *Test) { t.opts.Setup = fn }
}

// WithTeardown runs fn after the scenarios with the setup data.
func WithTeardown(fn TeardownFunc) Option {
	return func(t *Test) { t.opts.Teardown = fn }
}

// WithOutputs streams samples to outs in addition to the document outputs.
func WithOutputs(outs ...Output) Option {
	return func(t *Test) { t.opts.Outputs = append(t.opts.Outputs, outs...) }
}

// WithLogger sets the logger. Runs are silent by default.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(t *Test) { t.opts.Logger = l }
}

// WithMetric declares a custom metric. Iterations find it with
// st.Metrics.Get(name) and record into it with st.Add.
func WithMetric(name string, typ MetricType, contains ...ValueType) Option {
	return func(t *Test) {
		def := engine.MetricDef{Name: name, Type: typ}
		if len(contains) > 0 {
			def.Contains = contains[0]
		}
		t.opts.Metrics = append(t.opts.Metrics, def)
	}
}

// WithProgress prints live progress to w.
func WithProgress(w io.Writer) Option {
	return func(t *Test) {
		name := ""
		if t.cfg != nil {
			name = t.cfg.Name
		}
		t.opts.Progress = output.NewProgress(output.ProgressConfig{TestName: name, Writer: w, NoColor: true})
	}
}

// Run executes the test. Each call is an independent run with fresh
// metrics. A returned error carries an exit code, see ExitCode.
func (t *Test) Run(ctx context.Context) (*Result, error) {
	eng, err := engine.New(t.cfg, t.opts)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	return int(engine.ExitCodeOf(err))
}

// WriteSummary prints the end-of-test summary of res without colors.
func WriteSummary(w io.Writer, res *Result) {
	if res == nil || res.Summary == nil {
		return
	}
	output.WriteSummary(w, res.Summary, output.SummaryOptions{Colors: output.NoColorScheme()})
}
