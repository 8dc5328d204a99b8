package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/vu"
)

func parse(t *testing.T, doc string) *config.TestConfig {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(doc), "test.yaml")
	require.NoError(t, err)
	return cfg
}

// memOutput collects every sample it is given.
type memOutput struct {
	mu      sync.Mutex
	started bool
	stopped bool
	samples []metrics.Sample
}

func (m *memOutput) Description() string { return "memory" }

func (m *memOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *memOutput) AddSamples(s []metrics.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s...)
}

func (m *memOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *memOutput) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.samples {
		if s.Metric.Name == name {
			n++
		}
	}
	return n
}

func metricValue(t *testing.T, res *Result, name, key string) float64 {
	t.Helper()
	require.NotNil(t, res)
	require.NotNil(t, res.Summary)
	m, ok := res.Summary.Metrics.Get(name)
	require.True(t, ok, "metric %s missing from snapshot", name)
	return m.Values[key]
}

const sharedDoc = `
name: shared
scenarios:
  work:
    executor: shared-iterations
    exec: work
    vus: 3
    iterations: 12
`

func TestEngine_RunsGoExec(t *testing.T) {
	var calls atomic.Int64
	out := &memOutput{}

	eng, err := New(parse(t, sharedDoc), Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				calls.Add(1)
				st.Check("ran", true)
				return nil
			},
		},
		Outputs:       []output.Output{out},
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, eng.ScenarioNames())
	assert.NotEmpty(t, eng.RunID())

	res, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())

	assert.Equal(t, int64(12), calls.Load())
	assert.Equal(t, 12.0, metricValue(t, res, "iterations", "count"))

	require.Len(t, res.Summary.Scenarios, 1)
	sc := res.Summary.Scenarios[0]
	assert.Equal(t, "work", sc.Name)
	assert.Equal(t, "shared-iterations", sc.Executor)
	assert.Equal(t, int64(12), sc.Completed)

	assert.Equal(t, []output.CheckResult{{Name: "ran", Passes: 12}}, res.Summary.Checks)
	assert.Equal(t, "shared", res.Summary.Name)
	assert.NotEmpty(t, res.Summary.Timeline, "a final timeline point is always recorded")

	assert.True(t, out.started)
	assert.True(t, out.stopped)
	assert.Equal(t, 12, out.count("iterations"))
	assert.Equal(t, 3.0, metricValue(t, res, "vus_max", "max"))
}

func TestEngine_RunsOnce(t *testing.T) {
	eng, err := New(parse(t, sharedDoc), Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error { return nil },
		},
	})
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.NoError(t, err)
	_, err = eng.Run(context.Background())
	assert.Error(t, err)
}

func TestEngine_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no scenarios", "name: empty\n"},
		{"unknown exec", `
scenarios:
  a:
    executor: shared-iterations
    exec: missing
    vus: 1
    iterations: 1
`},
		{"bad threshold", `
scenarios:
  a:
    executor: shared-iterations
    exec: work
    vus: 1
    iterations: 1
thresholds:
  http_req_duration: ["count < 10"]
`},
		{"bad trend stat", `
scenarios:
  a:
    executor: shared-iterations
    exec: work
    vus: 1
    iterations: 1
options:
  summaryTrendStats: ["avg", "p(abc)"]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(parse(t, tt.doc), Options{
				Execs: map[string]vu.IterationFunc{
					"work": func(ctx context.Context, st *vu.State) error { return nil },
				},
			})
			require.Error(t, err)
			assert.Equal(t, ExitInvalidConfig, ExitCodeOf(err))
		})
	}

	_, err := New(nil, Options{})
	assert.Equal(t, ExitInvalidConfig, ExitCodeOf(err))
}

func TestEngine_ThresholdsFail(t *testing.T) {
	cfg := parse(t, sharedDoc+`
thresholds:
  iterations: ["count < 5"]
  checks: ["rate == 1"]
`)
	eng, err := New(cfg, Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				st.Check("ok", true)
				return nil
			},
		},
	})
	require.NoError(t, err)

	res, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitThresholdsFailed, ExitCodeOf(err))
	assert.False(t, res.Passed())
	assert.False(t, res.Summary.Aborted)

	require.Len(t, res.Summary.Thresholds, 2)
	for _, r := range res.Summary.Thresholds {
		switch r.Metric {
		case "iterations":
			assert.False(t, r.Passed)
			assert.Equal(t, 12.0, r.Value)
		case "checks":
			assert.True(t, r.Passed)
		}
	}
}

func TestEngine_ThresholdAbort(t *testing.T) {
	cfg := parse(t, `
scenarios:
  soak:
    executor: constant-vus
    exec: work
    vus: 2
    duration: 1m
    gracefulStop: 1s
thresholds:
  iterations:
    - threshold: "count < 5"
      abortOnFail: true
`)
	eng, err := New(cfg, Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				return st.Sleep(ctx, 5*time.Millisecond)
			},
		},
		ThresholdInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	res, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, ExitThresholdsFailed, ExitCodeOf(err))
	assert.True(t, res.Summary.Aborted)
	assert.Contains(t, res.Summary.AbortReason, "count < 5")
}

func TestEngine_ScriptAbort(t *testing.T) {
	cfg := parse(t, `
scenarios:
  loop:
    executor: constant-vus
    exec: work
    vus: 1
    duration: 1m
`)
	eng, err := New(cfg, Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				if st.Iteration == 2 {
					return st.Abort("enough")
				}
				return nil
			},
		},
	})
	require.NoError(t, err)

	res, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitScriptAborted, ExitCodeOf(err))
	assert.True(t, vu.IsAbort(err))
	assert.True(t, res.Summary.Aborted)
	assert.Equal(t, 2.0, metricValue(t, res, "iterations", "count"))
}

func TestEngine_ExternalAbortStillTearsDown(t *testing.T) {
	cfg := parse(t, `
scenarios:
  loop:
    executor: constant-vus
    exec: work
    vus: 2
    duration: 1m
`)
	var tornDown atomic.Bool
	eng, err := New(cfg, Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				return st.Sleep(ctx, 10*time.Millisecond)
			},
		},
		Teardown: func(ctx context.Context, st *vu.State, data any) error {
			require.NoError(t, ctx.Err())
			tornDown.Store(true)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := eng.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, ExitExternalAbort, ExitCodeOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, res.Summary.Aborted)
	assert.True(t, tornDown.Load())
}

func TestEngine_StopIsGraceful(t *testing.T) {
	cfg := parse(t, `
scenarios:
  loop:
    executor: constant-vus
    exec: work
    vus: 2
    duration: 1m
    gracefulStop: 5s
  late:
    executor: shared-iterations
    exec: late
    vus: 1
    iterations: 1
    startTime: 1m
`)
	var lateRan, tornDown atomic.Bool
	eng, err := New(cfg, Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				return st.Sleep(ctx, 150*time.Millisecond)
			},
			"late": func(ctx context.Context, st *vu.State) error {
				lateRan.Store(true)
				return nil
			},
		},
		Teardown: func(ctx context.Context, st *vu.State, data any) error {
			tornDown.Store(true)
			return nil
		},
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, eng.Stop(ctx))
	}()

	start := time.Now()
	res, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, ExitExternalAbort, ExitCodeOf(err))
	assert.True(t, res.Summary.Aborted)
	assert.True(t, tornDown.Load())
	assert.False(t, lateRan.Load())

	for _, sc := range res.Summary.Scenarios {
		if sc.Name == "loop" {
			assert.Equal(t, int64(2), sc.Completed)
			assert.Zero(t, sc.Interrupted)
		}
	}
}

func TestEngine_SetupDataReachesIterationsAndTeardown(t *testing.T) {
	var seen sync.Map
	var teardownData any

	eng, err := New(parse(t, sharedDoc), Options{
		Setup: func(ctx context.Context, st *vu.State) (any, error) {
			assert.Equal(t, "setup", st.Scenario)
			return map[string]string{"token": "abc"}, nil
		},
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				data, _ := st.Data.(map[string]string)
				seen.Store(data["token"], true)
				return nil
			},
		},
		Teardown: func(ctx context.Context, st *vu.State, data any) error {
			teardownData = data
			return nil
		},
	})
	require.NoError(t, err)

	res, err := eng.Run(context.Background())
	require.NoError(t, err)

	_, ok := seen.Load("abc")
	assert.True(t, ok)
	n := 0
	seen.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n, "every iteration sees the same setup data")

	assert.Equal(t, map[string]string{"token": "abc"}, teardownData)
	assert.Equal(t, map[string]string{"token": "abc"}, res.SetupData)
}

func TestEngine_SetupFailure(t *testing.T) {
	var ran, tornDown atomic.Bool
	eng, err := New(parse(t, sharedDoc), Options{
		Setup: func(ctx context.Context, st *vu.State) (any, error) {
			return nil, errors.New("database unreachable")
		},
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				ran.Store(true)
				return nil
			},
		},
		Teardown: func(ctx context.Context, st *vu.State, data any) error {
			tornDown.Store(true)
			return nil
		},
	})
	require.NoError(t, err)

	res, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitSetupFailed, ExitCodeOf(err))
	assert.Contains(t, err.Error(), "database unreachable")
	assert.False(t, ran.Load())
	assert.False(t, tornDown.Load(), "teardown is skipped when setup fails")
	assert.False(t, res.Passed())
}

func TestEngine_SetupTimeout(t *testing.T) {
	cfg := parse(t, sharedDoc+`
options:
  setupTimeout: 50ms
`)
	eng, err := New(cfg, Options{
		Setup: func(ctx context.Context, st *vu.State) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error { return nil },
		},
	})
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitSetupFailed, ExitCodeOf(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestEngine_SetupPanic(t *testing.T) {
	eng, err := New(parse(t, sharedDoc), Options{
		Setup: func(ctx context.Context, st *vu.State) (any, error) {
			panic("bad fixture")
		},
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error { return nil },
		},
	})
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	assert.Equal(t, ExitSetupFailed, ExitCodeOf(err))
	assert.Contains(t, err.Error(), "bad fixture")
}

func TestEngine_TeardownFailure(t *testing.T) {
	eng, err := New(parse(t, sharedDoc), Options{
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error { return nil },
		},
		Teardown: func(ctx context.Context, st *vu.State, data any) error {
			return errors.New("cleanup failed")
		},
	})
	require.NoError(t, err)

	res, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitTeardownFailed, ExitCodeOf(err))
	assert.Equal(t, 12.0, metricValue(t, res, "iterations", "count"))
}

func TestEngine_StartTimeDelaysScenario(t *testing.T) {
	cfg := parse(t, `
scenarios:
  first:
    executor: shared-iterations
    exec: first
    vus: 1
    iterations: 1
  later:
    executor: shared-iterations
    exec: later
    vus: 1
    iterations: 1
    startTime: 200ms
`)
	var firstAt, laterAt atomic.Int64
	eng, err := New(cfg, Options{
		Execs: map[string]vu.IterationFunc{
			"first": func(ctx context.Context, st *vu.State) error {
				firstAt.Store(time.Now().UnixNano())
				return nil
			},
			"later": func(ctx context.Context, st *vu.State) error {
				laterAt.Store(time.Now().UnixNano())
				return nil
			},
		},
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = eng.Run(context.Background())
	require.NoError(t, err)

	require.NotZero(t, laterAt.Load())
	assert.GreaterOrEqual(t, time.Duration(laterAt.Load()-start.UnixNano()), 200*time.Millisecond)
	assert.Less(t, time.Duration(firstAt.Load()-start.UnixNano()), 200*time.Millisecond)
}

func TestEngine_CustomMetrics(t *testing.T) {
	cfg := parse(t, sharedDoc+`
metrics:
  - name: cart_size
    type: trend
thresholds:
  cart_size: ["avg < 10"]
  orders: ["count == 12"]
`)
	eng, err := New(cfg, Options{
		Metrics: []MetricDef{{Name: "orders", Type: metrics.Counter}},
		Execs: map[string]vu.IterationFunc{
			"work": func(ctx context.Context, st *vu.State) error {
				st.Add(st.Metrics.Get("cart_size"), 3, nil)
				st.Add(st.Metrics.Get("orders"), 1, nil)
				return nil
			},
		},
	})
	require.NoError(t, err)

	res, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.0, metricValue(t, res, "cart_size", "avg"))
	assert.Equal(t, 12.0, metricValue(t, res, "orders", "count"))
}

func TestEngine_RequestFlowWithSetup(t *testing.T) {
	var items atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"xyz"}`))
		case "/items":
			if r.Header.Get("Authorization") != "Bearer xyz" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			items.Add(1)
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := parse(t, `
name: api
settings:
  baseUrl: `+srv.URL+`
setup:
  requests:
    - name: login
      method: POST
      url: /login
      extract:
        - name: token
          source: body
          path: $.token
scenarios:
  browse:
    executor: shared-iterations
    vus: 2
    iterations: 6
    requests:
      - name: items
        url: /items
        headers:
          Authorization: "Bearer {{setup.token}}"
        assertions:
          - type: status
            value: "200"
thresholds:
  http_req_failed: ["rate < 0.01"]
  "http_req_duration{name:items}": ["p(95) < 5000"]
  checks: ["rate == 1"]
`)
	eng, err := New(cfg, Options{})
	require.NoError(t, err)

	res, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())

	assert.Equal(t, int64(6), items.Load())
	assert.Equal(t, map[string]string{"token": "xyz"}, res.SetupData)
	assert.Equal(t, 7.0, metricValue(t, res, "http_reqs", "count"), "six iterations plus the setup request")
	assert.Equal(t, []output.CheckResult{{Name: "status eq 200", Passes: 6}}, res.Summary.Checks)
	assert.Equal(t, 6.0, metricValue(t, res, "http_req_duration{name:items}", "count"))
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCodeOf(nil))
	assert.Equal(t, ExitGeneric, ExitCodeOf(errors.New("x")))

	wrapped := errors.Join(errors.New("context"), &RunError{Code: ExitTeardownFailed})
	assert.Equal(t, ExitTeardownFailed, ExitCodeOf(wrapped))

	err := &RunError{Code: ExitSetupFailed, Err: errors.New("boom")}
	assert.Equal(t, "setup failed: boom", err.Error())
	assert.Equal(t, "thresholds failed", (&RunError{Code: ExitThresholdsFailed}).Error())
}
