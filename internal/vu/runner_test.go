package vu

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/metrics"
)

func newTestRunner(t *testing.T, exec IterationFunc, opts ...func(*RunnerConfig)) (*Runner, *metrics.Registry, *metrics.BuiltinMetrics) {
	t.Helper()
	r := metrics.NewRegistry()
	b := metrics.RegisterBuiltinMetrics(r)
	cfg := RunnerConfig{Scenario: "checkout", Exec: exec, Registry: r, Builtin: b, Tags: metrics.Tags{"team": "web"}}
	for _, o := range opts {
		o(&cfg)
	}
	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	return runner, r, b
}

func TestNewRunner_RequiresExec(t *testing.T) {
	_, err := NewRunner(RunnerConfig{Scenario: "x"})
	assert.Error(t, err)
}

func TestRunner_Completed(t *testing.T) {
	var seen *State
	runner, _, b := newTestRunner(t, func(ctx context.Context, st *State) error {
		seen = st
		return nil
	}, func(c *RunnerConfig) { c.Data = map[string]string{"token": "t"} })

	v := New(7, 1, "checkout", nil)
	res := runner.Run(context.Background(), v)

	assert.Equal(t, Completed, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, int64(1), v.Iterations())

	require.NotNil(t, seen)
	assert.Equal(t, "checkout", seen.Tags["scenario"])
	assert.Equal(t, "web", seen.Tags["team"])
	assert.Equal(t, map[string]string{"token": "t"}, seen.Data)
	assert.Equal(t, int64(0), seen.Iteration)

	assert.Equal(t, 1.0, b.Iterations.Values(0)["count"])
	assert.Equal(t, 1.0, b.IterationDuration.Values(0)["count"])
}

func TestRunner_IterationNumbers(t *testing.T) {
	var perVU, perScenario []int64
	runner, _, _ := newTestRunner(t, func(ctx context.Context, st *State) error {
		perVU = append(perVU, st.Iteration)
		perScenario = append(perScenario, st.ScenarioIteration)
		return nil
	})

	a, b := New(1, 1, "checkout", nil), New(2, 2, "checkout", nil)
	runner.Run(context.Background(), a)
	runner.Run(context.Background(), b)
	runner.Run(context.Background(), a)

	assert.Equal(t, []int64{0, 0, 1}, perVU)
	assert.Equal(t, []int64{0, 1, 2}, perScenario)
}

func TestRunner_FailedStillCountsIteration(t *testing.T) {
	runner, _, b := newTestRunner(t, func(ctx context.Context, st *State) error {
		return st.Fail("unexpected status %d", 500)
	})

	res := runner.Run(context.Background(), New(1, 1, "checkout", nil))
	assert.Equal(t, Failed, res.Outcome)
	assert.EqualError(t, res.Err, "unexpected status 500")
	assert.Equal(t, 1.0, b.Iterations.Values(0)["count"])
	assert.Equal(t, int64(1), runner.Stats().Failed)
}

func TestRunner_PanicIsFailure(t *testing.T) {
	runner, _, _ := newTestRunner(t, func(ctx context.Context, st *State) error {
		panic("boom")
	})

	res := runner.Run(context.Background(), New(1, 1, "checkout", nil))
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, res.Err.Error(), "boom")
}

func TestRunner_Interrupted(t *testing.T) {
	runner, _, b := newTestRunner(t, func(ctx context.Context, st *State) error {
		return st.Sleep(ctx, time.Hour)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := runner.Run(ctx, New(1, 1, "checkout", nil))
	assert.Equal(t, Interrupted, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Equal(t, 0.0, b.Iterations.Values(0)["count"], "interrupted iterations are not counted")
	assert.Equal(t, int64(1), runner.Stats().Interrupted)
}

func TestRunner_Abort(t *testing.T) {
	var aborts atomic.Int32
	runner, _, b := newTestRunner(t, func(ctx context.Context, st *State) error {
		return st.Abort("bad data")
	}, func(c *RunnerConfig) {
		c.OnAbort = func(err error) {
			aborts.Add(1)
			assert.True(t, IsAbort(err))
		}
	})

	res := runner.Run(context.Background(), New(1, 1, "checkout", nil))
	assert.Equal(t, Aborted, res.Outcome)
	assert.EqualError(t, res.Err, "test aborted: bad data")
	assert.Equal(t, int32(1), aborts.Load())
	assert.Equal(t, 0.0, b.Iterations.Values(0)["count"])
}

func TestRunner_RecordDropped(t *testing.T) {
	runner, _, b := newTestRunner(t, func(ctx context.Context, st *State) error { return nil })
	runner.RecordDropped()
	runner.RecordDropped()

	assert.Equal(t, 2.0, b.DroppedIterations.Values(0)["count"])
	assert.Equal(t, int64(2), runner.Stats().Dropped)
}
