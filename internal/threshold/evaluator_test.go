package threshold

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/metrics"
)

func newRegistry(t *testing.T) (*metrics.Registry, *metrics.BuiltinMetrics) {
	t.Helper()
	r := metrics.NewRegistry()
	return r, metrics.RegisterBuiltinMetrics(r)
}

func TestEvaluator_Evaluate(t *testing.T) {
	r, b := newRegistry(t)
	ev, err := NewEvaluator(r, map[string][]Definition{
		"http_req_duration": {{Expression: "p(95)<500"}, {Expression: "avg<100ms"}},
		"http_req_failed":   {{Expression: "rate<0.5"}},
	}, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		r.Push(metrics.NewSample(b.HTTPReqDuration, 50, nil))
		r.Push(metrics.NewSample(b.HTTPReqFailed, metrics.B(i%10 == 0), nil))
	}

	results := ev.Evaluate(10 * time.Second)
	require.Len(t, results, 3)
	assert.True(t, Passed(results))

	for i := 0; i < 100; i++ {
		r.Push(metrics.NewSample(b.HTTPReqDuration, 900, nil))
	}
	results = ev.Evaluate(10 * time.Second)
	assert.False(t, Passed(results))

	var failed []string
	for _, res := range results {
		if !res.Passed {
			failed = append(failed, res.Expression)
			assert.NotEmpty(t, res.Message)
		}
	}
	assert.ElementsMatch(t, []string{"p(95)<500", "avg<100ms"}, failed)
}

func TestEvaluator_NoSamplesUsesZeroValues(t *testing.T) {
	r, _ := newRegistry(t)
	ev, err := NewEvaluator(r, map[string][]Definition{
		"http_reqs":         {{Expression: "count>0"}},
		"http_req_duration": {{Expression: "p(99)<100"}},
	}, nil)
	require.NoError(t, err)

	results := ev.Evaluate(time.Second)
	byExpr := map[string]bool{}
	for _, res := range results {
		byExpr[res.Expression] = res.Passed
	}
	assert.False(t, byExpr["count>0"])
	assert.True(t, byExpr["p(99)<100"])
}

func TestEvaluator_SubmetricOnlySeesMatchingTags(t *testing.T) {
	r, b := newRegistry(t)
	ev, err := NewEvaluator(r, map[string][]Definition{
		"http_req_duration{scenario:fast}": {{Expression: "max<100"}},
	}, nil)
	require.NoError(t, err)

	r.Push(
		metrics.NewSample(b.HTTPReqDuration, 20, metrics.Tags{"scenario": "fast"}),
		metrics.NewSample(b.HTTPReqDuration, 5000, metrics.Tags{"scenario": "slow"}),
	)

	results := ev.Evaluate(time.Second)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "http_req_duration{scenario:fast}", results[0].Metric)
	assert.Equal(t, 20.0, results[0].Value)
}

func TestNewEvaluator_Errors(t *testing.T) {
	r, _ := newRegistry(t)

	_, err := NewEvaluator(r, map[string][]Definition{"nope": {{Expression: "count>1"}}}, nil)
	assert.Error(t, err)

	_, err = NewEvaluator(r, map[string][]Definition{"http_reqs": {{Expression: "p(95)<1"}}}, nil)
	assert.Error(t, err)

	_, err = NewEvaluator(r, map[string][]Definition{"checks": {{Expression: "rate>"}}}, nil)
	assert.Error(t, err)

	_, err = NewEvaluator(r, map[string][]Definition{
		"checks": {{Expression: "rate>0.9", AbortOnFail: true, DelayAbortEval: -time.Second}},
	}, nil)
	assert.Error(t, err)
}

func TestEvaluator_CheckShortCircuitsOnAbort(t *testing.T) {
	r, b := newRegistry(t)
	ev, err := NewEvaluator(r, map[string][]Definition{
		"checks": {
			{Expression: "rate>0.9", AbortOnFail: true, DelayAbortEval: 5 * time.Second},
			{Expression: "rate>0.95"},
		},
	}, nil)
	require.NoError(t, err)

	r.Push(metrics.NewSample(b.Checks, 0, nil))

	assert.Nil(t, ev.Check(time.Second), "abort must wait for delayAbortEval")

	abort := ev.Check(6 * time.Second)
	require.NotNil(t, abort)
	assert.Equal(t, "rate>0.9", abort.Expression)
	assert.True(t, abort.AbortOnFail)

	fresh, err := NewEvaluator(r, map[string][]Definition{
		"checks": {
			{Expression: "rate>0.9", AbortOnFail: true},
			{Expression: "rate>0.95"},
		},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, fresh.Check(time.Second))
	// The threshold after the abort cause was not evaluated.
	assert.False(t, fresh.sets[0].Thresholds[1].LastFailed())
}

func TestEvaluator_FailingWithoutAbortDoesNotStop(t *testing.T) {
	r, b := newRegistry(t)
	ev, err := NewEvaluator(r, map[string][]Definition{
		"checks": {{Expression: "rate>0.9"}},
	}, nil)
	require.NoError(t, err)
	r.Push(metrics.NewSample(b.Checks, 0, nil))

	assert.Nil(t, ev.Check(time.Minute))
	assert.True(t, ev.sets[0].Thresholds[0].LastFailed())
}

func TestEvaluator_RunCallsOnAbort(t *testing.T) {
	r, b := newRegistry(t)
	ev, err := NewEvaluator(r, map[string][]Definition{
		"http_req_failed": {{Expression: "rate<0.1", AbortOnFail: true}},
	}, nil)
	require.NoError(t, err)
	ev.SetInterval(10 * time.Millisecond)

	r.Push(metrics.NewSample(b.HTTPReqFailed, 1, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var calls atomic.Int32
	start := time.Now()
	ev.Run(ctx, func() time.Duration { return time.Since(start) }, func(res Result) {
		calls.Add(1)
		assert.Equal(t, "http_req_failed", res.Metric)
	})

	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, ctx.Err(), "Run should return on abort, before the context expires")
}

func TestEvaluator_RunWithoutThresholdsReturns(t *testing.T) {
	r, _ := newRegistry(t)
	ev, err := NewEvaluator(r, nil, nil)
	require.NoError(t, err)
	assert.True(t, ev.Empty())

	done := make(chan struct{})
	go func() {
		ev.Run(context.Background(), func() time.Duration { return 0 }, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with no thresholds should return immediately")
	}
}
