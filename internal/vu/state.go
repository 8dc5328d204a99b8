package vu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/metrics"
)

// IterationFunc is the user-supplied body of one iteration. A returned error
// marks the iteration failed; an error built by State.Abort stops the test.
type IterationFunc func(ctx context.Context, st *State) error

// State is what an iteration sees of its surroundings.
type State struct {
	VU       *VU
	Scenario string
	// Iteration is the 0-based iteration number of this VU.
	Iteration int64
	// ScenarioIteration is the 0-based iteration number within the scenario.
	ScenarioIteration int64
	// Tags are attached to every sample the iteration emits.
	Tags metrics.Tags
	// Data is the value returned by the setup hook, shared read-only by all VUs.
	Data any

	HTTP    *http.Client
	Logger  *zap.SugaredLogger
	Metrics *metrics.Registry
	Builtin *metrics.BuiltinMetrics
}

// Check records a named boolean outcome into the checks rate and returns ok.
func (s *State) Check(name string, ok bool) bool {
	if s.Metrics != nil && s.Builtin != nil {
		s.Metrics.Push(metrics.NewSample(s.Builtin.Checks, metrics.B(ok), s.Tags.With("check", name)))
	}
	return ok
}

// Add records a value for m, tagged with the iteration tags plus extra.
func (s *State) Add(m *metrics.Metric, value float64, extra metrics.Tags) {
	if s.Metrics == nil || m == nil {
		return
	}
	tags := s.Tags
	if len(extra) > 0 {
		tags = tags.Merge(extra)
	}
	s.Metrics.Push(metrics.NewSample(m, value, tags))
}

// Sleep pauses the iteration, returning early with ctx.Err() on cancellation.
func (s *State) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fail returns an error that marks the current iteration failed.
func (s *State) Fail(format string, args ...any) error {
	return &FailError{Message: fmt.Sprintf(format, args...)}
}

// Abort returns an error that stops the whole test once returned from the
// iteration.
func (s *State) Abort(reason string) error {
	return &AbortError{Reason: reason}
}

// FailError ends an iteration as failed.
type FailError struct {
	Message string
}

func (e *FailError) Error() string { return e.Message }

// AbortError stops the test.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return "test aborted"
	}
	return "test aborted: " + e.Reason
}

// IsAbort reports whether err requests a test abort.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}
