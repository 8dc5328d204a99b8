package threshold

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
)

// DefaultInterval is how often thresholds are checked while a test runs.
const DefaultInterval = 2 * time.Second

// Evaluator evaluates every threshold set against the registry.
type Evaluator struct {
	sets     []*Set
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewEvaluator binds defs (keyed by metric or submetric expression) to r.
func NewEvaluator(r *metrics.Registry, defs map[string][]Definition, logger *zap.SugaredLogger) (*Evaluator, error) {
	sets, err := BuildSets(r, defs)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		sets:     sets,
		interval: DefaultInterval,
		logger:   logging.OrNop(logger),
	}, nil
}

// SetInterval overrides the periodic evaluation interval.
func (e *Evaluator) SetInterval(d time.Duration) {
	if d > 0 {
		e.interval = d
	}
}

// Empty reports whether no thresholds were declared.
func (e *Evaluator) Empty() bool { return len(e.sets) == 0 }

// Evaluate checks every threshold and returns all results.
func (e *Evaluator) Evaluate(elapsed time.Duration) []Result {
	var all []Result
	for _, set := range e.sets {
		results, _ := set.evaluate(elapsed, false)
		all = append(all, results...)
	}
	return all
}

// Check evaluates thresholds and stops at the first one that requires the
// test to abort, returning it. It returns nil when the run may continue.
func (e *Evaluator) Check(elapsed time.Duration) *Result {
	for _, set := range e.sets {
		if _, abort := set.evaluate(elapsed, true); abort != nil {
			return abort
		}
	}
	return nil
}

// Run checks thresholds every interval until ctx is done. elapsed reports the
// current test duration. onAbort is called at most once, after which Run
// returns.
func (e *Evaluator) Run(ctx context.Context, elapsed func() time.Duration, onAbort func(Result)) {
	if e.Empty() {
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if abort := e.Check(elapsed()); abort != nil {
				e.logger.Warnw("threshold crossed, aborting test",
					"metric", abort.Metric,
					"threshold", abort.Expression,
					"value", abort.Value)
				if onAbort != nil {
					onAbort(*abort)
				}
				return
			}
		}
	}
}
