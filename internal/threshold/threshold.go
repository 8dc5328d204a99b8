package threshold

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
)

// Definition is a user-declared threshold before it is bound to a metric.
type Definition struct {
	Expression string
	// AbortOnFail stops the test as soon as the threshold fails.
	AbortOnFail bool
	// DelayAbortEval postpones abort decisions until the test has run this long.
	DelayAbortEval time.Duration
}

// Threshold is a parsed definition with its latest evaluation outcome.
type Threshold struct {
	Definition
	expr *Expression

	mu         sync.Mutex
	lastFailed bool
	lastValue  float64
}

// Parsed returns the parsed expression.
func (t *Threshold) Parsed() *Expression { return t.expr }

// LastFailed reports the outcome of the latest evaluation.
func (t *Threshold) LastFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFailed
}

// LastValue returns the aggregated value seen by the latest evaluation.
func (t *Threshold) LastValue() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastValue
}

func (t *Threshold) record(value float64, failed bool) {
	t.mu.Lock()
	t.lastValue, t.lastFailed = value, failed
	t.mu.Unlock()
}

// Target is anything that exposes aggregated values; both metrics.Metric and
// metrics.Submetric qualify.
type Target interface {
	Values(elapsed time.Duration, percentiles ...float64) map[string]float64
}

// Set groups the thresholds declared for one metric or submetric.
type Set struct {
	// Metric is the expression the set was declared under, submetric filter included.
	Metric     string
	Type       metrics.MetricType
	Contains   metrics.ValueType
	Thresholds []*Threshold

	target      Target
	percentiles []float64
}

// NewSet parses defs and binds them to the metric named by metricExpr,
// creating the submetric when the expression carries a tag filter.
func NewSet(r *metrics.Registry, metricExpr string, defs []Definition) (*Set, error) {
	name, tags, err := metrics.ParseMetricName(metricExpr)
	if err != nil {
		return nil, err
	}
	parent := r.Get(name)
	if parent == nil {
		return nil, fmt.Errorf("threshold on unknown metric %q", name)
	}

	set := &Set{
		Metric:   metricExpr,
		Type:     parent.Type,
		Contains: parent.Contains,
		target:   parent,
	}
	if tags != nil {
		sm := parent.AddSubmetric(tags)
		set.Metric = sm.Name
		set.target = sm
	}

	for _, def := range defs {
		expr, err := ParseExpression(def.Expression)
		if err != nil {
			return nil, err
		}
		if err := expr.ValidateFor(parent.Type, parent.Contains); err != nil {
			return nil, fmt.Errorf("threshold %q on %s: %w", def.Expression, metricExpr, err)
		}
		if def.DelayAbortEval < 0 {
			return nil, fmt.Errorf("threshold %q on %s: delayAbortEval must not be negative", def.Expression, metricExpr)
		}
		if expr.Aggregation == AggPercentile {
			set.percentiles = append(set.percentiles, expr.Percentile)
		}
		set.Thresholds = append(set.Thresholds, &Threshold{Definition: def, expr: expr})
	}
	return set, nil
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// evaluate checks every threshold in the set. When shortCircuit is set it
// stops at the first failing abortOnFail threshold whose delay has elapsed
// and reports it as the abort cause.
func (s *Set) evaluate(elapsed time.Duration, shortCircuit bool) ([]Result, *Result) {
	values := s.target.Values(elapsed, s.percentiles...)

	results := make([]Result, 0, len(s.Thresholds))
	for _, th := range s.Thresholds {
		actual := values[th.expr.Key()]
		passed := th.expr.Compare(actual)
		th.record(actual, !passed)

		res := Result{
			Metric:      s.Metric,
			Expression:  th.Expression,
			Passed:      passed,
			Value:       actual,
			AbortOnFail: th.AbortOnFail,
		}
		if !passed {
			res.Message = fmt.Sprintf("%s is %g, threshold: %s %g", th.expr.Key(), actual, th.expr.Operator, th.expr.Value)
		}
		results = append(results, res)

		if shortCircuit && !passed && th.AbortOnFail && elapsed >= th.DelayAbortEval {
			return results, &res
		}
	}
	return results, nil
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// BuildSets binds every declared threshold, returning sets sorted by metric.
func BuildSets(r *metrics.Registry, defs map[string][]Definition) ([]*Set, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]*Set, 0, len(names))
	for _, name := range names {
		set, err := NewSet(r, name, defs[name])
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}
