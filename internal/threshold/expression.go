// Package threshold parses and evaluates pass/fail expressions against the
// metrics registry.
//
// An expression has the form
//
//	<aggregation> <operator> <value>[unit]
//
// for example "p(95) < 500", "p99<1.5s", "rate>=0.99" or "count > 100".
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
)

var expressionRegexp = regexp.MustCompile(
	`^\s*([a-z]+(?:\(\s*[0-9.]+\s*\))?|p[0-9.]+)\s*(===|==|!=|<=|>=|<|>)\s*(\S+)\s*$`)

var (
	percentileCallRegexp  = regexp.MustCompile(`^p\(\s*([0-9.]+)\s*\)$`)
	percentileShortRegexp = regexp.MustCompile(`^p([0-9.]+)$`)
)

// Aggregation methods.
const (
	AggCount      = "count"
	AggRate       = "rate"
	AggValue      = "value"
	AggAvg        = "avg"
	AggMin        = "min"
	AggMax        = "max"
	AggMed        = "med"
	AggPercentile = "p"
)

// validAggregations lists the methods each metric type supports.
var validAggregations = map[metrics.MetricType][]string{
	metrics.Counter: {AggCount, AggRate},
	metrics.Gauge:   {AggValue},
	metrics.Rate:    {AggRate},
	metrics.Trend:   {AggAvg, AggMin, AggMax, AggMed, AggPercentile},
}

// Expression is a parsed threshold expression.
type Expression struct {
	Source      string
	Aggregation string
	// Percentile is set when Aggregation is AggPercentile.
	Percentile float64
	Operator   string
	Value      float64
	// HasUnit is true when the value carried a duration suffix; it was
	// normalized to milliseconds.
	HasUnit bool
}

// ParseExpression parses a threshold expression.
func ParseExpression(src string) (*Expression, error) {
	m := expressionRegexp.FindStringSubmatch(src)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q: want <aggregation> <operator> <value>", src)
	}
	expr := &Expression{Source: strings.TrimSpace(src), Operator: m[2]}

	agg := m[1]
	switch {
	case percentileCallRegexp.MatchString(agg):
		pct, err := parsePercentile(percentileCallRegexp.FindStringSubmatch(agg)[1], src)
		if err != nil {
			return nil, err
		}
		expr.Aggregation, expr.Percentile = AggPercentile, pct
	case percentileShortRegexp.MatchString(agg):
		pct, err := parsePercentile(percentileShortRegexp.FindStringSubmatch(agg)[1], src)
		if err != nil {
			return nil, err
		}
		expr.Aggregation, expr.Percentile = AggPercentile, pct
	default:
		switch agg {
		case AggCount, AggRate, AggValue, AggAvg, AggMin, AggMax, AggMed:
			expr.Aggregation = agg
		default:
			return nil, fmt.Errorf("invalid threshold expression %q: unknown aggregation %q", src, agg)
		}
	}

	value, hasUnit, err := parseValue(m[3])
	if err != nil {
		return nil, fmt.Errorf("invalid threshold expression %q: %w", src, err)
	}
	expr.Value, expr.HasUnit = value, hasUnit
	return expr, nil
}

func parsePercentile(s, src string) (float64, error) {
	pct, err := strconv.ParseFloat(s, 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, fmt.Errorf("invalid threshold expression %q: percentile must be between 0 and 100", src)
	}
	return pct, nil
}

// parseValue accepts a plain number, or a duration such as 500ms or 1.5s
// which is converted to milliseconds.
func parseValue(s string) (float64, bool, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("value %q is neither a number nor a duration", s)
	}
	return metrics.D(d), true, nil
}

// Key returns the aggregated-values key this expression reads.
func (e *Expression) Key() string {
	if e.Aggregation == AggPercentile {
		return metrics.PercentileKey(e.Percentile)
	}
	return e.Aggregation
}

// Compare applies the operator to actual and the expression's value.
func (e *Expression) Compare(actual float64) bool {
	switch e.Operator {
	case "<":
		return actual < e.Value
	case "<=":
		return actual <= e.Value
	case ">":
		return actual > e.Value
	case ">=":
		return actual >= e.Value
	case "==", "===":
		return actual == e.Value
	case "!=":
		return actual != e.Value
	default:
		return false
	}
}

// ValidateFor checks that the expression applies to a metric of the given kind.
func (e *Expression) ValidateFor(typ metrics.MetricType, contains metrics.ValueType) error {
	allowed := validAggregations[typ]
	ok := false
	for _, a := range allowed {
		if a == e.Aggregation {
			ok = true
			break
		}
	}
	if !ok {
		names := make([]string, len(allowed))
		for i, a := range allowed {
			if a == AggPercentile {
				a = "p(N)"
			}
			names[i] = a
		}
		return fmt.Errorf("aggregation %q is not valid for %s metrics (valid: %s)",
			e.Key(), typ, strings.Join(names, ", "))
	}
	if e.HasUnit && contains != metrics.Time {
		return fmt.Errorf("duration value in %q requires a time metric", e.Source)
	}
	return nil
}
