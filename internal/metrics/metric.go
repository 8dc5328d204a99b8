// Package metrics implements the process-wide metrics registry.
//
// Every virtual user pushes samples into a single Registry. A sample belongs
// to one Metric and carries a set of tags; the metric aggregates it into a
// sink chosen by its type, and every Submetric whose tag filter matches the
// sample aggregates it as well.
//
// # Thread Safety
//
// Registry and Metric are safe for concurrent use. Each sink is guarded by
// its own mutex so contention is limited to VUs writing the same metric.
package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType selects how samples are aggregated.
type MetricType int

const (
	// Counter sums values.
	Counter MetricType = iota
	// Gauge keeps the last value along with min and max.
	Gauge
	// Rate tracks the fraction of non-zero values.
	Rate
	// Trend keeps a distribution for percentile and average reporting.
	Trend
)

var metricTypeNames = map[MetricType]string{
	Counter: "counter",
	Gauge:   "gauge",
	Rate:    "rate",
	Trend:   "trend",
}

// String returns the lowercase type name.
func (t MetricType) String() string {
	if s, ok := metricTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MetricType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t MetricType) MarshalText() ([]byte, error) {
	if _, ok := metricTypeNames[t]; !ok {
		return nil, fmt.Errorf("invalid metric type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MetricType) UnmarshalText(b []byte) error {
	v, err := ParseMetricType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseMetricType parses a type name such as "trend".
func ParseMetricType(s string) (MetricType, error) {
	for t, name := range metricTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown metric type %q (valid: counter, gauge, rate, trend)", s)
}

// ValueType describes what the values of a metric represent.
type ValueType int

const (
	// Default values are plain numbers.
	Default ValueType = iota
	// Time values are durations in milliseconds.
	Time
	// Data values are byte counts.
	Data
)

var valueTypeNames = map[ValueType]string{
	Default: "default",
	Time:    "time",
	Data:    "data",
}

func (v ValueType) String() string {
	if s, ok := valueTypeNames[v]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", int(v))
}

// MarshalText implements encoding.TextMarshaler.
func (v ValueType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *ValueType) UnmarshalText(b []byte) error {
	p, err := ParseValueType(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// ParseValueType parses a value type name. The empty string is Default.
func ParseValueType(s string) (ValueType, error) {
	if s == "" {
		return Default, nil
	}
	for t, name := range valueTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q (valid: default, time, data)", s)
}

var nameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidateName checks that name can be used as a metric name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid metric name %q: must match %s", name, nameRegexp.String())
	}
	return nil
}

// series is a sink plus the mutex that guards it.
type series struct {
	mu   sync.Mutex
	sink Sink
}

func (s *series) add(sample Sample) {
	s.mu.Lock()
	s.sink.Add(sample)
	s.mu.Unlock()
}

// Values returns the aggregated values of the series. For trends the
// requested percentiles are added under their p(N) keys.
func (s *series) Values(elapsed time.Duration, percentiles ...float64) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.sink.Format(elapsed)
	if trend, ok := s.sink.(*TrendSink); ok {
		for _, p := range percentiles {
			values[PercentileKey(p)] = trend.P(p)
		}
	}
	return values
}

// Empty reports whether the series has seen no samples.
func (s *series) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.IsEmpty()
}

// Metric is a named, typed aggregation of samples.
type Metric struct {
	Name     string
	Type     MetricType
	Contains ValueType

	series

	subMu      sync.RWMutex
	submetrics []*Submetric
}

func newMetric(name string, typ MetricType, contains ValueType) *Metric {
	return &Metric{
		Name:     name,
		Type:     typ,
		Contains: contains,
		series:   series{sink: NewSink(typ)},
	}
}

// Submetrics returns the metric's submetrics sorted by name.
func (m *Metric) Submetrics() []*Submetric {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	out := make([]*Submetric, len(m.submetrics))
	copy(out, m.submetrics)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddSubmetric returns the submetric selected by tags, creating it if needed.
func (m *Metric) AddSubmetric(tags Tags) *Submetric {
	suffix := tags.String()

	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, sm := range m.submetrics {
		if sm.Suffix == suffix {
			return sm
		}
	}
	sm := &Submetric{
		Name:   m.Name + "{" + suffix + "}",
		Suffix: suffix,
		Tags:   tags.Clone(),
		Parent: m,
		series: series{sink: NewSink(m.Type)},
	}
	m.submetrics = append(m.submetrics, sm)
	return sm
}

func (m *Metric) add(s Sample) {
	m.series.add(s)

	m.subMu.RLock()
	for _, sm := range m.submetrics {
		if s.Tags.Contains(sm.Tags) {
			sm.series.add(s)
		}
	}
	m.subMu.RUnlock()
}

// Submetric is the part of a metric selected by a tag filter.
type Submetric struct {
	// Name is the full expression, e.g. http_req_duration{scenario:browse}.
	Name string
	// Suffix is the canonical tag filter without braces.
	Suffix string
	Tags   Tags
	Parent *Metric

	series
}

// ParseMetricName splits an expression such as
// http_req_duration{scenario:browse,status:200} into the parent name and its
// tag filter. Tags is nil when the expression has no braces.
func ParseMetricName(expr string) (string, Tags, error) {
	expr = strings.TrimSpace(expr)
	open := strings.IndexByte(expr, '{')
	if open < 0 {
		if err := ValidateName(expr); err != nil {
			return "", nil, err
		}
		return expr, nil, nil
	}
	if !strings.HasSuffix(expr, "}") {
		return "", nil, fmt.Errorf("missing closing brace in %q", expr)
	}

	name := strings.TrimSpace(expr[:open])
	if err := ValidateName(name); err != nil {
		return "", nil, err
	}

	body := expr[open+1 : len(expr)-1]
	if strings.TrimSpace(body) == "" {
		return "", nil, fmt.Errorf("empty tag filter in %q", expr)
	}

	tags := Tags{}
	for _, pair := range strings.Split(body, ",") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			return "", nil, fmt.Errorf("tag filter %q in %q is not key:value", pair, expr)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			return "", nil, fmt.Errorf("empty tag key in %q", expr)
		}
		tags[key] = value
	}
	return name, tags, nil
}
