package metrics

import (
	"math"
	"strconv"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Sink aggregates the samples of one metric or submetric.
//
// Sinks are not safe for concurrent use; the owning series serializes access.
type Sink interface {
	Add(s Sample)
	IsEmpty() bool
	// Format returns the aggregated values keyed by aggregation name.
	Format(elapsed time.Duration) map[string]float64
}

// NewSink returns the sink implementation for a metric type.
func NewSink(t MetricType) Sink {
	switch t {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Rate:
		return &RateSink{}
	default:
		return NewTrendSink()
	}
}

// CounterSink sums sample values.
type CounterSink struct {
	Value float64
	First time.Time
	n     int64
}

func (c *CounterSink) Add(s Sample) {
	c.Value += s.Value
	if c.First.IsZero() {
		c.First = s.Time
	}
	c.n++
}

func (c *CounterSink) IsEmpty() bool { return c.n == 0 }

// Format returns count and the per-second rate over elapsed.
func (c *CounterSink) Format(elapsed time.Duration) map[string]float64 {
	rate := 0.0
	if elapsed > 0 {
		rate = c.Value / elapsed.Seconds()
	}
	return map[string]float64{"count": c.Value, "rate": rate}
}

// GaugeSink keeps the last value plus extremes.
type GaugeSink struct {
	Value    float64
	Min, Max float64
	n        int64
}

func (g *GaugeSink) Add(s Sample) {
	g.Value = s.Value
	if g.n == 0 || s.Value < g.Min {
		g.Min = s.Value
	}
	if g.n == 0 || s.Value > g.Max {
		g.Max = s.Value
	}
	g.n++
}

func (g *GaugeSink) IsEmpty() bool { return g.n == 0 }

func (g *GaugeSink) Format(time.Duration) map[string]float64 {
	return map[string]float64{"value": g.Value, "min": g.Min, "max": g.Max}
}

// RateSink counts non-zero samples against the total.
type RateSink struct {
	Trues int64
	Total int64
}

func (r *RateSink) Add(s Sample) {
	r.Total++
	if s.Value != 0 {
		r.Trues++
	}
}

func (r *RateSink) IsEmpty() bool { return r.Total == 0 }

// Rate returns Trues/Total, or 0 for an empty sink.
func (r *RateSink) Rate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Trues) / float64(r.Total)
}

func (r *RateSink) Format(time.Duration) map[string]float64 {
	return map[string]float64{
		"rate":   r.Rate(),
		"passes": float64(r.Trues),
		"fails":  float64(r.Total - r.Trues),
	}
}

const (
	// Trend values are scaled before entering the histogram so that
	// fractional milliseconds keep microsecond resolution.
	trendScale = 1000.0
	// trendHighest is the largest scaled value the histogram tracks,
	// roughly 11 days of milliseconds.
	trendHighest = 1_000_000_000_000
	trendSigFigs = 3
)

// TrendSink keeps exact count, min, max and sum, and an HDR histogram
// for percentiles.
type TrendSink struct {
	hist  *hdrhistogram.Histogram
	Count uint64
	Min   float64
	Max   float64
	Sum   float64
}

// NewTrendSink returns an empty trend sink.
func NewTrendSink() *TrendSink {
	return &TrendSink{hist: hdrhistogram.New(1, trendHighest, trendSigFigs)}
}

func (t *TrendSink) Add(s Sample) {
	v := s.Value
	if t.Count == 0 || v < t.Min {
		t.Min = v
	}
	if t.Count == 0 || v > t.Max {
		t.Max = v
	}
	t.Count++
	t.Sum += v

	// The histogram only holds non-negative values within its range.
	scaled := int64(math.Round(v * trendScale))
	if scaled < 0 {
		scaled = 0
	}
	if scaled > trendHighest {
		scaled = trendHighest
	}
	_ = t.hist.RecordValue(scaled)
}

func (t *TrendSink) IsEmpty() bool { return t.Count == 0 }

// Avg returns the arithmetic mean.
func (t *TrendSink) Avg() float64 {
	if t.Count == 0 {
		return 0
	}
	return t.Sum / float64(t.Count)
}

// P returns the pct percentile, pct in [0,100]. The result is clamped to
// the exact observed min and max.
func (t *TrendSink) P(pct float64) float64 {
	if t.Count == 0 {
		return 0
	}
	switch {
	case pct <= 0:
		return t.Min
	case pct >= 100:
		return t.Max
	}
	v := float64(t.hist.ValueAtQuantile(pct)) / trendScale
	return math.Min(math.Max(v, t.Min), t.Max)
}

// Format returns count, min, max, avg, med, p(90) and p(95).
func (t *TrendSink) Format(time.Duration) map[string]float64 {
	return map[string]float64{
		"count": float64(t.Count),
		"min":   t.Min,
		"max":   t.Max,
		"avg":   t.Avg(),
		"med":   t.P(50),
		"p(90)": t.P(90),
		"p(95)": t.P(95),
	}
}

// PercentileKey formats the aggregation key for a percentile, e.g. p(99.9).
func PercentileKey(pct float64) string {
	return "p(" + strconv.FormatFloat(pct, 'f', -1, 64) + ")"
}
