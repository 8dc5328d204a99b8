package metrics

import (
	"sort"
	"strings"
	"time"
)

// Tags is a set of key/value labels attached to a sample.
//
// A Tags value is treated as immutable once it is attached to a sample;
// use With or Merge to derive a new set.
type Tags map[string]string

// Clone returns a copy of t.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// With returns a copy of t with key set to value.
func (t Tags) With(key, value string) Tags {
	out := make(Tags, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[key] = value
	return out
}

// Merge returns a copy of t overlaid with other.
func (t Tags) Merge(other Tags) Tags {
	out := make(Tags, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Contains reports whether every pair of filter is present in t.
func (t Tags) Contains(filter Tags) bool {
	for k, v := range filter {
		if got, ok := t[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// Keys returns the tag keys in sorted order.
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the tags as k:v pairs sorted by key.
func (t Tags) String() string {
	var b strings.Builder
	for i, k := range t.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(t[k])
	}
	return b.String()
}

// Sample is a single observation of a metric.
type Sample struct {
	Metric *Metric
	Time   time.Time
	Value  float64
	Tags   Tags
}

// NewSample builds a sample stamped with the current time.
func NewSample(m *Metric, value float64, tags Tags) Sample {
	return Sample{Metric: m, Time: time.Now(), Value: value, Tags: tags}
}

// D converts a duration to the float milliseconds used by time metrics.
func D(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ToDuration converts float milliseconds back to a duration.
func ToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// B converts a boolean to the 1/0 value used by rate metrics.
func B(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
