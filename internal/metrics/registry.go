package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Listener receives every batch of samples pushed into a Registry, after the
// samples have been aggregated. Implementations must not block.
type Listener interface {
	Forward(samples []Sample)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(samples []Sample)

// Forward calls f(samples).
func (f ListenerFunc) Forward(samples []Sample) { f(samples) }

// Registry is the process-wide collection of named metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*Metric)}
}

// NewMetric registers a metric. Registering the same name again with the same
// type and value type returns the existing metric; a conflicting declaration
// is an error.
func (r *Registry) NewMetric(name string, typ MetricType, contains ...ValueType) (*Metric, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	vt := Default
	if len(contains) > 0 {
		vt = contains[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		if m.Type != typ || m.Contains != vt {
			return nil, fmt.Errorf("metric %q already registered as %s (%s), cannot redeclare as %s (%s)",
				name, m.Type, m.Contains, typ, vt)
		}
		return m, nil
	}

	m := newMetric(name, typ, vt)
	r.metrics[name] = m
	return m, nil
}

// MustNewMetric is like NewMetric but panics on error.
func (r *Registry) MustNewMetric(name string, typ MetricType, contains ...ValueType) *Metric {
	m, err := r.NewMetric(name, typ, contains...)
	if err != nil {
		panic(err)
	}
	return m
}

// Get returns the named metric, or nil.
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// All returns every registered metric sorted by name.
func (r *Registry) All() []*Metric {
	r.mu.RLock()
	out := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Submetric resolves an expression such as http_req_duration{status:200}
// against a registered parent metric, creating the submetric if needed.
func (r *Registry) Submetric(expr string) (*Submetric, error) {
	name, tags, err := ParseMetricName(expr)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		return nil, fmt.Errorf("%q has no tag filter", expr)
	}
	parent := r.Get(name)
	if parent == nil {
		return nil, fmt.Errorf("metric %q is not registered", name)
	}
	return parent.AddSubmetric(tags), nil
}

// AddListener subscribes l to every subsequent Push.
func (r *Registry) AddListener(l Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

// Push aggregates samples into their metrics and forwards them to listeners.
// Samples without a metric are ignored.
func (r *Registry) Push(samples ...Sample) {
	if len(samples) == 0 {
		return
	}
	for i := range samples {
		if samples[i].Metric == nil {
			continue
		}
		if samples[i].Time.IsZero() {
			samples[i].Time = time.Now()
		}
		samples[i].Metric.add(samples[i])
	}

	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, l := range r.listeners {
		l.Forward(samples)
	}
}

// MetricSnapshot is the aggregated state of one metric or submetric.
type MetricSnapshot struct {
	Name       string             `json:"name"`
	Type       MetricType         `json:"type"`
	Contains   ValueType          `json:"contains"`
	Tags       Tags               `json:"tags,omitempty"`
	Empty      bool               `json:"empty"`
	Values     map[string]float64 `json:"values"`
	Submetrics []MetricSnapshot   `json:"submetrics,omitempty"`
}

// Snapshot is a point-in-time view of every metric in a registry.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Elapsed   time.Duration    `json:"elapsed"`
	Metrics   []MetricSnapshot `json:"metrics"`
}

// Get returns the snapshot of the named metric or submetric.
func (s *Snapshot) Get(name string) (MetricSnapshot, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
		for _, sm := range m.Submetrics {
			if sm.Name == name {
				return sm, true
			}
		}
	}
	return MetricSnapshot{}, false
}

// Snapshot aggregates every metric. Trend metrics additionally report the
// given percentiles.
func (r *Registry) Snapshot(elapsed time.Duration, percentiles ...float64) *Snapshot {
	snap := &Snapshot{Timestamp: time.Now(), Elapsed: elapsed}
	for _, m := range r.All() {
		ms := MetricSnapshot{
			Name:     m.Name,
			Type:     m.Type,
			Contains: m.Contains,
			Empty:    m.Empty(),
			Values:   m.Values(elapsed, percentiles...),
		}
		for _, sm := range m.Submetrics() {
			ms.Submetrics = append(ms.Submetrics, MetricSnapshot{
				Name:     sm.Name,
				Type:     m.Type,
				Contains: m.Contains,
				Tags:     sm.Tags,
				Empty:    sm.Empty(),
				Values:   sm.Values(elapsed, percentiles...),
			})
		}
		snap.Metrics = append(snap.Metrics, ms)
	}
	return snap
}
