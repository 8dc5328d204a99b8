package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestRegistry_NewMetric(t *testing.T) {
	r := NewRegistry()

	m, err := r.NewMetric("my_trend", Trend, Time)
	if err != nil {
		t.Fatalf("NewMetric() error = %v", err)
	}
	if m.Type != Trend || m.Contains != Time {
		t.Errorf("metric = %s/%s, want trend/time", m.Type, m.Contains)
	}

	again, err := r.NewMetric("my_trend", Trend, Time)
	if err != nil {
		t.Fatalf("redeclaring identical metric: %v", err)
	}
	if again != m {
		t.Error("identical redeclaration should return the existing metric")
	}

	if _, err := r.NewMetric("my_trend", Counter); err == nil {
		t.Error("conflicting redeclaration should fail")
	}
	if _, err := r.NewMetric("1bad-name", Counter); err == nil {
		t.Error("invalid name should fail")
	}
}

func TestRegistry_AllSorted(t *testing.T) {
	r := NewRegistry()
	r.MustNewMetric("zeta", Counter)
	r.MustNewMetric("alpha", Gauge)
	r.MustNewMetric("mid", Rate)

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	if all[0].Name != "alpha" || all[2].Name != "zeta" {
		t.Errorf("All() not sorted: %s, %s, %s", all[0].Name, all[1].Name, all[2].Name)
	}
}

func TestRegistry_ConcurrentPush(t *testing.T) {
	r := NewRegistry()
	c := r.MustNewMetric("hits", Counter)
	tr := r.MustNewMetric("lat", Trend, Time)

	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Push(NewSample(c, 1, nil), NewSample(tr, 5, nil))
			}
		}()
	}
	wg.Wait()

	if got := c.Values(0)["count"]; got != 10000 {
		t.Errorf("count = %v, want 10000", got)
	}
	if got := tr.Values(0)["count"]; got != 10000 {
		t.Errorf("trend count = %v, want 10000", got)
	}
}

func TestRegistry_Submetric(t *testing.T) {
	r := NewRegistry()
	m := r.MustNewMetric("http_req_duration", Trend, Time)

	sm, err := r.Submetric("http_req_duration{scenario:browse}")
	if err != nil {
		t.Fatalf("Submetric() error = %v", err)
	}
	if sm.Name != "http_req_duration{scenario:browse}" {
		t.Errorf("Name = %q", sm.Name)
	}

	r.Push(
		NewSample(m, 100, Tags{"scenario": "browse", "status": "200"}),
		NewSample(m, 900, Tags{"scenario": "checkout"}),
		NewSample(m, 300, Tags{"scenario": "browse"}),
	)

	if got := m.Values(0)["count"]; got != 3 {
		t.Errorf("parent count = %v, want 3", got)
	}
	v := sm.Values(0)
	if v["count"] != 2 {
		t.Errorf("submetric count = %v, want 2", v["count"])
	}
	if v["max"] != 300 {
		t.Errorf("submetric max = %v, want 300", v["max"])
	}

	same, _ := r.Submetric("http_req_duration{ scenario: browse }")
	if same != sm {
		t.Error("equivalent filter should return the same submetric")
	}

	if _, err := r.Submetric("unknown{a:b}"); err == nil {
		t.Error("submetric of unregistered metric should fail")
	}
	if _, err := r.Submetric("http_req_duration"); err == nil {
		t.Error("expression without filter should fail")
	}
}

func TestParseMetricName(t *testing.T) {
	tests := []struct {
		expr    string
		name    string
		tags    string
		wantErr bool
	}{
		{expr: "checks", name: "checks"},
		{expr: "http_reqs{status:200}", name: "http_reqs", tags: "status:200"},
		{expr: `http_reqs{ url:"http://x/a", method:GET }`, name: "http_reqs", tags: "method:GET,url:http://x/a"},
		{expr: "http_reqs{status}", wantErr: true},
		{expr: "http_reqs{}", wantErr: true},
		{expr: "http_reqs{a:b", wantErr: true},
		{expr: "bad name", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			name, tags, err := ParseMetricName(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if name != tt.name {
				t.Errorf("name = %q, want %q", name, tt.name)
			}
			if tags.String() != tt.tags {
				t.Errorf("tags = %q, want %q", tags.String(), tt.tags)
			}
		})
	}
}

type captureListener struct {
	mu      sync.Mutex
	samples []Sample
}

func (c *captureListener) Forward(s []Sample) {
	c.mu.Lock()
	c.samples = append(c.samples, s...)
	c.mu.Unlock()
}

func TestRegistry_ListenersAndTimestamps(t *testing.T) {
	r := NewRegistry()
	m := r.MustNewMetric("vus", Gauge)
	l := &captureListener{}
	r.AddListener(l)

	r.Push(Sample{Metric: m, Value: 3})

	if len(l.samples) != 1 {
		t.Fatalf("listener got %d samples, want 1", len(l.samples))
	}
	if l.samples[0].Time.IsZero() {
		t.Error("Push should stamp samples without a time")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	b := RegisterBuiltinMetrics(r)
	r.MustNewMetric("custom", Counter)
	_, _ = r.Submetric("http_reqs{status:500}")

	r.Push(
		NewSample(b.HTTPReqs, 1, Tags{"status": "200"}),
		NewSample(b.HTTPReqs, 1, Tags{"status": "500"}),
		NewSample(b.HTTPReqDuration, 10, nil),
	)

	snap := r.Snapshot(2*time.Second, 99)
	reqs, ok := snap.Get("http_reqs")
	if !ok {
		t.Fatal("http_reqs missing from snapshot")
	}
	if reqs.Values["count"] != 2 || reqs.Values["rate"] != 1 {
		t.Errorf("http_reqs values = %v", reqs.Values)
	}
	sub, ok := snap.Get("http_reqs{status:500}")
	if !ok || sub.Values["count"] != 1 {
		t.Errorf("submetric snapshot = %+v, ok=%v", sub, ok)
	}
	dur, _ := snap.Get("http_req_duration")
	if _, ok := dur.Values["p(99)"]; !ok {
		t.Error("requested percentile missing from trend snapshot")
	}
	if custom, _ := snap.Get("custom"); !custom.Empty {
		t.Error("custom metric without samples should be empty")
	}
}

func TestBuiltinMetrics_Totals(t *testing.T) {
	r := NewRegistry()
	b := RegisterBuiltinMetrics(r)

	r.Push(
		NewSample(b.VUs, 4, nil),
		NewSample(b.Iterations, 1, nil),
		NewSample(b.HTTPReqs, 1, nil),
		NewSample(b.HTTPReqs, 1, nil),
		NewSample(b.HTTPReqFailed, 1, nil),
		NewSample(b.HTTPReqFailed, 0, nil),
		NewSample(b.HTTPReqDuration, 20, nil),
	)

	tot := b.Totals()
	if tot.VUs != 4 || tot.Iterations != 1 || tot.Requests != 2 || tot.Failures != 1 {
		t.Errorf("Totals() = %+v", tot)
	}
	if tot.P95 != 20 {
		t.Errorf("P95 = %v, want 20", tot.P95)
	}
}
