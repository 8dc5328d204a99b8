package metrics

import (
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"
)

func TestCounterSink(t *testing.T) {
	s := &CounterSink{}
	if !s.IsEmpty() {
		t.Error("new sink should be empty")
	}
	for i := 0; i < 10; i++ {
		s.Add(Sample{Value: 2, Time: time.Now()})
	}
	v := s.Format(4 * time.Second)
	if v["count"] != 20 {
		t.Errorf("count = %v, want 20", v["count"])
	}
	if v["rate"] != 5 {
		t.Errorf("rate = %v, want 5", v["rate"])
	}
	if s.Format(0)["rate"] != 0 {
		t.Error("rate over zero elapsed should be 0")
	}
}

func TestGaugeSink(t *testing.T) {
	s := &GaugeSink{}
	for _, v := range []float64{5, 2, 8, 3} {
		s.Add(Sample{Value: v})
	}
	v := s.Format(0)
	if v["value"] != 3 || v["min"] != 2 || v["max"] != 8 {
		t.Errorf("Format() = %v, want value=3 min=2 max=8", v)
	}
}

func TestRateSink(t *testing.T) {
	s := &RateSink{}
	if s.Rate() != 0 {
		t.Error("empty rate should be 0")
	}
	for i := 0; i < 10; i++ {
		s.Add(Sample{Value: B(i%4 == 0)})
	}
	v := s.Format(0)
	if v["passes"] != 3 || v["fails"] != 7 {
		t.Errorf("passes/fails = %v/%v, want 3/7", v["passes"], v["fails"])
	}
	if v["rate"] != v["passes"]/(v["passes"]+v["fails"]) {
		t.Errorf("rate = %v, want passes/(passes+fails)", v["rate"])
	}
}

func TestTrendSink_ExactStats(t *testing.T) {
	s := NewTrendSink()
	for _, v := range []float64{10, 20, 30, 40} {
		s.Add(Sample{Value: v})
	}
	v := s.Format(0)
	if v["count"] != 4 || v["min"] != 10 || v["max"] != 40 || v["avg"] != 25 {
		t.Errorf("Format() = %v", v)
	}
	if s.P(0) != 10 || s.P(100) != 40 {
		t.Errorf("P(0)/P(100) = %v/%v, want 10/40", s.P(0), s.P(100))
	}
}

func TestTrendSink_PercentilesWithinPrecision(t *testing.T) {
	s := NewTrendSink()
	rng := rand.New(rand.NewSource(42))
	values := make([]float64, 5000)
	for i := range values {
		values[i] = rng.Float64()*2000 + 1
		s.Add(Sample{Value: values[i]})
	}
	sort.Float64s(values)

	for _, pct := range []float64{50, 90, 95, 99} {
		idx := int(math.Ceil(pct/100*float64(len(values)))) - 1
		exact := values[idx]
		got := s.P(pct)
		if math.Abs(got-exact)/exact > 0.01 {
			t.Errorf("P(%v) = %v, exact %v (off by more than 1%%)", pct, got, exact)
		}
	}
}

func TestTrendSink_NegativeAndHuge(t *testing.T) {
	s := NewTrendSink()
	s.Add(Sample{Value: -5})
	s.Add(Sample{Value: 1e15})

	if s.Min != -5 {
		t.Errorf("Min = %v, want exact -5", s.Min)
	}
	if s.Max != 1e15 {
		t.Errorf("Max = %v, want exact 1e15", s.Max)
	}
	if p := s.P(50); p < s.Min || p > s.Max {
		t.Errorf("P(50) = %v outside [min,max]", p)
	}
}

func TestPercentileKey(t *testing.T) {
	if PercentileKey(95) != "p(95)" {
		t.Errorf("PercentileKey(95) = %q", PercentileKey(95))
	}
	if PercentileKey(99.9) != "p(99.9)" {
		t.Errorf("PercentileKey(99.9) = %q", PercentileKey(99.9))
	}
}

func TestTags(t *testing.T) {
	base := Tags{"scenario": "a"}
	derived := base.With("status", "200")
	if _, ok := base["status"]; ok {
		t.Error("With must not mutate the receiver")
	}
	if !derived.Contains(Tags{"scenario": "a"}) {
		t.Error("derived tags should contain base")
	}
	if derived.Contains(Tags{"scenario": "b"}) {
		t.Error("Contains should compare values")
	}
	if got := derived.Merge(Tags{"scenario": "b"}).String(); got != "scenario:b,status:200" {
		t.Errorf("Merge().String() = %q", got)
	}
}
