package metrics

import (
	"testing"
	"time"
)

func TestTimeline_IntervalRates(t *testing.T) {
	tl := NewTimeline(10)
	start := time.Now()

	tl.Record(start.Add(time.Second), time.Second, Totals{Requests: 100, Failures: 0})
	p := tl.Record(start.Add(3*time.Second), 3*time.Second, Totals{Requests: 300, Failures: 20})

	if p.IntervalRequests != 200 {
		t.Errorf("IntervalRequests = %d, want 200", p.IntervalRequests)
	}
	if p.IntervalRPS != 100 {
		t.Errorf("IntervalRPS = %v, want 100", p.IntervalRPS)
	}
	if p.IntervalErrorRate != 0.1 {
		t.Errorf("IntervalErrorRate = %v, want 0.1", p.IntervalErrorRate)
	}

	first := tl.Points()[0]
	if first.IntervalRPS != 100 {
		t.Errorf("first point RPS = %v, want 100 (100 requests over 1s elapsed)", first.IntervalRPS)
	}
}

func TestTimeline_RingBuffer(t *testing.T) {
	tl := NewTimeline(3)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		tl.Record(now.Add(time.Duration(i)*time.Second), time.Duration(i)*time.Second, Totals{Requests: int64(i)})
	}

	if tl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tl.Len())
	}
	pts := tl.Points()
	for i, want := range []int64{3, 4, 5} {
		if pts[i].Requests != want {
			t.Errorf("Points()[%d].Requests = %d, want %d", i, pts[i].Requests, want)
		}
	}

	latest, ok := tl.Latest()
	if !ok || latest.Requests != 5 {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
	if got := tl.Recent(2); len(got) != 2 || got[0].Requests != 4 {
		t.Errorf("Recent(2) = %+v", got)
	}
}

func TestTimeline_Empty(t *testing.T) {
	tl := NewTimeline(0)
	if _, ok := tl.Latest(); ok {
		t.Error("Latest() on empty timeline should report false")
	}
	if tl.Points() != nil {
		t.Error("Points() on empty timeline should be nil")
	}
}
