package executor

import (
	"context"
	"math"
	"time"

	"github.com/wesleyorama2/surge/internal/vu"
)

// RampingArrivalRate changes the iteration start rate over a series of
// stages (open model).
//
// The rate is interpolated linearly from startRate through each stage
// target. Start times come from integrating that rate: iteration i starts
// at the moment the cumulative count reaches i (i+1 when startRate is 0),
// so a ramp produces exactly the area under the rate curve.
type RampingArrivalRate struct {
	base

	plan *arrivalPlan
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{base: base{typ: TypeRampingArrivalRate}}
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	if err := e.init(config, TypeRampingArrivalRate); err != nil {
		return err
	}
	e.plan = newArrivalPlan(config)
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, pool *vu.Pool, runner *vu.Runner) error {
	w, err := e.begin(ctx, pool, runner)
	if err != nil {
		return err
	}
	defer e.end(w)

	start := e.startTime()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for i := int64(0); ; i++ {
		at, ok := e.plan.startOf(i)
		if !ok {
			return nil
		}
		if wait := time.Until(start.Add(at)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-w.schedule.Done():
				return nil
			case <-timer.C:
			}
		}
		if w.schedule.Err() != nil {
			return nil
		}
		e.startArrival(w)
	}
}

// Progress returns elapsed time over the total stage duration.
func (e *RampingArrivalRate) Progress() float64 {
	return e.timeProgress()
}

// Stats returns executor statistics.
func (e *RampingArrivalRate) Stats() *Stats {
	st := e.baseStats()
	stageInfo(st, e.config.Stages, st.Elapsed)
	if e.plan != nil {
		st.TargetRate = e.plan.rateAt(st.Elapsed)
		st.TotalIterations = e.plan.total()
	}
	if secs := st.Elapsed.Seconds(); secs > 0 {
		st.CurrentRate = float64(st.Iterations+st.Interrupted+st.Dropped+int64(st.ActiveVUs)) / secs
	}
	return st
}

// arrivalPlan is the piecewise-linear rate schedule in iterations per second.
type arrivalPlan struct {
	segments []segment
	offset   float64
}

type segment struct {
	start    float64 // seconds from scenario start
	length   float64 // seconds
	from, to float64 // rate per second at either end
	before   float64 // cumulative iterations at start
}

func newArrivalPlan(c *Config) *arrivalPlan {
	p := &arrivalPlan{}
	if c.StartRate <= 0 {
		p.offset = 1
	}
	from := c.ratePerSecond(c.StartRate)
	var at, cum float64
	for _, s := range c.Stages {
		to := c.ratePerSecond(float64(s.Target))
		length := s.Duration.Seconds()
		if length > 0 {
			p.segments = append(p.segments, segment{start: at, length: length, from: from, to: to, before: cum})
			cum += (from + to) / 2 * length
			at += length
		}
		from = to
	}
	return p
}

// count is the cumulative number of scheduled starts over the whole plan.
func (p *arrivalPlan) count() float64 {
	if len(p.segments) == 0 {
		return 0
	}
	last := p.segments[len(p.segments)-1]
	return last.before + (last.from+last.to)/2*last.length
}

// total is how many iterations the plan starts. A start that would fall
// exactly on the end of the last stage is not counted.
func (p *arrivalPlan) total() int64 {
	n := p.count() - p.offset
	if n <= 0 {
		return 0
	}
	return int64(math.Ceil(n - 1e-9))
}

// startOf returns when iteration i starts, or false if the plan ends first.
func (p *arrivalPlan) startOf(i int64) (time.Duration, bool) {
	n := float64(i) + p.offset
	if n >= p.count()-1e-9 {
		return 0, false
	}
	for _, s := range p.segments {
		area := (s.from + s.to) / 2 * s.length
		if n > s.before+area+1e-9 {
			continue
		}
		c := n - s.before
		if c <= 0 {
			return secs(s.start), true
		}
		a := (s.to - s.from) / (2 * s.length)
		b := s.from
		denom := b + math.Sqrt(math.Max(0, b*b+4*a*c))
		if denom <= 0 {
			return secs(s.start), true
		}
		return secs(s.start + 2*c/denom), true
	}
	return 0, false
}

// rateAt is the planned rate per second at t.
func (p *arrivalPlan) rateAt(t time.Duration) float64 {
	x := t.Seconds()
	for _, s := range p.segments {
		if x < s.start+s.length {
			frac := (x - s.start) / s.length
			if frac < 0 {
				frac = 0
			}
			return s.from + (s.to-s.from)*frac
		}
	}
	if len(p.segments) == 0 {
		return 0
	}
	return p.segments[len(p.segments)-1].to
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var _ Executor = (*RampingArrivalRate)(nil)
