package executor

import (
	"math"
	"time"
)

// interpolate returns the stage target at t, linear between the previous
// target (start for the first stage) and the current stage's target.
// Zero-duration stages jump straight to their target.
func interpolate(start float64, stages []Stage, t time.Duration) float64 {
	prev := start
	var offset time.Duration
	for _, s := range stages {
		end := offset + s.Duration
		if t < end {
			frac := float64(t-offset) / float64(s.Duration)
			return prev + (float64(s.Target)-prev)*frac
		}
		prev = float64(s.Target)
		offset = end
	}
	return prev
}

// minBetween returns the lowest target over [t0, t1]. Targets are piecewise
// linear, so only the ends and the stage boundaries inside need checking.
func minBetween(start float64, stages []Stage, t0, t1 time.Duration) float64 {
	lowest := math.Min(interpolate(start, stages, t0), interpolate(start, stages, t1))

	var offset time.Duration
	for _, s := range stages {
		offset += s.Duration
		if offset <= t0 {
			continue
		}
		if offset >= t1 {
			break
		}
		lowest = math.Min(lowest, interpolate(start, stages, offset))
		lowest = math.Min(lowest, interpolate(start, stages, offset-1))
	}
	return lowest
}

// stageAt returns the index of the stage running at t, or len(stages) once
// every stage has ended.
func stageAt(stages []Stage, t time.Duration) int {
	var offset time.Duration
	for i, s := range stages {
		offset += s.Duration
		if t < offset {
			return i
		}
	}
	return len(stages)
}

// stageInfo fills the stage fields of st for elapsed time t.
func stageInfo(st *Stats, stages []Stage, t time.Duration) {
	idx := stageAt(stages, t)
	st.TotalStages = len(stages)
	st.CurrentStage = idx
	if idx < len(stages) {
		st.CurrentStageName = stages[idx].Name
	} else if len(stages) > 0 {
		st.CurrentStage = len(stages) - 1
		st.CurrentStageName = stages[len(stages)-1].Name
	}
}
