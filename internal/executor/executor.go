// Package executor provides the scheduling policies that drive virtual users.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/surge/internal/vu"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate starts iterations at a fixed rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps the iteration start rate according to stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"

	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"

	// TypeSharedIterations shares a total iteration count across VUs.
	TypeSharedIterations Type = "shared-iterations"
)

// Defaults applied by the configuration layer.
const (
	DefaultGracefulStop     = 30 * time.Second
	DefaultGracefulRampDown = 30 * time.Second
	DefaultMaxDuration      = 10 * time.Minute
	DefaultTimeUnit         = time.Second
)

// Executor is a load generation strategy.
//
// Executors decide when iterations start: either by managing a set of
// looping VUs (closed model) or by starting iterations at a target rate
// regardless of how long they take (open model).
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run drives VUs from pool through runner and blocks until the schedule
	// and its graceful stop have ended. Cancelling ctx interrupts in-flight
	// iterations immediately.
	Run(ctx context.Context, pool *vu.Pool, runner *vu.Runner) error

	// Progress returns current progress in [0, 1].
	Progress() float64

	// ActiveVUs returns the number of VUs currently allowed to start iterations.
	ActiveVUs() int

	// Stats returns executor statistics.
	Stats() *Stats

	// Stop ends the schedule early; in-flight iterations get the graceful
	// stop period to finish. It waits for Run to wind down or ctx to end.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name.
	Name string `json:"name" yaml:"name"`

	Type Type `json:"type" yaml:"type"`

	// VU-based executors
	VUs        int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration   time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Iterations int64         `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds per-vu-iterations and shared-iterations.
	MaxDuration time.Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// Ramping VUs
	StartVUs         int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	GracefulRampDown time.Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Arrival-rate executors. Rates are iterations per TimeUnit.
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	StartRate       float64       `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// StartTime delays the scenario relative to the test start.
	StartTime time.Duration `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop is how long in-flight iterations may run past the end
	// of the schedule before they are interrupted.
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing between iterations of VU-driven executors
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate per time unit (ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Bounds for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`
	MaxVUs    int `json:"maxVUs"`

	// Iterations counts finished iterations, failed ones included.
	Iterations  int64 `json:"iterations"`
	Interrupted int64 `json:"interrupted"`
	Dropped     int64 `json:"dropped"`
	// TotalIterations is the planned total for iteration-based executors.
	TotalIterations int64 `json:"totalIterations,omitempty"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages,omitempty"`

	// Rates in iterations per second
	CurrentRate float64 `json:"currentRate,omitempty"`
	TargetRate  float64 `json:"targetRate,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "executor", Message: "executor type is required"}
	}
	if c.StartTime < 0 {
		return &ValidationError{Field: "startTime", Message: "startTime must be >= 0"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if err := c.Pacing.validate(); err != nil {
		return err
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		if c.GracefulRampDown < 0 {
			return &ValidationError{Field: "gracefulRampDown", Message: "gracefulRampDown must be >= 0"}
		}
		if err := validateStages(c.Stages); err != nil {
			return err
		}
		if c.PeakVUs() == 0 {
			return &ValidationError{Field: "stages", Message: "startVUs or at least one stage target must be > 0"}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if err := c.validateArrivalVUs(); err != nil {
			return err
		}

	case TypeRampingArrivalRate:
		if c.StartRate < 0 {
			return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
		}
		if err := validateStages(c.Stages); err != nil {
			return err
		}
		if err := c.validateArrivalVUs(); err != nil {
			return err
		}

	case TypePerVUIterations, TypeSharedIterations:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Iterations <= 0 {
			return &ValidationError{Field: "iterations", Message: "iterations must be > 0"}
		}
		if c.MaxDuration < 0 {
			return &ValidationError{Field: "maxDuration", Message: "maxDuration must be >= 0"}
		}
		if c.Type == TypeSharedIterations && c.Iterations < int64(c.VUs) {
			return &ValidationError{
				Field:   "iterations",
				Message: fmt.Sprintf("iterations (%d) must not be less than vus (%d)", c.Iterations, c.VUs),
			}
		}

	default:
		return &ValidationError{Field: "executor", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

func (c *Config) validateArrivalVUs() error {
	if c.TimeUnit < 0 {
		return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
	}
	if c.PreAllocatedVUs < 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
	}
	if c.MaxVUs != 0 && c.MaxVUs < c.PreAllocatedVUs {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
	}
	if c.PreAllocatedVUs == 0 && c.MaxVUs == 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs or maxVUs must be > 0"}
	}
	return nil
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	var total time.Duration
	for i, s := range stages {
		if s.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
		}
		if s.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
		total += s.Duration
	}
	if total <= 0 {
		return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
	}
	return nil
}

func (p *PacingConfig) validate() error {
	if p == nil {
		return nil
	}
	switch p.Type {
	case "", PacingNone:
	case PacingConstant:
		if p.Duration < 0 {
			return &ValidationError{Field: "pacing.duration", Message: "duration must be >= 0"}
		}
	case PacingRandom:
		if p.Min < 0 || p.Max < p.Min {
			return &ValidationError{Field: "pacing", Message: "random pacing needs 0 <= min <= max"}
		}
	default:
		return &ValidationError{Field: "pacing.type", Message: "unknown pacing type: " + string(p.Type)}
	}
	return nil
}

// TotalDuration returns the scheduled duration, excluding graceful stop.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration

	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	case TypePerVUIterations, TypeSharedIterations:
		if c.MaxDuration > 0 {
			return c.MaxDuration
		}
		return DefaultMaxDuration

	default:
		return 0
	}
}

// PeakVUs returns the most VUs the executor can use at once.
func (c *Config) PeakVUs() int {
	switch c.Type {
	case TypeRampingVUs:
		most := c.StartVUs
		for _, s := range c.Stages {
			if s.Target > most {
				most = s.Target
			}
		}
		return most
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		if c.MaxVUs > c.PreAllocatedVUs {
			return c.MaxVUs
		}
		return c.PreAllocatedVUs
	default:
		return c.VUs
	}
}

// InitialVUs returns how many VUs should be initialized before the
// scenario starts.
func (c *Config) InitialVUs() int {
	switch c.Type {
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		return c.PreAllocatedVUs
	default:
		return c.PeakVUs()
	}
}

// ratePerSecond converts a per-TimeUnit rate to iterations per second.
func (c *Config) ratePerSecond(r float64) float64 {
	unit := c.TimeUnit
	if unit <= 0 {
		unit = DefaultTimeUnit
	}
	return r / unit.Seconds()
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
