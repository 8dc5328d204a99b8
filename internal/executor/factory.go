package executor

import (
	"context"
	"fmt"
)

// NewExecutor creates a new executor of the specified type.
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeRampingArrivalRate:
		return NewRampingArrivalRate(), nil
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	case TypeSharedIterations:
		return NewSharedIterations(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	for _, t := range GetSupportedExecutors() {
		if string(t) == executorType {
			return true
		}
	}
	return false
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeSharedIterations,
		TypePerVUIterations,
		TypeConstantVUs,
		TypeRampingVUs,
		TypeConstantArrivalRate,
		TypeRampingArrivalRate,
	}
}

// ExecutorDescription provides documentation for an executor type.
type ExecutorDescription struct {
	Type        Type
	Name        string
	Model       string
	Description string
	Options     []string
}

// GetExecutorDescription returns documentation for an executor type.
func GetExecutorDescription(executorType Type) *ExecutorDescription {
	switch executorType {
	case TypeSharedIterations:
		return &ExecutorDescription{
			Type:        TypeSharedIterations,
			Name:        "Shared Iterations",
			Model:       "closed",
			Description: "A fixed total of iterations is shared between VUs; faster VUs run more of them.",
			Options:     []string{"vus", "iterations", "maxDuration"},
		}
	case TypePerVUIterations:
		return &ExecutorDescription{
			Type:        TypePerVUIterations,
			Name:        "Per VU Iterations",
			Model:       "closed",
			Description: "Every VU runs exactly the configured number of iterations.",
			Options:     []string{"vus", "iterations", "maxDuration"},
		}
	case TypeConstantVUs:
		return &ExecutorDescription{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Model:       "closed",
			Description: "A fixed number of VUs loop over iterations for a duration.",
			Options:     []string{"vus", "duration", "pacing"},
		}
	case TypeRampingVUs:
		return &ExecutorDescription{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Model:       "closed",
			Description: "The VU count follows linearly interpolated stage targets.",
			Options:     []string{"startVUs", "stages", "gracefulRampDown", "pacing"},
		}
	case TypeConstantArrivalRate:
		return &ExecutorDescription{
			Type:        TypeConstantArrivalRate,
			Name:        "Constant Arrival Rate",
			Model:       "open",
			Description: "Iterations start at a fixed rate regardless of response time; iterations without a free VU are dropped.",
			Options:     []string{"rate", "timeUnit", "duration", "preAllocatedVUs", "maxVUs"},
		}
	case TypeRampingArrivalRate:
		return &ExecutorDescription{
			Type:        TypeRampingArrivalRate,
			Name:        "Ramping Arrival Rate",
			Model:       "open",
			Description: "The iteration start rate follows linearly interpolated stage targets.",
			Options:     []string{"startRate", "timeUnit", "stages", "preAllocatedVUs", "maxVUs"},
		}
	default:
		return nil
	}
}
