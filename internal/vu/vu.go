// Package vu provides virtual users, the pool executors draw them from, and
// the iteration runner that executes one user-supplied iteration.
package vu

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// VUState represents the lifecycle state of a virtual user.
type VUState int32

const (
	// StateIdle indicates the VU is initialized but not running iterations.
	StateIdle VUState = iota
	// StateRunning indicates the VU is running iterations.
	StateRunning
	// StateStopping indicates the VU was asked to stop after its current iteration.
	StateStopping
	// StateStopped indicates the VU has fully stopped.
	StateStopped
)

func (s VUState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VU is a single simulated client.
//
// Each VU has its own iteration counter and key/value scope. The HTTP client
// is shared by the VUs of a pool unless connection reuse is disabled.
type VU struct {
	// ID is unique across every scenario of a test.
	ID int64
	// IDInScenario is 1-based within the VU's pool.
	IDInScenario int64
	Scenario     string
	HTTP         *http.Client

	state atomic.Int32

	stopMu sync.Mutex
	stopCh chan struct{}

	iterations atomic.Int64

	dataMu sync.RWMutex
	data   map[string]any
}

// New creates an idle VU.
func New(id, idInScenario int64, scenario string, client *http.Client) *VU {
	if client == nil {
		client = http.DefaultClient
	}
	return &VU{
		ID:           id,
		IDInScenario: idInScenario,
		Scenario:     scenario,
		HTTP:         client,
		stopCh:       make(chan struct{}),
		data:         make(map[string]any),
	}
}

// State returns the current lifecycle state.
func (v *VU) State() VUState {
	return VUState(v.state.Load())
}

// Iterations returns the number of iterations this VU has finished.
func (v *VU) Iterations() int64 {
	return v.iterations.Load()
}

// Activate marks the VU running and re-arms its stop signal. Pools call it
// each time the VU is handed to an executor.
func (v *VU) Activate() {
	v.stopMu.Lock()
	select {
	case <-v.stopCh:
		v.stopCh = make(chan struct{})
	default:
	}
	v.stopMu.Unlock()
	v.state.Store(int32(StateRunning))
}

// RequestStop asks the VU to stop once its current iteration ends.
func (v *VU) RequestStop() {
	if v.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) ||
		v.state.CompareAndSwap(int32(StateIdle), int32(StateStopping)) {
		v.stopMu.Lock()
		select {
		case <-v.stopCh:
		default:
			close(v.stopCh)
		}
		v.stopMu.Unlock()
	}
}

// StopRequested returns a channel closed once RequestStop was called.
func (v *VU) StopRequested() <-chan struct{} {
	v.stopMu.Lock()
	defer v.stopMu.Unlock()
	return v.stopCh
}

// Stopping reports whether a stop was requested.
func (v *VU) Stopping() bool {
	select {
	case <-v.StopRequested():
		return true
	default:
		return false
	}
}

// Release returns the VU to idle.
func (v *VU) Release() {
	v.state.Store(int32(StateIdle))
}

// MarkStopped marks the VU as permanently stopped.
func (v *VU) MarkStopped() {
	v.state.Store(int32(StateStopped))
}

// SetData stores a value in the VU's scope.
func (v *VU) SetData(key string, value any) {
	v.dataMu.Lock()
	v.data[key] = value
	v.dataMu.Unlock()
}

// GetData reads a value from the VU's scope.
func (v *VU) GetData(key string) (any, bool) {
	v.dataMu.RLock()
	defer v.dataMu.RUnlock()
	val, ok := v.data[key]
	return val, ok
}

// Data returns a copy of the VU's scope.
func (v *VU) Data() map[string]any {
	v.dataMu.RLock()
	defer v.dataMu.RUnlock()
	out := make(map[string]any, len(v.data))
	for k, val := range v.data {
		out[k] = val
	}
	return out
}
