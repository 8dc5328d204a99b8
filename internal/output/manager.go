package output

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
)

// DefaultFlushInterval is how often buffered samples reach the outputs.
const DefaultFlushInterval = time.Second

// Manager fans samples out to outputs. It is a metrics.Listener: Forward
// only buffers, and a single goroutine flushes the buffer every interval so
// slow outputs never block the iterations that emit samples.
type Manager struct {
	outputs  []Output
	interval time.Duration
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	buffer []metrics.Sample

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a manager for outputs.
func NewManager(logger *zap.SugaredLogger, outputs ...Output) *Manager {
	return &Manager{
		outputs:  outputs,
		interval: DefaultFlushInterval,
		logger:   logging.OrNop(logger),
	}
}

// SetFlushInterval overrides the flush interval. Call it before Start.
func (m *Manager) SetFlushInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Outputs returns the managed outputs.
func (m *Manager) Outputs() []Output { return m.outputs }

// Forward implements metrics.Listener.
func (m *Manager) Forward(samples []metrics.Sample) {
	if len(m.outputs) == 0 {
		return
	}
	m.mu.Lock()
	m.buffer = append(m.buffer, samples...)
	m.mu.Unlock()
}

// Start starts every output and the flush loop. If one output fails to
// start, those already started are stopped again.
func (m *Manager) Start() error {
	for i, o := range m.outputs {
		if err := o.Start(); err != nil {
			for _, started := range m.outputs[:i] {
				_ = started.Stop()
			}
			return fmt.Errorf("starting output %s: %w", o.Description(), err)
		}
		m.logger.Infow("output started", "output", o.Description())
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.started = true
	go m.loop()
	return nil
}

func (m *Manager) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.flush()
		}
	}
}

func (m *Manager) flush() {
	m.mu.Lock()
	batch := m.buffer
	m.buffer = nil
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, o := range m.outputs {
		o.AddSamples(batch)
	}
}

// Stop flushes what is buffered and stops every output.
func (m *Manager) Stop() error {
	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	<-m.doneCh
	m.flush()

	var errs []error
	for _, o := range m.outputs {
		if err := o.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping output %s: %w", o.Description(), err))
		}
	}
	return errors.Join(errs...)
}
