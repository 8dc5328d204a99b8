package vu

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
)

// Tracker counts VUs across every pool of a test; it feeds the vus and
// vus_max metrics and hands out globally unique VU ids.
type Tracker struct {
	nextID      atomic.Int64
	active      atomic.Int64
	initialized atomic.Int64
}

// NextID returns a fresh 1-based VU id.
func (t *Tracker) NextID() int64 { return t.nextID.Add(1) }

// Active returns the number of VUs currently handed out by all pools.
func (t *Tracker) Active() int64 { return t.active.Load() }

// Initialized returns the number of VUs created by all pools.
func (t *Tracker) Initialized() int64 { return t.initialized.Load() }

// Pool owns the VUs of one scenario. VUs are created lazily, up to a cap,
// and recycled through an idle queue.
//
// # Thread Safety
//
// Pool is safe for concurrent use.
type Pool struct {
	scenario string
	max      int64
	client   *http.Client
	tracker  *Tracker
	// newClient, when set, gives every VU its own client.
	newClient func() *http.Client

	idle    chan *VU
	created atomic.Int64
	active  atomic.Int64

	mu  sync.Mutex
	all []*VU
}

// NewPool creates a pool that will never hold more than maxVUs VUs. A nil
// tracker gets a private one.
func NewPool(scenario string, maxVUs int, client *http.Client, tracker *Tracker) *Pool {
	if maxVUs < 1 {
		maxVUs = 1
	}
	if tracker == nil {
		tracker = &Tracker{}
	}
	return &Pool{
		scenario: scenario,
		max:      int64(maxVUs),
		client:   client,
		tracker:  tracker,
		idle:     make(chan *VU, maxVUs),
	}
}

// SetClientFactory makes the pool build a dedicated HTTP client for each VU
// it creates. It must be called before the first VU is created.
func (p *Pool) SetClientFactory(f func() *http.Client) {
	p.newClient = f
}

// Init pre-allocates up to n idle VUs and returns how many were created.
func (p *Pool) Init(n int) int {
	made := 0
	for i := 0; i < n; i++ {
		v, ok := p.create()
		if !ok {
			break
		}
		p.idle <- v
		made++
	}
	return made
}

func (p *Pool) create() (*VU, bool) {
	for {
		cur := p.created.Load()
		if cur >= p.max {
			return nil, false
		}
		if p.created.CompareAndSwap(cur, cur+1) {
			client := p.client
			if p.newClient != nil {
				client = p.newClient()
			}
			v := New(p.tracker.NextID(), cur+1, p.scenario, client)
			p.tracker.initialized.Add(1)

			p.mu.Lock()
			p.all = append(p.all, v)
			p.mu.Unlock()
			return v, true
		}
	}
}

func (p *Pool) activate(v *VU) *VU {
	v.Activate()
	p.active.Add(1)
	p.tracker.active.Add(1)
	return v
}

// TryGet returns an idle VU, creating one if the cap allows. It never blocks.
func (p *Pool) TryGet() (*VU, bool) {
	select {
	case v := <-p.idle:
		return p.activate(v), true
	default:
	}
	if v, ok := p.create(); ok {
		return p.activate(v), true
	}
	return nil, false
}

// Get is like TryGet but waits for a VU to be returned when the pool is
// exhausted.
func (p *Pool) Get(ctx context.Context) (*VU, error) {
	if v, ok := p.TryGet(); ok {
		return v, nil
	}
	select {
	case v := <-p.idle:
		return p.activate(v), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a VU obtained from Get or TryGet.
func (p *Pool) Put(v *VU) {
	v.Release()
	p.active.Add(-1)
	p.tracker.active.Add(-1)
	p.idle <- v
}

// Max returns the pool's cap.
func (p *Pool) Max() int { return int(p.max) }

// Created returns how many VUs the pool has initialized.
func (p *Pool) Created() int { return int(p.created.Load()) }

// Active returns how many VUs are currently handed out.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Close marks every VU of the pool stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.all {
		v.MarkStopped()
	}
}
