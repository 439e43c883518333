// ============================================================================
// Worker Pool - calculation worker lifecycle
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: starts the fixed set of calculation workers, routes assignments
//           to a specific worker and fans their events into one channel
//
// Architecture:
//   ┌────────────┐  Assign(id, task)   ┌──────────┐
//   │ Dispatcher │ ──────────────────→ │ Worker 0 │──┐
//   └────────────┘                     │ Worker 1 │──┤ events
//         ↑                            │ Worker N │──┤
//         └──────────── Events() ←─────┴──────────┘──┘
//
// Lifecycle:
//   1. NewPool(bufferSize) - create the shared event channel
//   2. Start(ctx, n, ...)   - launch n workers (each initializes on its own)
//   3. Assign(id, task)     - non-blocking hand-off to worker id
//   4. Stop()               - close stopCh, cancel initializers, wait for
//                             every worker
//
// Task channels are never closed; workers leave through stopCh, so a late
// Assign racing with Stop returns ErrPoolClosed instead of panicking.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrPoolClosed means the pool has been stopped.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted means Start has not been called.
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted means Start was called twice.
	ErrPoolStarted = errors.New("worker pool already started")
	// ErrWorkerBusy means the worker's task buffer is full.
	ErrWorkerBusy = errors.New("worker task buffer full")
	// ErrUnknownWorker means the worker id is out of range.
	ErrUnknownWorker = errors.New("unknown worker")
)

// Pool manages a fixed set of workers.
type Pool struct {
	workers []*Worker
	events  chan Event
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// NewPool creates a pool whose event channel buffers bufferSize events.
func NewPool(bufferSize int) *Pool {
	return &Pool{
		workers: make([]*Worker, 0),
		events:  make(chan Event, bufferSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches count workers, each able to run capacity tasks at once.
// Workers report EventReady once their initializer has finished.
func (p *Pool) Start(ctx context.Context, count, capacity int, fn Func, init Initializer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < count; i++ {
		w := newWorker(i, capacity, fn, init, p.events, p.stopCh)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}

	p.started = true
	return nil
}

// Assign hands task to worker id without blocking.
func (p *Pool) Assign(id int, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}
	if id < 0 || id >= len(p.workers) {
		return ErrUnknownWorker
	}
	if !p.workers[id].offer(task) {
		return ErrWorkerBusy
	}
	return nil
}

// Events returns the channel every worker reports on.
func (p *Pool) Events() <-chan Event { return p.events }

// Stop signals every worker and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	wasStarted := p.started
	cancel := p.cancel
	p.mu.Unlock()

	close(p.stopCh)
	if cancel != nil {
		cancel()
	}
	if wasStarted {
		p.wg.Wait()
	}
}

// GetWorkerCount returns the number of launched workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted reports whether Start succeeded.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
