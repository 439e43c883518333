// ============================================================================
// Calculation Worker - task execution unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: runs the pure calculation function for tasks assigned by the
//           dispatcher and reports progress as events
//
// How it works:
//   1. Run the optional Initializer, report EventReady or EventInitFailed
//   2. Start `capacity` lanes; each lane receives from the worker's task channel
//   3. For each task: report EventStarted, compute, report EventFinished
//   4. Exit when the stop channel closes
//
// Execution Model:
//   ┌─────────────────────────────────────────┐
//   │  Lane goroutine                         │
//   │  ┌──────────────────────────────────┐   │
//   │  │ task := <-tasks                  │   │
//   │  │   ├─ EventStarted                │   │
//   │  │   ├─ go fn(task) ──→ done        │   │
//   │  │   ├─ select done / task.Ctx      │   │
//   │  │   └─ EventFinished               │   │
//   │  └──────────────────────────────────┘   │
//   └─────────────────────────────────────────┘
//
// Interruption:
//   The pure function runs in a helper goroutine. When the task context ends
//   first, the lane reports Interrupted=true at once and moves on; whatever
//   the helper returns later is dropped. A panic inside the function is
//   recovered into an error.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// Worker owns one task channel and a fixed number of execution lanes.
type Worker struct {
	id       int
	capacity int
	fn       Func
	init     Initializer
	tasks    chan Task
	events   chan<- Event
	stopCh   <-chan struct{}
}

func newWorker(id, capacity int, fn Func, init Initializer, events chan<- Event, stopCh <-chan struct{}) *Worker {
	if capacity < 1 {
		capacity = 1
	}
	return &Worker{
		id:       id,
		capacity: capacity,
		fn:       fn,
		init:     init,
		tasks:    make(chan Task, capacity),
		events:   events,
		stopCh:   stopCh,
	}
}

// ID returns the worker index.
func (w *Worker) ID() int { return w.id }

// Run initializes the worker and serves tasks until the stop channel closes.
func (w *Worker) Run(ctx context.Context) {
	if w.init != nil {
		if err := w.runInit(ctx); err != nil {
			w.emit(Event{Type: EventInitFailed, WorkerID: w.id, Err: err})
			return
		}
	}
	w.emit(Event{Type: EventReady, WorkerID: w.id})

	var lanes sync.WaitGroup
	for i := 0; i < w.capacity; i++ {
		lanes.Add(1)
		go func() {
			defer lanes.Done()
			w.lane()
		}()
	}
	lanes.Wait()
}

// offer hands t to the worker without blocking.
func (w *Worker) offer(t Task) bool {
	select {
	case w.tasks <- t:
		return true
	default:
		return false
	}
}

func (w *Worker) lane() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.tasks:
			w.execute(task)
		}
	}
}

type outcome struct {
	value types.Payload
	err   error
}

func (w *Worker) execute(task Task) {
	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// cancelled before the lane picked it up
	if ctx.Err() != nil {
		w.emit(Event{Type: EventFinished, WorkerID: w.id, RequestID: task.RequestID, Err: ctx.Err(), Interrupted: true})
		return
	}

	w.emit(Event{Type: EventStarted, WorkerID: w.id, RequestID: task.RequestID})

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", types.ErrCalculation, r)}
			}
		}()
		value, err := w.fn(ctx, task.Kind, task.Input)
		done <- outcome{value: value, err: err}
	}()

	ev := Event{Type: EventFinished, WorkerID: w.id, RequestID: task.RequestID}
	select {
	case out := <-done:
		ev.Value, ev.Err = out.value, out.err
	case <-ctx.Done():
		ev.Err, ev.Interrupted = ctx.Err(), true
	case <-w.stopCh:
		ev.Err, ev.Interrupted = types.ErrShutdown, true
	}
	ev.Duration = time.Since(start)
	w.emit(ev)
}

func (w *Worker) runInit(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d init panic: %v", w.id, r)
		}
	}()
	return w.init(ctx, w.id)
}

func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.stopCh:
	}
}
