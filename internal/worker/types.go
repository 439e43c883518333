package worker

import (
	"context"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// Func is the pure calculation a worker executes. It must not keep state
// between calls; ctx is cancelled when the request is cancelled or times out.
type Func func(ctx context.Context, kind string, input types.Payload) (types.Payload, error)

// Initializer runs once per worker before it accepts tasks, e.g. to load
// lookup tables. A non-nil error keeps the worker out of rotation.
type Initializer func(ctx context.Context, workerID int) error

// Task is one request handed to a worker.
type Task struct {
	RequestID types.RequestID // request being computed
	Kind      string          // selects the pure function
	Input     types.Payload   // calculation input
	Ctx       context.Context // cancelled on cancel or timeout
}

// EventType identifies a worker report.
type EventType int

const (
	EventReady      EventType = iota // initialization finished
	EventInitFailed                  // initialization failed, worker exits
	EventStarted                     // computation of a task began
	EventFinished                    // computation ended or was interrupted
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventInitFailed:
		return "init_failed"
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	}
	return "unknown"
}

// Event is a report from a worker to the dispatcher.
type Event struct {
	Type        EventType
	WorkerID    int
	RequestID   types.RequestID
	Value       types.Payload // set on a successful finish
	Err         error         // init or computation error
	Interrupted bool          // task context ended before the function returned
	Duration    time.Duration // time spent computing
}
