package worker

// ============================================================================
// Worker Pool Test File
// Purpose: Verify initialization, execution, interruption, graceful shutdown
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Helpers
// ============================================================================

func echoFunc(_ context.Context, kind string, input types.Payload) (types.Payload, error) {
	return types.Payload{"kind": kind, "input": input}, nil
}

// nextEvent waits for the next event of type want, skipping others.
func nextEvent(t *testing.T, p *Pool, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func startPool(t *testing.T, count, capacity int, fn Func, init Initializer) *Pool {
	t.Helper()
	pool := NewPool(64)
	require.NoError(t, pool.Start(context.Background(), count, capacity, fn, init))
	t.Cleanup(pool.Stop)
	return pool
}

func task(id string) Task {
	return Task{RequestID: types.RequestID(id), Kind: "echo", Input: types.Payload{"id": id}, Ctx: context.Background()}
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

// TestNewPool tests creating a pool
func TestNewPool(t *testing.T) {
	pool := NewPool(10)
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.GetWorkerCount())
	assert.False(t, pool.IsStarted())
}

// TestPoolStart tests starting workers and reporting readiness
func TestPoolStart(t *testing.T) {
	pool := startPool(t, 4, 1, echoFunc, nil)
	assert.Equal(t, 4, pool.GetWorkerCount())
	assert.True(t, pool.IsStarted())

	ready := map[int]bool{}
	for i := 0; i < 4; i++ {
		ready[nextEvent(t, pool, EventReady).WorkerID] = true
	}
	assert.Len(t, ready, 4)

	assert.ErrorIs(t, pool.Start(context.Background(), 2, 1, echoFunc, nil), ErrPoolStarted)
}

// TestWorkerExecution tests the started/finished event pair
func TestWorkerExecution(t *testing.T) {
	pool := startPool(t, 1, 1, echoFunc, nil)
	nextEvent(t, pool, EventReady)

	require.NoError(t, pool.Assign(0, task("r1")))

	started := nextEvent(t, pool, EventStarted)
	assert.Equal(t, types.RequestID("r1"), started.RequestID)

	finished := nextEvent(t, pool, EventFinished)
	assert.Equal(t, types.RequestID("r1"), finished.RequestID)
	assert.NoError(t, finished.Err)
	assert.False(t, finished.Interrupted)
	assert.Equal(t, "echo", finished.Value["kind"])
}

// TestWorkerError tests that function errors are reported as-is
func TestWorkerError(t *testing.T) {
	boom := errors.New("boom")
	pool := startPool(t, 1, 1, func(context.Context, string, types.Payload) (types.Payload, error) {
		return nil, boom
	}, nil)
	nextEvent(t, pool, EventReady)

	require.NoError(t, pool.Assign(0, task("r1")))
	ev := nextEvent(t, pool, EventFinished)
	assert.ErrorIs(t, ev.Err, boom)
	assert.False(t, ev.Interrupted)
}

// TestWorkerPanicRecovered tests that a panicking function becomes an error
func TestWorkerPanicRecovered(t *testing.T) {
	pool := startPool(t, 1, 1, func(context.Context, string, types.Payload) (types.Payload, error) {
		panic("divide by zero")
	}, nil)
	nextEvent(t, pool, EventReady)

	require.NoError(t, pool.Assign(0, task("r1")))
	ev := nextEvent(t, pool, EventFinished)
	assert.ErrorIs(t, ev.Err, types.ErrCalculation)

	// worker keeps serving
	require.NoError(t, pool.Assign(0, task("r2")))
	ev = nextEvent(t, pool, EventFinished)
	assert.Equal(t, types.RequestID("r2"), ev.RequestID)
}

// ============================================================================
// Interruption Tests
// ============================================================================

// TestWorkerInterrupted tests that cancelling the task context ends the task
// without waiting for the function
func TestWorkerInterrupted(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	pool := startPool(t, 1, 1, func(context.Context, string, types.Payload) (types.Payload, error) {
		<-release
		return types.Payload{}, nil
	}, nil)
	nextEvent(t, pool, EventReady)

	ctx, cancel := context.WithCancel(context.Background())
	tk := task("slow")
	tk.Ctx = ctx
	require.NoError(t, pool.Assign(0, tk))
	nextEvent(t, pool, EventStarted)

	cancel()
	ev := nextEvent(t, pool, EventFinished)
	assert.True(t, ev.Interrupted)
	assert.ErrorIs(t, ev.Err, context.Canceled)
}

// TestWorkerSkipsCancelledTask tests that a task cancelled while buffered is
// never started
func TestWorkerSkipsCancelledTask(t *testing.T) {
	var calls int32
	pool := startPool(t, 1, 1, func(context.Context, string, types.Payload) (types.Payload, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}, nil)
	nextEvent(t, pool, EventReady)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tk := task("gone")
	tk.Ctx = ctx
	require.NoError(t, pool.Assign(0, tk))

	ev := nextEvent(t, pool, EventFinished)
	assert.True(t, ev.Interrupted)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

// ============================================================================
// Initialization Tests
// ============================================================================

// TestInitializerFailure tests that a failed initializer keeps the worker out
func TestInitializerFailure(t *testing.T) {
	pool := startPool(t, 2, 1, echoFunc, func(_ context.Context, id int) error {
		if id == 1 {
			return errors.New("tables missing")
		}
		return nil
	})

	seen := map[EventType]int{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-pool.Events():
			seen[ev.Type]++
			if ev.Type == EventInitFailed {
				assert.Equal(t, 1, ev.WorkerID)
				assert.Error(t, ev.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing init event")
		}
	}
	assert.Equal(t, 1, seen[EventReady])
	assert.Equal(t, 1, seen[EventInitFailed])
}

// TestTaskBufferedBeforeReady tests that a task assigned during a slow
// initialization runs once the worker is ready
func TestTaskBufferedBeforeReady(t *testing.T) {
	gate := make(chan struct{})
	pool := startPool(t, 1, 1, echoFunc, func(context.Context, int) error {
		<-gate
		return nil
	})

	require.NoError(t, pool.Assign(0, task("early")))
	close(gate)

	nextEvent(t, pool, EventReady)
	ev := nextEvent(t, pool, EventFinished)
	assert.Equal(t, types.RequestID("early"), ev.RequestID)
}

// ============================================================================
// Capacity and Lifecycle Tests
// ============================================================================

// TestWorkerCapacity tests that a worker runs up to capacity tasks at once
func TestWorkerCapacity(t *testing.T) {
	var running, peak int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	pool := startPool(t, 1, 2, func(context.Context, string, types.Payload) (types.Payload, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		entered <- struct{}{}
		<-release
		atomic.AddInt32(&running, -1)
		return nil, nil
	}, nil)
	nextEvent(t, pool, EventReady)

	require.NoError(t, pool.Assign(0, task("a")))
	require.NoError(t, pool.Assign(0, task("b")))
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("both tasks should run at once")
		}
	}

	close(release)
	nextEvent(t, pool, EventFinished)
	nextEvent(t, pool, EventFinished)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

// TestAssignErrors tests the pool guard rails
func TestAssignErrors(t *testing.T) {
	pool := NewPool(4)
	assert.ErrorIs(t, pool.Assign(0, task("x")), ErrPoolNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	// never ready until cancelled, so nothing drains the buffer
	require.NoError(t, pool.Start(ctx, 1, 1, echoFunc, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	defer pool.Stop()
	defer cancel()

	assert.ErrorIs(t, pool.Assign(5, task("x")), ErrUnknownWorker)
	require.NoError(t, pool.Assign(0, task("a")))
	assert.ErrorIs(t, pool.Assign(0, task("b")), ErrWorkerBusy)
}

// TestStopIsIdempotent tests graceful shutdown
func TestStopIsIdempotent(t *testing.T) {
	pool := NewPool(4)
	require.NoError(t, pool.Start(context.Background(), 3, 1, echoFunc, nil))

	done := make(chan struct{})
	go func() {
		pool.Stop()
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.ErrorIs(t, pool.Assign(0, task("late")), ErrPoolClosed)
}

// TestStopCancelsInitializer tests that Stop does not wait out a blocked initializer
func TestStopCancelsInitializer(t *testing.T) {
	pool := NewPool(4)
	require.NoError(t, pool.Start(context.Background(), 2, 1, echoFunc, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited for a blocked initializer")
	}
}

// TestHandleBookkeeping tests slot accounting and worker ordering
func TestHandleBookkeeping(t *testing.T) {
	now := time.Now()
	a, b := NewHandle(0), NewHandle(1)
	a.Ready, b.Ready = true, true

	a.Acquire("r1", now)
	a.Acquire("r1", now)
	assert.Equal(t, 1, a.ActiveRequests)
	assert.Equal(t, int64(1), a.TotalAssigned)
	assert.False(t, a.HasCapacity(1))
	assert.True(t, b.Better(a))

	assert.True(t, a.Release("r1", now.Add(40*time.Millisecond)))
	assert.False(t, a.Release("r1", now.Add(50*time.Millisecond)))
	a.TotalCompleted++
	assert.Equal(t, now.Add(40*time.Millisecond), a.LastIdleAt)
	assert.InDelta(t, 40, a.Stats().AverageResponseTimeMs, 0.001)

	// equal load: the most recently idle wins
	assert.True(t, a.Better(b))

	// cancelled slot time is averaged over every released request
	a.Acquire("r2", now)
	assert.True(t, a.Release("r2", now.Add(20*time.Millisecond)))
	a.TotalCancelled++
	assert.InDelta(t, 30, a.Stats().AverageResponseTimeMs, 0.001)
	assert.Equal(t, "finished", fmt.Sprint(EventFinished))
}
