package worker

import (
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// Handle is the dispatcher's bookkeeping for one worker. It is not safe for
// concurrent use; the dispatcher mutates it under its own lock.
type Handle struct {
	ID             int
	Ready          bool
	InitErr        error
	ActiveRequests int
	TotalAssigned  int64
	TotalCompleted int64
	TotalErrors    int64
	TotalCancelled int64
	TotalTimedOut  int64
	LastUsedAt     time.Time
	LastIdleAt     time.Time
	BusyTime       time.Duration

	inflight map[types.RequestID]time.Time
}

// WorkerStats is the exported view of a Handle.
type WorkerStats struct {
	ID                    int       `json:"id"`
	Ready                 bool      `json:"ready"`
	ActiveRequests        int       `json:"active_requests"`
	TotalAssigned         int64     `json:"total_assigned"`
	TotalCompleted        int64     `json:"total_completed"`
	TotalErrors           int64     `json:"total_errors"`
	TotalCancelled        int64     `json:"total_cancelled"`
	TotalTimedOut         int64     `json:"total_timed_out"`
	AverageResponseTimeMs float64   `json:"average_response_time_ms"`
	LastUsedAt            time.Time `json:"last_used_at"`
	LastIdleAt            time.Time `json:"last_idle_at"`
}

// NewHandle returns the bookkeeping for worker id, not yet ready.
func NewHandle(id int) *Handle {
	return &Handle{ID: id, inflight: make(map[types.RequestID]time.Time)}
}

// Acquire records an assignment of id to this worker.
func (h *Handle) Acquire(id types.RequestID, now time.Time) {
	if _, held := h.inflight[id]; held {
		return
	}
	h.inflight[id] = now
	h.ActiveRequests++
	h.TotalAssigned++
	h.LastUsedAt = now
}

// Release frees the slot held by id. It reports false when the slot was
// already released, e.g. by a timeout before the worker acknowledged.
func (h *Handle) Release(id types.RequestID, now time.Time) bool {
	since, held := h.inflight[id]
	if !held {
		return false
	}
	delete(h.inflight, id)
	h.ActiveRequests--
	h.BusyTime += now.Sub(since)
	if h.ActiveRequests == 0 {
		h.LastIdleAt = now
	}
	return true
}

// HasCapacity reports whether the worker can take another request.
func (h *Handle) HasCapacity(capacity int) bool {
	return h.Ready && h.ActiveRequests < capacity
}

// Stats returns the exported counters.
func (h *Handle) Stats() WorkerStats {
	var avg float64
	// BusyTime covers every released slot, whatever its outcome
	if finished := h.TotalCompleted + h.TotalErrors + h.TotalCancelled + h.TotalTimedOut; finished > 0 {
		avg = float64(h.BusyTime.Milliseconds()) / float64(finished)
	}
	return WorkerStats{
		ID:                    h.ID,
		Ready:                 h.Ready,
		ActiveRequests:        h.ActiveRequests,
		TotalAssigned:         h.TotalAssigned,
		TotalCompleted:        h.TotalCompleted,
		TotalErrors:           h.TotalErrors,
		TotalCancelled:        h.TotalCancelled,
		TotalTimedOut:         h.TotalTimedOut,
		AverageResponseTimeMs: avg,
		LastUsedAt:            h.LastUsedAt,
		LastIdleAt:            h.LastIdleAt,
	}
}

// Better reports whether h is a better assignment target than other: fewer
// active requests first, then the most recently idle.
func (h *Handle) Better(other *Handle) bool {
	if other == nil {
		return true
	}
	if h.ActiveRequests != other.ActiveRequests {
		return h.ActiveRequests < other.ActiveRequests
	}
	return h.LastIdleAt.After(other.LastIdleAt)
}
