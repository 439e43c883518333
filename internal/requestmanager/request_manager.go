// ============================================================================
// Request Manager - pending request table and lifecycle
// ============================================================================
//
// Package: internal/requestmanager
// File: request_manager.go
// Function: tracks every request that missed the cache until it reaches a
//           terminal state
//
// State machine:
//
//	        ┌────────── cancelled / timed_out ──────────┐
//	        │                                           ↓
//	queued ─┴→ assigned ─→ running ─→ completed | failed | cancelled | timed_out
//	              │                              ↑
//	              └──────── (any terminal) ──────┘
//
//	A terminal transition removes the entry from the table. Later events for
//	that id find nothing and are dropped by the caller.
//
// Concurrency:
//   Manager has no lock of its own. The dispatcher owns it and only touches
//   it while holding its coordination mutex.
//
// ============================================================================

package requestmanager

import (
	"context"
	"errors"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/future"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrDuplicateRequest means the id is already pending.
	ErrDuplicateRequest = errors.New("request already pending")
	// ErrRequestNotFound means the id is not pending (never added or already terminal).
	ErrRequestNotFound = errors.New("request not found")
	// ErrInvalidTransition means the requested status change is not allowed.
	ErrInvalidTransition = errors.New("invalid request status transition")
)

// ============================================================================
// Data structures
// ============================================================================

// Entry is one pending request together with its runtime handles.
type Entry struct {
	Request types.CalculationRequest
	Key     string // fingerprint, used as the cache key
	Status  types.RequestStatus

	WorkerID    int // -1 until assigned
	SubmittedAt time.Time
	AssignedAt  time.Time
	StartedAt   time.Time

	Future *future.Future
	Ctx    context.Context
	Cancel context.CancelFunc
	Timer  *time.Timer
}

// Stats counts pending requests by status plus terminal totals since start.
type Stats struct {
	Queued   int `json:"queued"`
	Assigned int `json:"assigned"`
	Running  int `json:"running"`

	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	TimedOut  int64 `json:"timed_out"`
}

// Manager is the pending-request table.
type Manager struct {
	requests map[types.RequestID]*Entry
	queue    []types.RequestID

	completed int64
	failed    int64
	cancelled int64
	timedOut  int64
}

// New creates an empty table.
func New() *Manager {
	return &Manager{
		requests: make(map[types.RequestID]*Entry),
		queue:    make([]types.RequestID, 0),
	}
}

// ============================================================================
// Table operations
// ============================================================================

// Add registers e as queued. It does not put it on the FIFO queue.
func (m *Manager) Add(e *Entry) error {
	if _, exists := m.requests[e.Request.ID]; exists {
		return ErrDuplicateRequest
	}
	e.Status = types.StatusQueued
	e.WorkerID = -1
	m.requests[e.Request.ID] = e
	return nil
}

// Get returns the pending entry for id, or nil.
func (m *Manager) Get(id types.RequestID) *Entry {
	return m.requests[id]
}

// Len returns the number of pending requests.
func (m *Manager) Len() int { return len(m.requests) }

// IDs returns every pending id, queued ones first in FIFO order.
func (m *Manager) IDs() []types.RequestID {
	ids := make([]types.RequestID, 0, len(m.requests))
	ids = append(ids, m.queue...)
	for id, e := range m.requests {
		if e.Status != types.StatusQueued {
			ids = append(ids, id)
		}
	}
	return ids
}

// ============================================================================
// FIFO queue
// ============================================================================

// Enqueue appends a queued request to the FIFO.
func (m *Manager) Enqueue(id types.RequestID) error {
	e, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if e.Status != types.StatusQueued {
		return ErrInvalidTransition
	}
	m.queue = append(m.queue, id)
	return nil
}

// PushFront puts a request back at the head of the FIFO. Used when an
// assignment could not be delivered to the worker.
func (m *Manager) PushFront(id types.RequestID) error {
	e, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if e.Status != types.StatusAssigned && e.Status != types.StatusQueued {
		return ErrInvalidTransition
	}
	e.Status = types.StatusQueued
	e.WorkerID = -1
	e.AssignedAt = time.Time{}
	m.queue = append([]types.RequestID{id}, m.queue...)
	return nil
}

// PopQueued removes and returns the oldest queued request, or nil.
func (m *Manager) PopQueued() *Entry {
	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		if e, ok := m.requests[id]; ok && e.Status == types.StatusQueued {
			return e
		}
	}
	return nil
}

// RemoveQueued drops id from the FIFO. It reports whether it was there.
func (m *Manager) RemoveQueued(id types.RequestID) bool {
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

// QueueLen returns the FIFO depth.
func (m *Manager) QueueLen() int { return len(m.queue) }

// ============================================================================
// Transitions
// ============================================================================

// MarkAssigned moves a queued request to a worker.
func (m *Manager) MarkAssigned(id types.RequestID, workerID int, now time.Time) error {
	e, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if e.Status != types.StatusQueued {
		return ErrInvalidTransition
	}
	e.Status = types.StatusAssigned
	e.WorkerID = workerID
	e.AssignedAt = now
	return nil
}

// MarkRunning records that the worker started computing.
func (m *Manager) MarkRunning(id types.RequestID, now time.Time) error {
	e, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if e.Status != types.StatusAssigned {
		return ErrInvalidTransition
	}
	e.Status = types.StatusRunning
	e.StartedAt = now
	return nil
}

// Finish moves id to a terminal status and removes it from the table. The
// removed entry is returned so the caller can notify the waiter.
func (m *Manager) Finish(id types.RequestID, status types.RequestStatus) (*Entry, error) {
	e, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if !status.IsTerminal() {
		return nil, ErrInvalidTransition
	}
	if e.Status == types.StatusQueued && (status == types.StatusCompleted || status == types.StatusFailed) {
		return nil, ErrInvalidTransition
	}

	if e.Status == types.StatusQueued {
		m.RemoveQueued(id)
	}
	e.Status = status
	delete(m.requests, id)

	switch status {
	case types.StatusCompleted:
		m.completed++
	case types.StatusFailed:
		m.failed++
	case types.StatusCancelled:
		m.cancelled++
	case types.StatusTimedOut:
		m.timedOut++
	}
	return e, nil
}

// Stats returns the current distribution.
func (m *Manager) Stats() Stats {
	s := Stats{
		Completed: m.completed,
		Failed:    m.failed,
		Cancelled: m.cancelled,
		TimedOut:  m.timedOut,
	}
	for _, e := range m.requests {
		switch e.Status {
		case types.StatusQueued:
			s.Queued++
		case types.StatusAssigned:
			s.Assigned++
		case types.StatusRunning:
			s.Running++
		}
	}
	return s
}
