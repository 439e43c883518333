// Package types defines the core domain model shared by the calculation pipeline.
package types

import (
	"time"
)

// RequestID uniquely identifies one calculation request.
type RequestID string

// Payload is an opaque structured document: calculation input or result.
// Values follow JSON conventions (float64, string, bool, nested maps and slices).
type Payload map[string]interface{}

// RequestStatus is the lifecycle state of a calculation request.
type RequestStatus string

// Request lifecycle states.
const (
	StatusQueued    RequestStatus = "queued"    // accepted, waiting for a ready worker
	StatusAssigned  RequestStatus = "assigned"  // handed to a worker, not yet started
	StatusRunning   RequestStatus = "running"   // worker is computing
	StatusCompleted RequestStatus = "completed" // pure function returned a value
	StatusFailed    RequestStatus = "failed"    // pure function returned an error
	StatusCancelled RequestStatus = "cancelled" // superseded or explicitly cancelled
	StatusTimedOut  RequestStatus = "timed_out" // deadline passed before a terminal response
)

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// CalculationRequest is one unit of work for the dispatcher.
type CalculationRequest struct {
	ID         RequestID     `json:"id"`
	InstanceID string        `json:"instance_id,omitempty"` // calculator instance that issued it, if any
	Kind       string        `json:"kind"`                  // selects the pure function
	Input      Payload       `json:"input"`
	CreatedAt  time.Time     `json:"created_at"`
	Deadline   time.Time     `json:"deadline"`
	Timeout    time.Duration `json:"timeout,omitempty"` // overrides the pool default when > 0
}

// CalculationResult is the successful outcome handed to the caller.
type CalculationResult struct {
	RequestID   RequestID     `json:"request_id"`
	Kind        string        `json:"kind"`
	Value       Payload       `json:"value"`
	Cached      bool          `json:"cached"`
	WorkerID    int           `json:"worker_id"` // -1 when served from the cache
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}
