package types

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced to callers of the pipeline.
var (
	// ErrValidation means the input payload is malformed. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrCalculation means the pure function failed. Surfaced as-is.
	ErrCalculation = errors.New("calculation error")
	// ErrTimeout means the request deadline passed.
	ErrTimeout = errors.New("request timed out")
	// ErrCancelled means the request was superseded or cancelled. Routine.
	ErrCancelled = errors.New("request cancelled")
	// ErrPoolExhausted means the dispatcher queue is full.
	ErrPoolExhausted = errors.New("worker pool exhausted")
	// ErrCache is a cache read/write failure. Absorbed by the dispatcher.
	ErrCache = errors.New("cache error")
	// ErrShutdown means the pool stopped before the request finished.
	ErrShutdown = errors.New("pipeline shut down")
)

// ErrorKind names an error class for logs, metrics and UI translation.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindCalculation   ErrorKind = "calculation"
	KindTimeout       ErrorKind = "timeout"
	KindCancelled     ErrorKind = "cancelled"
	KindPoolExhausted ErrorKind = "pool_exhausted"
	KindCache         ErrorKind = "cache"
	KindShutdown      ErrorKind = "shutdown"
	KindInternal      ErrorKind = "internal"
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:    ErrValidation,
	KindCalculation:   ErrCalculation,
	KindTimeout:       ErrTimeout,
	KindCancelled:     ErrCancelled,
	KindPoolExhausted: ErrPoolExhausted,
	KindCache:         ErrCache,
	KindShutdown:      ErrShutdown,
}

// CalcError carries the error kind and the request it belongs to.
type CalcError struct {
	Kind      ErrorKind
	RequestID RequestID
	Err       error
}

// NewError wraps cause under kind. A nil cause uses the kind's sentinel.
func NewError(kind ErrorKind, id RequestID, cause error) *CalcError {
	if cause == nil {
		cause = kindSentinels[kind]
	}
	return &CalcError{Kind: kind, RequestID: id, Err: cause}
}

func (e *CalcError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("request %s: %s: %v", e.RequestID, e.Kind, e.Err)
}

func (e *CalcError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrTimeout)
// holds for any timeout regardless of the wrapped cause.
func (e *CalcError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf classifies err. Unknown non-nil errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ce *CalcError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsRoutine reports whether err should not be shown to the user as a failure.
func IsRoutine(err error) bool {
	return errors.Is(err, ErrCancelled)
}
