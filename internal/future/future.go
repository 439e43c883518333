// Package future provides a single-assignment result handle for asynchronous
// calculations. Callers block on Done or Wait; nothing polls.
package future

import (
	"context"
	"sync"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// Future resolves exactly once with a result or an error.
type Future struct {
	id   types.RequestID
	once sync.Once
	done chan struct{}

	result types.CalculationResult
	err    error
}

// New returns an unresolved future for id.
func New(id types.RequestID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the request id the future was created for. It may be empty for
// futures created before an id was known.
func (f *Future) ID() types.RequestID { return f.id }

// Resolve sets the outcome. Only the first call has an effect; it returns
// false for every later call.
func (f *Future) Resolve(result types.CalculationResult, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome without blocking. ok is false while unresolved.
func (f *Future) Result() (result types.CalculationResult, err error, ok bool) {
	select {
	case <-f.done:
		return f.result, f.err, true
	default:
		return types.CalculationResult{}, nil, false
	}
}

// Wait blocks until the future resolves or ctx is done. Giving up on the wait
// does not cancel the underlying request.
func (f *Future) Wait(ctx context.Context) (types.CalculationResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return types.CalculationResult{}, ctx.Err()
	}
}

// Forward resolves dst with src's outcome once src resolves. It returns
// immediately; the copy happens on a separate goroutine.
func Forward(src, dst *Future) {
	go func() {
		<-src.Done()
		dst.Resolve(src.result, src.err)
	}()
}
