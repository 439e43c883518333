// Package calculator holds the pure calculation functions the workers run,
// keyed by calculator kind.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

var (
	// ErrUnknownKind means no calculator is registered for the kind.
	ErrUnknownKind = fmt.Errorf("%w: unknown calculator kind", types.ErrValidation)
	// ErrDuplicateKind means Register was called twice for one kind.
	ErrDuplicateKind = errors.New("calculator kind already registered")
)

// Complexity classifies how expensive a calculator is. It picks the default
// debounce delay for its inputs.
type Complexity int

const (
	Simple Complexity = iota
	Complex
)

// Default debounce delays per complexity.
const (
	SimpleBaseDelay  = 200 * time.Millisecond
	ComplexBaseDelay = 400 * time.Millisecond
)

func (c Complexity) String() string {
	if c == Complex {
		return "complex"
	}
	return "simple"
}

// BaseDelay returns the default debounce delay for the complexity.
func (c Complexity) BaseDelay() time.Duration {
	if c == Complex {
		return ComplexBaseDelay
	}
	return SimpleBaseDelay
}

// Calculator is one registered pure function.
type Calculator struct {
	Kind       string
	Complexity Complexity
	// Validate rejects malformed input with an error wrapping types.ErrValidation.
	Validate func(input types.Payload) error
	// Compute must be deterministic for a given input.
	Compute func(ctx context.Context, input types.Payload) (types.Payload, error)
}

// Registry maps kinds to calculators. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	calcs map[string]Calculator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{calcs: make(map[string]Calculator)}
}

// DefaultRegistry returns a registry with the built-in interest calculators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range []Calculator{CompoundInterest(), SimpleInterest(), SavingsGoal()} {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds c.
func (r *Registry) Register(c Calculator) error {
	if c.Kind == "" || c.Compute == nil {
		return fmt.Errorf("calculator %q: kind and compute are required", c.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calcs[c.Kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, c.Kind)
	}
	r.calcs[c.Kind] = c
	return nil
}

// Lookup returns the calculator for kind.
func (r *Registry) Lookup(kind string) (Calculator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calcs[kind]
	return c, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.calcs))
	for k := range r.calcs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// BaseDelays returns the default debounce delay of every registered kind.
func (r *Registry) BaseDelays() map[string]time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Duration, len(r.calcs))
	for k, c := range r.calcs {
		out[k] = c.Complexity.BaseDelay()
	}
	return out
}

// Validate checks that kind exists and input passes its validator.
func (r *Registry) Validate(kind string, input types.Payload) error {
	c, ok := r.Lookup(kind)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if c.Validate == nil {
		return nil
	}
	return c.Validate(input)
}

// Compute runs the calculator for kind. Its signature matches worker.Func.
func (r *Registry) Compute(ctx context.Context, kind string, input types.Payload) (types.Payload, error) {
	c, ok := r.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if c.Validate != nil {
		if err := c.Validate(input); err != nil {
			return nil, err
		}
	}
	return c.Compute(ctx, input)
}
