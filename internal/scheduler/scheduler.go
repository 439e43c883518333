// ============================================================================
// Adaptive Input Scheduler - debounce in front of the dispatcher
// ============================================================================
//
// Package: internal/scheduler
// File: scheduler.go
// Function: coalesces bursts of "intent to calculate" events per calculator
//           instance into a single delayed dispatcher request
//
// Per Schedule call:
//   1. stop the instance's pending timer; its future resolves ErrCancelled
//   2. cancel the instance's in-flight dispatcher request, if any
//   3. record the input in the rolling window and pick a delay (NextDelay)
//   4. arm a new timer; on fire submit one request and forward its outcome
//
// Invariant: per instance at most one pending timer and at most one
// in-flight dispatcher request. Timer callbacks carry the generation they
// were armed with and do nothing once superseded.
//
// Lock order: Scheduler.mu may be held while calling Submitter.Submit (which
// never calls back into the scheduler). Futures are resolved after unlock.
//
// ============================================================================

package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/future"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// ErrClosed is returned by UpdateConfig after Close.
var ErrClosed = errors.New("scheduler closed")

// Submitter is the dispatcher surface the scheduler needs.
type Submitter interface {
	Submit(req types.CalculationRequest) *future.Future
	Cancel(id types.RequestID) bool
}

// Recorder receives scheduler counters for metrics.
type Recorder interface {
	RecordSchedulerInput(kind string)
	RecordSchedulerTrigger(kind string)
	RecordSchedulerCancellation(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSchedulerInput(string)        {}
func (nopRecorder) RecordSchedulerTrigger(string)      {}
func (nopRecorder) RecordSchedulerCancellation(string) {}

// ============================================================================
// Configuration
// ============================================================================

// Config holds the debounce settings. BaseDelayByKind overrides
// DefaultBaseDelay for specific calculator kinds.
type Config struct {
	BaseDelayByKind  map[string]time.Duration
	DefaultBaseDelay time.Duration
	MinDelay         time.Duration
	MaxDelay         time.Duration
	Window           time.Duration
	BurstThreshold   int
	PauseThreshold   time.Duration
	GrowFactor       float64
	ShrinkFactor     float64
}

// DefaultConfig returns the stock debounce settings.
func DefaultConfig() Config {
	return Config{
		BaseDelayByKind:  map[string]time.Duration{},
		DefaultBaseDelay: 300 * time.Millisecond,
		MinDelay:         100 * time.Millisecond,
		MaxDelay:         800 * time.Millisecond,
		Window:           10 * time.Second,
		BurstThreshold:   4,
		PauseThreshold:   1500 * time.Millisecond,
		GrowFactor:       1.5,
		ShrinkFactor:     0.5,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	var errs []error
	if c.MinDelay <= 0 || c.MaxDelay < c.MinDelay {
		errs = append(errs, fmt.Errorf("delay bounds must satisfy 0 < min (%s) <= max (%s)", c.MinDelay, c.MaxDelay))
	}
	if c.DefaultBaseDelay <= 0 {
		errs = append(errs, errors.New("default base delay must be positive"))
	}
	for kind, d := range c.BaseDelayByKind {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("base delay for %q must be positive", kind))
		}
	}
	if c.Window <= 0 {
		errs = append(errs, errors.New("window must be positive"))
	}
	if c.GrowFactor < 1 {
		errs = append(errs, errors.New("grow factor must be >= 1"))
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor > 1 {
		errs = append(errs, errors.New("shrink factor must be in (0, 1]"))
	}
	return errors.Join(errs...)
}

// Params returns the delay parameters for kind.
func (c Config) Params(kind string) Params {
	base, ok := c.BaseDelayByKind[kind]
	if !ok {
		base = c.DefaultBaseDelay
	}
	return Params{
		Base:           base,
		Min:            c.MinDelay,
		Max:            c.MaxDelay,
		GrowFactor:     c.GrowFactor,
		ShrinkFactor:   c.ShrinkFactor,
		BurstThreshold: c.BurstThreshold,
		PauseThreshold: c.PauseThreshold,
	}
}

// ============================================================================
// State
// ============================================================================

type debounceState struct {
	kind         string
	input        types.Payload
	timer        *time.Timer
	pending      *future.Future
	generation   uint64
	inputs       []time.Time
	lastInputAt  time.Time
	currentDelay time.Duration

	activeRequestID types.RequestID
}

// KindStats are the cumulative counters for one calculator kind.
type KindStats struct {
	Inputs        int64 `json:"inputs"`
	Triggers      int64 `json:"triggers"`
	Cancellations int64 `json:"cancellations"`
}

// Stats is a snapshot of the scheduler.
type Stats struct {
	Instances int                  `json:"instances"`
	Kinds     map[string]KindStats `json:"kinds"`
}

// InstanceState is the exported view of one instance's debounce state.
type InstanceState struct {
	InstanceID      string          `json:"instance_id"`
	Kind            string          `json:"kind"`
	InputsInWindow  int             `json:"inputs_in_window"`
	CurrentDelay    time.Duration   `json:"current_delay"`
	LastInputAt     time.Time       `json:"last_input_at"`
	TimerPending    bool            `json:"timer_pending"`
	ActiveRequestID types.RequestID `json:"active_request_id,omitempty"`
}

// Scheduler debounces calculation intents per calculator instance.
type Scheduler struct {
	submitter Submitter
	rec       Recorder
	log       *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	cfg       Config
	instances map[string]*debounceState
	kinds     map[string]*KindStats
	closed    bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now for cadence measurements. Timers still run on
// wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler in front of submitter.
func New(submitter Submitter, cfg Config, opts ...Option) (*Scheduler, error) {
	if submitter == nil {
		return nil, errors.New("scheduler requires a submitter")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid debounce config: %w", err)
	}
	s := &Scheduler{
		submitter: submitter,
		rec:       nopRecorder{},
		log:       slog.Default(),
		now:       time.Now,
		cfg:       cfg,
		instances: make(map[string]*debounceState),
		kinds:     make(map[string]*KindStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "scheduler")
	return s, nil
}

// ============================================================================
// Scheduling
// ============================================================================

// Schedule records an input for instanceID and returns a future for the
// calculation it may eventually trigger. The future resolves with
// ErrCancelled if a later input supersedes it.
func (s *Scheduler) Schedule(instanceID, kind string, input types.Payload) *future.Future {
	f := future.New("")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.Resolve(types.CalculationResult{}, types.NewError(types.KindShutdown, "", nil))
		return f
	}

	now := s.now()
	st, exists := s.instances[instanceID]
	if !exists {
		st = &debounceState{}
		s.instances[instanceID] = st
	}

	prevKind := st.kind
	superseded, cancelled := s.cancelLocked(st)

	st.inputs = pruneWindow(st.inputs, now, s.cfg.Window)
	st.inputs = append(st.inputs, now)

	delay := NextDelay(s.cfg.Params(kind), Signal{
		First:          !exists || st.lastInputAt.IsZero(),
		Previous:       st.currentDelay,
		Gap:            now.Sub(st.lastInputAt),
		InputsInWindow: len(st.inputs),
	})

	st.kind = kind
	st.input = input
	st.lastInputAt = now
	st.currentDelay = delay
	st.generation++
	st.pending = f
	gen := st.generation
	st.timer = time.AfterFunc(delay, func() { s.fire(instanceID, gen) })

	s.kindStats(kind).Inputs++
	s.mu.Unlock()

	s.rec.RecordSchedulerInput(kind)
	s.log.Debug("Input scheduled", "instance", instanceID, "kind", kind, "delay", delay)
	s.settle(prevKind, superseded, cancelled)
	return f
}

// cancelLocked stops the pending timer of st and cancels its in-flight
// request. Cancelling under the lock keeps a newer request from being
// submitted while the old one is still running. It returns the superseded
// future and how many cancellations were counted.
func (s *Scheduler) cancelLocked(st *debounceState) (superseded *future.Future, cancelled int) {
	if st.timer != nil {
		st.timer.Stop()
		superseded = st.pending
		st.timer = nil
		st.pending = nil
		cancelled++
	}
	if st.activeRequestID != "" {
		if s.submitter.Cancel(st.activeRequestID) {
			cancelled++
		}
		st.activeRequestID = ""
	}
	if cancelled > 0 {
		s.kindStats(st.kind).Cancellations += int64(cancelled)
	}
	return superseded, cancelled
}

// settle resolves the superseded future and reports cancellations. Lock not
// held.
func (s *Scheduler) settle(kind string, superseded *future.Future, cancelled int) {
	if superseded != nil {
		superseded.Resolve(types.CalculationResult{}, types.NewError(types.KindCancelled, "", nil))
	}
	for i := 0; i < cancelled; i++ {
		s.rec.RecordSchedulerCancellation(kind)
	}
}

func (s *Scheduler) fire(instanceID string, gen uint64) {
	s.mu.Lock()
	st, ok := s.instances[instanceID]
	if !ok || s.closed || st.generation != gen || st.pending == nil {
		s.mu.Unlock()
		return
	}

	f := st.pending
	kind := st.kind
	st.timer = nil
	st.pending = nil

	id := types.RequestID(uuid.NewString())
	st.activeRequestID = id
	s.kindStats(kind).Triggers++
	// submitted under the lock so a concurrent Schedule can always cancel it
	df := s.submitter.Submit(types.CalculationRequest{
		ID:         id,
		InstanceID: instanceID,
		Kind:       kind,
		Input:      st.input,
	})
	s.mu.Unlock()

	s.rec.RecordSchedulerTrigger(kind)
	s.log.Debug("Debounce fired", "instance", instanceID, "kind", kind, "requestID", id)

	future.Forward(df, f)
	go func() {
		<-df.Done()
		s.mu.Lock()
		if cur, ok := s.instances[instanceID]; ok && cur.activeRequestID == id {
			cur.activeRequestID = ""
		}
		s.mu.Unlock()
	}()
}

// Teardown cancels the instance's pending timer and in-flight request and
// forgets its state.
func (s *Scheduler) Teardown(instanceID string) {
	s.mu.Lock()
	st, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.generation++
	kind := st.kind
	superseded, cancelled := s.cancelLocked(st)
	delete(s.instances, instanceID)
	s.mu.Unlock()

	s.settle(kind, superseded, cancelled)
	s.log.Debug("Instance torn down", "instance", instanceID)
}

// Close tears down every instance. Later Schedule calls resolve with
// ErrShutdown.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Teardown(id)
	}
}

// UpdateConfig swaps the debounce settings. Running timers keep their delay.
func (s *Scheduler) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid debounce config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cfg = cfg
	return nil
}

// Config returns the active settings.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ============================================================================
// Introspection
// ============================================================================

// Stats returns the per-kind counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{Instances: len(s.instances), Kinds: make(map[string]KindStats, len(s.kinds))}
	for k, v := range s.kinds {
		out.Kinds[k] = *v
	}
	return out
}

// Instance returns the debounce state of instanceID.
func (s *Scheduler) Instance(instanceID string) (InstanceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.instances[instanceID]
	if !ok {
		return InstanceState{}, false
	}
	return InstanceState{
		InstanceID:      instanceID,
		Kind:            st.kind,
		InputsInWindow:  len(pruneWindow(append([]time.Time(nil), st.inputs...), s.now(), s.cfg.Window)),
		CurrentDelay:    st.currentDelay,
		LastInputAt:     st.lastInputAt,
		TimerPending:    st.timer != nil,
		ActiveRequestID: st.activeRequestID,
	}, true
}

// Instances returns the ids of every tracked instance, sorted.
func (s *Scheduler) Instances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) kindStats(kind string) *KindStats {
	ks, ok := s.kinds[kind]
	if !ok {
		ks = &KindStats{}
		s.kinds[kind] = ks
	}
	return ks
}
