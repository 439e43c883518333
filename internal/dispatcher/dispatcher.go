// ============================================================================
// Worker Pool Dispatcher - coordination core
// ============================================================================
//
// Package: internal/dispatcher
// File: dispatcher.go
// Function: routes calculation requests to the cache or to the least loaded
//           ready worker, tracks them to a terminal state and resolves the
//           caller's future exactly once
//
// Request flow:
//
//	Submit ─→ validate ─→ fingerprint ─→ cache hit? ──yes──→ resolve (cached)
//	                                        │no
//	                                        ↓
//	                           table.Add + deadline timer
//	                                        │
//	                 ready worker with a free slot? ──no──→ FIFO queue
//	                                        │yes               (≤ QueueMaxDepth)
//	                                        ↓
//	                                 pool.Assign ─→ started ─→ finished
//	                                                              │
//	                                     cache.Set (success) ←────┘
//	                                     resolve future, drain queue
//
// Terminal paths:
//   - finished:  completed or failed, slot released
//   - Cancel:    caller resolved with ErrCancelled at once; slot released
//                when the worker acknowledges the interruption
//   - timer:     timed_out, slot released at once, ErrTimeout delivered
//                no later than the request deadline
//   - Stop:      every pending request resolved with ErrShutdown
//
// Coordination:
//   One mutex guards the request table, the FIFO queue and the worker
//   handles. Nothing sends on a blocking channel while holding it: pool
//   assignments are non-blocking and futures are resolved after unlock.
//
// ============================================================================

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/cache"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/fingerprint"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/future"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/requestmanager"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/worker"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrAlreadyStarted means Start was called twice.
	ErrAlreadyStarted = errors.New("dispatcher already started")
	// ErrStopped means the dispatcher has been stopped.
	ErrStopped = errors.New("dispatcher stopped")
)

// cacheHitWorker is the WorkerID reported for results served from the cache.
const cacheHitWorker = -1

// rejectedKindLabel replaces the kind label of requests that fail validation,
// so arbitrary caller-supplied kinds never become metric series.
const rejectedKindLabel = "invalid"

// CachedResult is the value stored in the result cache. Kind and Input are
// kept so hot entries can be recomputed after a restart.
type CachedResult struct {
	Kind  string        `json:"kind"`
	Input types.Payload `json:"input"`
	Value types.Payload `json:"value"`
}

// HotEntry is a frequently read cached result.
type HotEntry struct {
	Key         string        `json:"key"`
	Kind        string        `json:"kind"`
	Input       types.Payload `json:"input"`
	AccessCount int64         `json:"access_count"`
}

// WarmEntry is a calculation to precompute into the cache.
type WarmEntry struct {
	Kind  string
	Input types.Payload
}

// PoolStats is a point-in-time view of the dispatcher.
type PoolStats struct {
	TotalRequests         int64                `json:"total_requests"`
	CompletedRequests     int64                `json:"completed_requests"`
	ErrorRequests         int64                `json:"error_requests"`
	CancelledRequests     int64                `json:"cancelled_requests"`
	TimedOutRequests      int64                `json:"timed_out_requests"`
	RejectedRequests      int64                `json:"rejected_requests"`
	CacheHits             int64                `json:"cache_hits"`
	CacheMisses           int64                `json:"cache_misses"`
	CacheErrors           int64                `json:"cache_errors"`
	AverageResponseTimeMs float64              `json:"average_response_time_ms"`
	QueueDepth            int                  `json:"queue_depth"`
	Pending               int                  `json:"pending"`
	ReadyWorkers          int                  `json:"ready_workers"`
	BusyWorkers           int                  `json:"busy_workers"`
	Workers               []worker.WorkerStats `json:"workers"`
}

// Dispatcher is the worker pool coordinator.
type Dispatcher struct {
	cfg      Config
	registry Registry
	cache    ResultCache
	rec      Recorder
	log      *slog.Logger
	init     worker.Initializer

	mu      sync.Mutex
	table   *requestmanager.Manager
	handles []*worker.Handle
	pool    *worker.Pool
	started bool
	stopped bool

	total, completed, failed, cancelled, timedOut, rejected int64
	cacheHits, cacheMisses, cacheErrors                    int64
	responseTotal                                          time.Duration
	responseCount                                          int64

	stopCh chan struct{}
	loopWg sync.WaitGroup
}

// New creates a dispatcher. Workers are launched by Start.
func New(cfg Config, registry Registry, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatcher config: %w", err)
	}
	if registry == nil {
		return nil, errors.New("dispatcher requires a registry")
	}

	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
		rec:      nopRecorder{},
		log:      slog.Default(),
		table:    requestmanager.New(),
		handles:  make([]*worker.Handle, cfg.MaxWorkers),
		pool:     worker.NewPool(cfg.MaxWorkers*(2*cfg.WorkerCapacity+2) + 16),
		stopCh:   make(chan struct{}),
	}
	for i := range d.handles {
		d.handles[i] = worker.NewHandle(i)
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "dispatcher")
	return d, nil
}

// Start launches the workers and the event loop. Requests submitted before
// any worker reports ready wait in the queue.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.mu.Unlock()

	if err := d.pool.Start(ctx, d.cfg.MaxWorkers, d.cfg.WorkerCapacity, d.registry.Compute, d.init); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	d.loopWg.Add(1)
	go d.eventLoop()

	d.log.Info("Dispatcher started",
		"workers", d.cfg.MaxWorkers,
		"capacity", d.cfg.WorkerCapacity,
		"queue_max_depth", d.cfg.QueueMaxDepth,
		"request_timeout", d.cfg.RequestTimeout)
	return nil
}

// Stop resolves every pending request with ErrShutdown, stops the workers
// and waits for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true

	var orphans []*requestmanager.Entry
	for _, id := range d.table.IDs() {
		e, err := d.table.Finish(id, types.StatusCancelled)
		if err != nil {
			continue
		}
		e.Timer.Stop()
		e.Cancel()
		orphans = append(orphans, e)
	}
	d.mu.Unlock()

	for _, e := range orphans {
		e.Future.Resolve(types.CalculationResult{}, types.NewError(types.KindShutdown, e.Request.ID, nil))
	}

	close(d.stopCh)
	d.pool.Stop()
	d.loopWg.Wait()

	d.log.Info("Dispatcher stopped", "abandoned", len(orphans))
}

// ============================================================================
// Submission
// ============================================================================

// Submit accepts a request and returns its future. Every failure, including
// validation and back-pressure, is delivered through the future.
func (d *Dispatcher) Submit(req types.CalculationRequest) *future.Future {
	now := time.Now()
	if req.ID == "" {
		req.ID = types.RequestID(uuid.NewString())
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	timeout := d.cfg.RequestTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	req.Deadline = req.CreatedAt.Add(timeout)

	f := future.New(req.ID)

	d.mu.Lock()
	d.total++
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		f.Resolve(types.CalculationResult{}, types.NewError(types.KindShutdown, req.ID, nil))
		return f
	}

	key, err := d.validate(req)
	if err != nil {
		d.fail(f, req, rejectedKindLabel, types.KindValidation, err)
		return f
	}
	d.rec.RecordSubmitted(req.Kind)

	if res, ok := d.lookup(req, key, now); ok {
		f.Resolve(res, nil)
		return f
	}

	d.enqueue(req, key, timeout, f, now)
	return f
}

// Calculate submits a request and waits for it. If ctx ends first the request
// is cancelled.
func (d *Dispatcher) Calculate(ctx context.Context, kind string, input types.Payload) (types.CalculationResult, error) {
	f := d.Submit(types.CalculationRequest{Kind: kind, Input: input})
	select {
	case <-f.Done():
		return f.Wait(context.Background())
	case <-ctx.Done():
		d.Cancel(f.ID())
		return types.CalculationResult{}, types.NewError(types.KindCancelled, f.ID(), ctx.Err())
	}
}

func (d *Dispatcher) validate(req types.CalculationRequest) (string, error) {
	if err := d.registry.Validate(req.Kind, req.Input); err != nil {
		return "", err
	}
	return fingerprint.Compute(req.Kind, req.Input)
}

// fail resolves f with a typed error. label is the metrics kind label.
func (d *Dispatcher) fail(f *future.Future, req types.CalculationRequest, label string, kind types.ErrorKind, cause error) {
	d.mu.Lock()
	d.failed++
	d.mu.Unlock()
	d.rec.RecordFailed(label, kind)
	f.Resolve(types.CalculationResult{}, types.NewError(kind, req.ID, cause))
}

// lookup serves a request from the cache. Unexpected cache contents are
// treated as a miss.
func (d *Dispatcher) lookup(req types.CalculationRequest, key string, now time.Time) (types.CalculationResult, bool) {
	if d.cache == nil {
		return types.CalculationResult{}, false
	}

	v, ok := d.cache.Get(key)
	if ok {
		if cached, valid := v.(CachedResult); valid {
			d.mu.Lock()
			d.cacheHits++
			d.completed++
			d.mu.Unlock()
			d.rec.RecordCacheHit(req.Kind)

			return types.CalculationResult{
				RequestID:   req.ID,
				Kind:        req.Kind,
				Value:       cached.Value,
				Cached:      true,
				WorkerID:    cacheHitWorker,
				Duration:    time.Since(now),
				CompletedAt: time.Now(),
			}, true
		}
		d.cacheError(req, fmt.Errorf("%w: unexpected cached value %T", types.ErrCache, v))
	}

	d.mu.Lock()
	d.cacheMisses++
	d.mu.Unlock()
	d.rec.RecordCacheMiss(req.Kind)
	return types.CalculationResult{}, false
}

func (d *Dispatcher) cacheError(req types.CalculationRequest, err error) {
	d.mu.Lock()
	d.cacheErrors++
	d.mu.Unlock()
	d.rec.RecordCacheError(req.Kind)
	d.log.Warn("Cache error absorbed", "requestID", req.ID, "kind", req.Kind, "error", err)
}

func (d *Dispatcher) enqueue(req types.CalculationRequest, key string, timeout time.Duration, f *future.Future, now time.Time) {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		f.Resolve(types.CalculationResult{}, types.NewError(types.KindShutdown, req.ID, nil))
		return
	}

	h := d.pickWorker()
	if h == nil && d.table.QueueLen() >= d.cfg.QueueMaxDepth {
		d.rejected++
		depth := d.table.QueueLen()
		d.mu.Unlock()

		d.rec.RecordRejected(req.Kind)
		d.log.Warn("Request rejected, queue full", "requestID", req.ID, "queue_depth", depth)
		f.Resolve(types.CalculationResult{}, types.NewError(types.KindPoolExhausted, req.ID,
			fmt.Errorf("%w: %d requests queued", types.ErrPoolExhausted, depth)))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &requestmanager.Entry{
		Request:     req,
		Key:         key,
		SubmittedAt: now,
		Future:      f,
		Ctx:         ctx,
		Cancel:      cancel,
	}
	if err := d.table.Add(e); err != nil {
		d.mu.Unlock()
		cancel()
		d.fail(f, req, req.Kind, types.KindValidation, fmt.Errorf("%w: %v", types.ErrValidation, err))
		return
	}

	// the timer fires relative to submission, whatever happens to the worker
	remaining := req.Deadline.Sub(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	id := req.ID
	e.Timer = time.AfterFunc(remaining, func() { d.expire(id) })

	if h == nil || !d.assign(e, h) {
		if err := d.table.Enqueue(id); err != nil {
			d.log.Error("Failed to enqueue request", "requestID", id, "error", err)
		}
	}
	d.publishLocked()
	d.mu.Unlock()
}

// ============================================================================
// Cancellation and timeout
// ============================================================================

// Cancel resolves a pending request with ErrCancelled. A queued request is
// dropped from the queue; an assigned one has its context cancelled and
// keeps its worker slot until the worker acknowledges. It reports whether
// the request was still pending.
func (d *Dispatcher) Cancel(id types.RequestID) bool {
	d.mu.Lock()
	e := d.table.Get(id)
	if e == nil {
		d.mu.Unlock()
		return false
	}
	wasQueued := e.Status == types.StatusQueued
	if _, err := d.table.Finish(id, types.StatusCancelled); err != nil {
		d.mu.Unlock()
		d.log.Error("Failed to cancel request", "requestID", id, "error", err)
		return false
	}
	e.Timer.Stop()
	e.Cancel()
	if !wasQueued && e.WorkerID >= 0 {
		d.handles[e.WorkerID].TotalCancelled++
	}
	d.cancelled++
	d.publishLocked()
	d.mu.Unlock()

	d.rec.RecordCancelled(e.Request.Kind)
	d.log.Debug("Request cancelled", "requestID", id, "was_queued", wasQueued)
	e.Future.Resolve(types.CalculationResult{}, types.NewError(types.KindCancelled, id, nil))
	return true
}

func (d *Dispatcher) expire(id types.RequestID) {
	now := time.Now()

	d.mu.Lock()
	e := d.table.Get(id)
	if e == nil {
		d.mu.Unlock()
		return
	}
	if _, err := d.table.Finish(id, types.StatusTimedOut); err != nil {
		d.mu.Unlock()
		return
	}
	e.Cancel()
	if e.WorkerID >= 0 {
		h := d.handles[e.WorkerID]
		h.Release(id, now)
		h.TotalTimedOut++
	}
	d.timedOut++
	d.drainLocked()
	d.publishLocked()
	d.mu.Unlock()

	d.rec.RecordTimedOut(e.Request.Kind)
	d.log.Warn("Request timed out",
		"requestID", id,
		"kind", e.Request.Kind,
		"workerID", e.WorkerID,
		"after", now.Sub(e.SubmittedAt))
	e.Future.Resolve(types.CalculationResult{}, types.NewError(types.KindTimeout, id,
		fmt.Errorf("%w after %s", types.ErrTimeout, e.Request.Deadline.Sub(e.Request.CreatedAt))))
}

// ============================================================================
// Worker events
// ============================================================================

func (d *Dispatcher) eventLoop() {
	defer d.loopWg.Done()
	for {
		select {
		case <-d.stopCh:
			d.log.Info("Event loop stopped")
			return
		case ev := <-d.pool.Events():
			d.handleEvent(ev)
		}
	}
}

func (d *Dispatcher) handleEvent(ev worker.Event) {
	if ev.WorkerID < 0 || ev.WorkerID >= len(d.handles) {
		d.log.Error("Event from unknown worker", "workerID", ev.WorkerID)
		return
	}
	now := time.Now()

	switch ev.Type {
	case worker.EventReady:
		d.mu.Lock()
		h := d.handles[ev.WorkerID]
		h.Ready = true
		h.LastIdleAt = now
		d.drainLocked()
		d.publishLocked()
		d.mu.Unlock()
		d.log.Info("Worker ready", "workerID", ev.WorkerID)

	case worker.EventInitFailed:
		d.mu.Lock()
		d.handles[ev.WorkerID].InitErr = ev.Err
		d.mu.Unlock()
		d.log.Error("Worker initialization failed", "workerID", ev.WorkerID, "error", ev.Err)

	case worker.EventStarted:
		d.mu.Lock()
		if e := d.table.Get(ev.RequestID); e != nil && e.WorkerID == ev.WorkerID {
			if err := d.table.MarkRunning(ev.RequestID, now); err != nil {
				d.log.Debug("Ignoring start event", "requestID", ev.RequestID, "error", err)
			}
		}
		d.mu.Unlock()

	case worker.EventFinished:
		d.handleFinished(ev, now)
	}
}

func (d *Dispatcher) handleFinished(ev worker.Event, now time.Time) {
	d.mu.Lock()
	h := d.handles[ev.WorkerID]
	h.Release(ev.RequestID, now)

	e := d.table.Get(ev.RequestID)
	if e == nil || e.WorkerID != ev.WorkerID {
		// cancelled or timed out earlier: the result is stale
		d.drainLocked()
		d.publishLocked()
		d.mu.Unlock()
		d.log.Debug("Discarding late result", "requestID", ev.RequestID, "workerID", ev.WorkerID)
		return
	}

	status := types.StatusCompleted
	errKind := types.KindNone
	switch {
	case ev.Interrupted:
		// only reachable while the pool is shutting down
		status, errKind = types.StatusFailed, types.KindShutdown
	case ev.Err != nil:
		status, errKind = types.StatusFailed, types.KindCalculation
		if errors.Is(ev.Err, types.ErrValidation) {
			errKind = types.KindValidation
		}
	}
	if _, err := d.table.Finish(ev.RequestID, status); err != nil {
		d.mu.Unlock()
		d.log.Error("Failed to finish request", "requestID", ev.RequestID, "error", err)
		return
	}
	e.Timer.Stop()
	e.Cancel()

	latency := now.Sub(e.SubmittedAt)
	if status == types.StatusCompleted {
		h.TotalCompleted++
		d.completed++
		d.responseTotal += latency
		d.responseCount++
	} else {
		h.TotalErrors++
		d.failed++
	}
	d.drainLocked()
	d.publishLocked()
	d.mu.Unlock()

	req := e.Request
	if status != types.StatusCompleted {
		d.rec.RecordFailed(req.Kind, errKind)
		d.log.Debug("Request failed", "requestID", req.ID, "kind", req.Kind, "error", ev.Err)
		e.Future.Resolve(types.CalculationResult{}, types.NewError(errKind, req.ID, ev.Err))
		return
	}

	if d.cache != nil {
		cached := CachedResult{Kind: req.Kind, Input: req.Input, Value: ev.Value}
		if err := d.cache.Set(e.Key, cached, d.cfg.CacheTTL); err != nil {
			d.cacheError(req, err)
		}
	}

	d.rec.RecordCompleted(req.Kind, latency)
	d.log.Debug("Request completed",
		"requestID", req.ID,
		"workerID", ev.WorkerID,
		"duration", latency)
	e.Future.Resolve(types.CalculationResult{
		RequestID:   req.ID,
		Kind:        req.Kind,
		Value:       ev.Value,
		WorkerID:    ev.WorkerID,
		Duration:    latency,
		CompletedAt: now,
	}, nil)
}

// ============================================================================
// Scheduling helpers (lock held)
// ============================================================================

// pickWorker returns the ready worker with the fewest active requests,
// preferring the most recently idle on ties.
func (d *Dispatcher) pickWorker() *worker.Handle {
	var best *worker.Handle
	for _, h := range d.handles {
		if !h.HasCapacity(d.cfg.WorkerCapacity) {
			continue
		}
		if h.Better(best) {
			best = h
		}
	}
	return best
}

// assign hands e to h without blocking. On failure e is left queued-able.
func (d *Dispatcher) assign(e *requestmanager.Entry, h *worker.Handle) bool {
	task := worker.Task{
		RequestID: e.Request.ID,
		Kind:      e.Request.Kind,
		Input:     e.Request.Input,
		Ctx:       e.Ctx,
	}
	if err := d.pool.Assign(h.ID, task); err != nil {
		d.log.Debug("Assignment deferred", "requestID", e.Request.ID, "workerID", h.ID, "error", err)
		return false
	}
	now := time.Now()
	if err := d.table.MarkAssigned(e.Request.ID, h.ID, now); err != nil {
		d.log.Error("Failed to mark assigned", "requestID", e.Request.ID, "error", err)
	}
	h.Acquire(e.Request.ID, now)
	return true
}

// drainLocked moves queued requests onto free workers in FIFO order.
func (d *Dispatcher) drainLocked() {
	for d.table.QueueLen() > 0 {
		h := d.pickWorker()
		if h == nil {
			return
		}
		e := d.table.PopQueued()
		if e == nil {
			return
		}
		if !d.assign(e, h) {
			if err := d.table.PushFront(e.Request.ID); err != nil {
				d.log.Error("Failed to requeue request", "requestID", e.Request.ID, "error", err)
			}
			return
		}
	}
}

func (d *Dispatcher) publishLocked() {
	busy, ready := 0, 0
	for _, h := range d.handles {
		if h.Ready {
			ready++
		}
		if h.ActiveRequests > 0 {
			busy++
		}
	}
	d.rec.UpdatePoolStats(d.table.QueueLen(), busy, ready)
}

// ============================================================================
// Introspection
// ============================================================================

// Ready reports whether at least one worker has initialized.
func (d *Dispatcher) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.handles {
		if h.Ready {
			return true
		}
	}
	return false
}

// Stats returns a snapshot of the pool counters.
func (d *Dispatcher) Stats() PoolStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := PoolStats{
		TotalRequests:     d.total,
		CompletedRequests: d.completed,
		ErrorRequests:     d.failed,
		CancelledRequests: d.cancelled,
		TimedOutRequests:  d.timedOut,
		RejectedRequests:  d.rejected,
		CacheHits:         d.cacheHits,
		CacheMisses:       d.cacheMisses,
		CacheErrors:       d.cacheErrors,
		QueueDepth:        d.table.QueueLen(),
		Pending:           d.table.Len(),
		Workers:           make([]worker.WorkerStats, len(d.handles)),
	}
	if d.responseCount > 0 {
		s.AverageResponseTimeMs = float64(d.responseTotal.Milliseconds()) / float64(d.responseCount)
	}
	for i, h := range d.handles {
		s.Workers[i] = h.Stats()
		if h.Ready {
			s.ReadyWorkers++
		}
		if h.ActiveRequests > 0 {
			s.BusyWorkers++
		}
	}
	return s
}

// Status returns the lifecycle state of a pending request.
func (d *Dispatcher) Status(id types.RequestID) (types.RequestStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.table.Get(id); e != nil {
		return e.Status, true
	}
	return "", false
}

// ============================================================================
// Cache warm-up and hot entries
// ============================================================================

// WarmCache precomputes entries into the cache in the background. The pure
// functions run on the warm-up goroutine, not on the pool workers.
func (d *Dispatcher) WarmCache(ctx context.Context, entries []WarmEntry) <-chan cache.WarmReport {
	wc, ok := d.cache.(warmableCache)
	if !ok {
		out := make(chan cache.WarmReport, 1)
		out <- cache.WarmReport{Requested: len(entries), Failed: len(entries),
			Errors: []error{errors.New("cache does not support warm-up")}}
		close(out)
		return out
	}

	byKey := make(map[string]WarmEntry, len(entries))
	keys := make([]string, 0, len(entries))
	invalid := 0
	for _, we := range entries {
		if err := d.registry.Validate(we.Kind, we.Input); err != nil {
			invalid++
			continue
		}
		key, err := fingerprint.Compute(we.Kind, we.Input)
		if err != nil {
			invalid++
			continue
		}
		if _, dup := byKey[key]; !dup {
			keys = append(keys, key)
		}
		byKey[key] = we
	}

	produce := func(ctx context.Context, key string) (interface{}, time.Duration, error) {
		we := byKey[key]
		value, err := d.registry.Compute(ctx, we.Kind, we.Input)
		if err != nil {
			return nil, 0, err
		}
		return CachedResult{Kind: we.Kind, Input: we.Input, Value: value}, d.cfg.CacheTTL, nil
	}

	if invalid == 0 {
		return wc.Warm(ctx, keys, produce)
	}

	out := make(chan cache.WarmReport, 1)
	go func() {
		defer close(out)
		report := <-wc.Warm(ctx, keys, produce)
		report.Requested += invalid
		report.Failed += invalid
		out <- report
	}()
	return out
}

// HotEntries returns up to n of the most read cached results.
func (d *Dispatcher) HotEntries(n int) []HotEntry {
	wc, ok := d.cache.(warmableCache)
	if !ok {
		return nil
	}
	hot := wc.HotKeys(n)
	out := make([]HotEntry, 0, len(hot))
	for _, hk := range hot {
		cr, ok := hk.Value.(CachedResult)
		if !ok {
			continue
		}
		out = append(out, HotEntry{Key: hk.Key, Kind: cr.Kind, Input: cr.Input, AccessCount: hk.AccessCount})
	}
	return out
}
