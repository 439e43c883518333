// ============================================================================
// Calculation Pipeline - composition root
// ============================================================================
//
// Package: internal/pipeline
// File: pipeline.go
// Function: wires the result cache, the worker pool dispatcher and the
//           adaptive input scheduler into one lifecycle
//
// Data flow:
//
//   Schedule(instance, kind, input)
//        │  debounce (adaptive delay per instance)
//        ▼
//   Dispatcher.Submit ──► fingerprint ──► cache hit? ──► future resolved
//        │ miss
//        ▼
//   worker pool ──► pure calculator ──► cache Set ──► future resolved
//
// Lifecycle:
//   Start: dispatcher workers, cache sweeper, gauge refresher, warm-up
//          from the hot-key snapshot
//   Stop:  close scheduler, write hot-key snapshot, stop dispatcher,
//          stop background loops
//
// ============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/cache"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/calculator"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/config"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/dispatcher"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/future"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/metrics"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/scheduler"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/snapshot"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

var (
	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrStopped        = errors.New("pipeline stopped")
)

// gaugeInterval is how often cache gauges are refreshed.
const gaugeInterval = 5 * time.Second

// Stats aggregates every component's view.
type Stats struct {
	Pool      dispatcher.PoolStats  `json:"pool"`
	Cache     cache.Stats           `json:"cache"`
	Scheduler scheduler.Stats       `json:"scheduler"`
	HotKeys   []dispatcher.HotEntry `json:"hot_keys"`
}

// Pipeline owns the three stages and their background loops.
type Pipeline struct {
	cfg        *config.Config
	registry   *calculator.Registry
	cache      *cache.Cache
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	snapshots  *snapshot.Manager // nil when no snapshot path is configured
	metrics    *metrics.Collector
	log        *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	warmed  chan cache.WarmReport
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records dispatcher and scheduler counters in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithLogger sets the logger handed to every stage.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// New builds the pipeline from cfg. A nil registry uses the built-in
// calculators.
func New(cfg *config.Config, registry *calculator.Registry, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = calculator.DefaultRegistry()
	}

	p := &Pipeline{
		cfg:      cfg,
		registry: registry,
		log:      slog.Default(),
		warmed:   make(chan cache.WarmReport, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.cache = cache.New(cfg.CacheOptions())

	dopts := []dispatcher.Option{dispatcher.WithCache(p.cache), dispatcher.WithLogger(p.log)}
	sopts := []scheduler.Option{scheduler.WithLogger(p.log)}
	if p.metrics != nil {
		dopts = append(dopts, dispatcher.WithRecorder(p.metrics))
		sopts = append(sopts, scheduler.WithRecorder(p.metrics))
	}

	d, err := dispatcher.New(cfg.DispatcherConfig(), registry, dopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	s, err := scheduler.New(d, p.schedulerConfig(cfg), sopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	p.dispatcher, p.scheduler = d, s

	if cfg.Snapshot.Path != "" {
		p.snapshots = snapshot.NewManager(cfg.Snapshot.Path)
	}
	p.log = p.log.With("component", "pipeline")
	return p, nil
}

// schedulerConfig fills per-kind base delays from calculator complexity
// unless the config names the kind explicitly.
func (p *Pipeline) schedulerConfig(cfg *config.Config) scheduler.Config {
	sc := cfg.SchedulerConfig()
	for kind, d := range p.registry.BaseDelays() {
		if _, ok := sc.BaseDelayByKind[kind]; !ok {
			sc.BaseDelayByKind[kind] = d
		}
	}
	return sc
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start launches the workers and background loops and begins warming the
// cache from the snapshot. Warm-up runs in the background; Warmed reports
// its outcome.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := p.dispatcher.Start(runCtx); err != nil {
		cancel()
		return err
	}
	p.started = true
	p.cancel = cancel

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.cache.Run(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.refreshGauges(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.warm(runCtx)
	}()

	p.log.Info("Pipeline started", "kinds", p.registry.Kinds(), "snapshot", p.cfg.Snapshot.Path)
	return nil
}

// Stop closes the scheduler, persists the hot keys and stops everything.
// It returns the snapshot write error, if any.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped || !p.started {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.scheduler.Close()
	err := p.saveSnapshot()
	p.dispatcher.Stop()
	p.cancel()
	p.wg.Wait()

	p.log.Info("Pipeline stopped")
	return err
}

// Warmed delivers the warm-up report once, then closes.
func (p *Pipeline) Warmed() <-chan cache.WarmReport {
	return p.warmed
}

func (p *Pipeline) warm(ctx context.Context) {
	defer close(p.warmed)

	if p.snapshots == nil {
		p.warmed <- cache.WarmReport{}
		return
	}
	data, err := p.snapshots.Load()
	if err != nil {
		p.log.Warn("Hot-key snapshot unusable, starting cold", "path", p.snapshots.GetPath(), "error", err)
		p.warmed <- cache.WarmReport{Errors: []error{err}}
		return
	}

	entries := make([]dispatcher.WarmEntry, 0, len(data.Entries))
	for _, e := range data.Entries {
		entries = append(entries, dispatcher.WarmEntry{Kind: e.Kind, Input: e.Input})
	}
	report := <-p.dispatcher.WarmCache(ctx, entries)
	p.log.Info("Cache warm-up finished",
		"requested", report.Requested,
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"failed", report.Failed)
	p.warmed <- report
}

func (p *Pipeline) saveSnapshot() error {
	if p.snapshots == nil || p.cfg.Snapshot.HotKeys == 0 {
		return nil
	}
	hot := p.dispatcher.HotEntries(p.cfg.Snapshot.HotKeys)
	entries := make([]snapshot.Entry, 0, len(hot))
	for _, h := range hot {
		entries = append(entries, snapshot.Entry{Key: h.Key, Kind: h.Kind, Input: h.Input, AccessCount: h.AccessCount})
	}
	if err := p.snapshots.Write(snapshot.Data{Entries: entries}); err != nil {
		p.log.Error("Failed to write hot-key snapshot", "path", p.snapshots.GetPath(), "error", err)
		return err
	}
	p.log.Info("Hot-key snapshot written", "path", p.snapshots.GetPath(), "entries", len(entries))
	return nil
}

func (p *Pipeline) refreshGauges(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		s := p.cache.Stats()
		p.metrics.UpdateCacheStats(s.ItemCount, s.MemoryUsage)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ============================================================================
// Operations
// ============================================================================

// Schedule records an input event for a calculator instance. The future
// resolves with the debounced result or a cancellation when newer input
// supersedes it.
func (p *Pipeline) Schedule(instanceID, kind string, input types.Payload) *future.Future {
	return p.scheduler.Schedule(instanceID, kind, input)
}

// Teardown drops a calculator instance and cancels its pending work.
func (p *Pipeline) Teardown(instanceID string) {
	p.scheduler.Teardown(instanceID)
}

// Calculate runs one calculation without debouncing.
func (p *Pipeline) Calculate(ctx context.Context, kind string, input types.Payload) (types.CalculationResult, error) {
	return p.dispatcher.Calculate(ctx, kind, input)
}

// ApplyConfig applies the hot-reloadable settings. Only the debounce
// section takes effect; pool and cache sizes need a restart.
func (p *Pipeline) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	if err := p.scheduler.UpdateConfig(p.schedulerConfig(cfg)); err != nil {
		return err
	}
	p.log.Info("Debounce settings reloaded",
		"default_base_delay_ms", cfg.Debounce.DefaultBaseDelayMs,
		"min_delay_ms", cfg.Debounce.MinDelayMs,
		"max_delay_ms", cfg.Debounce.MaxDelayMs)
	return nil
}

// Ready reports whether at least one worker can take requests.
func (p *Pipeline) Ready() bool {
	return p.dispatcher.Ready()
}

// HotEntries returns up to n of the most read cached calculations.
func (p *Pipeline) HotEntries(n int) []dispatcher.HotEntry {
	return p.dispatcher.HotEntries(n)
}

// Stats returns pool, cache and scheduler stats with the top hot keys.
func (p *Pipeline) Stats() Stats {
	n := p.cfg.Snapshot.HotKeys
	if n <= 0 {
		n = config.DefaultHotKeys
	}
	return Stats{
		Pool:      p.dispatcher.Stats(),
		Cache:     p.cache.Stats(),
		Scheduler: p.scheduler.Stats(),
		HotKeys:   p.dispatcher.HotEntries(n),
	}
}
