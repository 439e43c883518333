package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/cache"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/worker"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// Config holds the pool settings.
type Config struct {
	MaxWorkers     int           // number of calculation workers
	WorkerCapacity int           // concurrent requests per worker
	RequestTimeout time.Duration // default per-request deadline
	QueueMaxDepth  int           // queued requests before PoolExhausted
	CacheTTL       time.Duration // TTL for stored results, 0 = cache default
}

// DefaultConfig returns the stock pool settings.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     4,
		WorkerCapacity: 1,
		RequestTimeout: 5 * time.Second,
		QueueMaxDepth:  64,
		CacheTTL:       5 * time.Minute,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	var errs []error
	if c.MaxWorkers < 1 {
		errs = append(errs, errors.New("max workers must be at least 1"))
	}
	if c.WorkerCapacity < 1 {
		errs = append(errs, errors.New("worker capacity must be at least 1"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.QueueMaxDepth < 0 {
		errs = append(errs, errors.New("queue max depth must not be negative"))
	}
	return errors.Join(errs...)
}

// Registry validates inputs and runs the pure functions.
type Registry interface {
	Validate(kind string, input types.Payload) error
	Compute(ctx context.Context, kind string, input types.Payload) (types.Payload, error)
}

// ResultCache is the part of the cache the dispatcher needs on the hot path.
type ResultCache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
}

// warmableCache is implemented by caches that support warm-up and hot keys.
type warmableCache interface {
	ResultCache
	Warm(ctx context.Context, keys []string, produce cache.Producer) <-chan cache.WarmReport
	HotKeys(n int) []cache.HotKey
}

// Recorder receives pool events for metrics. Implementations must be safe
// for concurrent use and must not block.
type Recorder interface {
	RecordSubmitted(kind string)
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordCacheError(kind string)
	RecordCompleted(kind string, latency time.Duration)
	RecordFailed(kind string, errKind types.ErrorKind)
	RecordCancelled(kind string)
	RecordTimedOut(kind string)
	RecordRejected(kind string)
	UpdatePoolStats(queueDepth, busyWorkers, readyWorkers int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmitted(string)                {}
func (nopRecorder) RecordCacheHit(string)                 {}
func (nopRecorder) RecordCacheMiss(string)                {}
func (nopRecorder) RecordCacheError(string)               {}
func (nopRecorder) RecordCompleted(string, time.Duration) {}
func (nopRecorder) RecordFailed(string, types.ErrorKind)  {}
func (nopRecorder) RecordCancelled(string)                {}
func (nopRecorder) RecordTimedOut(string)                 {}
func (nopRecorder) RecordRejected(string)                 {}
func (nopRecorder) UpdatePoolStats(int, int, int)         {}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache enables result caching.
func WithCache(c ResultCache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.rec = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithInitializer sets the per-worker one-time initializer.
func WithInitializer(init worker.Initializer) Option {
	return func(d *Dispatcher) { d.init = init }
}
