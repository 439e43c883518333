// ============================================================================
// Calculation Pipeline Metrics - Prometheus collector
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Function: collects and exposes pipeline counters for Prometheus
//
// Metric families:
//
//   1. Request counters (CounterVec by kind):
//      - calcpipe_requests_submitted_total
//      - calcpipe_requests_completed_total
//      - calcpipe_requests_failed_total{kind, error}
//      - calcpipe_requests_cancelled_total
//      - calcpipe_requests_timed_out_total
//      - calcpipe_requests_rejected_total
//
//   2. Cache counters (CounterVec by kind):
//      - calcpipe_cache_hits_total / _misses_total / _errors_total
//
//   3. Scheduler counters (CounterVec by kind):
//      - calcpipe_scheduler_inputs_total / _triggers_total / _cancellations_total
//
//   4. Latency (HistogramVec by kind):
//      - calcpipe_request_latency_seconds
//
//   5. Gauges:
//      - calcpipe_queue_depth, calcpipe_workers_busy, calcpipe_workers_ready
//      - calcpipe_cache_items, calcpipe_cache_bytes
//
// Useful queries:
//
//   # cache hit ratio
//   sum(rate(calcpipe_cache_hits_total[5m])) /
//     (sum(rate(calcpipe_cache_hits_total[5m])) + sum(rate(calcpipe_cache_misses_total[5m])))
//
//   # wasted keystrokes avoided by debouncing
//   rate(calcpipe_scheduler_cancellations_total[1m])
//
//   # 95th percentile latency per kind
//   histogram_quantile(0.95, sum by (kind, le) (rate(calcpipe_request_latency_seconds_bucket[5m])))
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

const namespace = "calcpipe"

// Collector holds every pipeline metric. It satisfies the dispatcher and
// scheduler recorder interfaces.
type Collector struct {
	gatherer prometheus.Gatherer

	// request counters
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	timedOut  *prometheus.CounterVec
	rejected  *prometheus.CounterVec

	// cache counters
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	// scheduler counters
	inputs        *prometheus.CounterVec
	triggers      *prometheus.CounterVec
	cancellations *prometheus.CounterVec

	latency *prometheus.HistogramVec

	// gauges
	queueDepth   prometheus.Gauge
	busyWorkers  prometheus.Gauge
	readyWorkers prometheus.Gauge
	cacheItems   prometheus.Gauge
	cacheBytes   prometheus.Gauge
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// NewCollector creates the collector and registers it with reg. A nil reg
// uses the default Prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		submitted: counterVec("requests_submitted_total", "Calculation requests submitted to the dispatcher", "kind"),
		completed: counterVec("requests_completed_total", "Calculation requests completed by a worker", "kind"),
		failed:    counterVec("requests_failed_total", "Calculation requests that failed", "kind", "error"),
		cancelled: counterVec("requests_cancelled_total", "Calculation requests cancelled before completion", "kind"),
		timedOut:  counterVec("requests_timed_out_total", "Calculation requests that hit their deadline", "kind"),
		rejected:  counterVec("requests_rejected_total", "Calculation requests rejected because the queue was full", "kind"),

		cacheHits:   counterVec("cache_hits_total", "Requests served from the result cache", "kind"),
		cacheMisses: counterVec("cache_misses_total", "Requests that missed the result cache", "kind"),
		cacheErrors: counterVec("cache_errors_total", "Result cache failures absorbed by the dispatcher", "kind"),

		inputs:        counterVec("scheduler_inputs_total", "Input events seen by the scheduler", "kind"),
		triggers:      counterVec("scheduler_triggers_total", "Debounce timers that fired a request", "kind"),
		cancellations: counterVec("scheduler_cancellations_total", "Timers or in-flight requests superseded by newer input", "kind"),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Time from submission to completion of computed requests",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),

		queueDepth:   gauge("queue_depth", "Requests waiting for a worker"),
		busyWorkers:  gauge("workers_busy", "Workers with at least one active request"),
		readyWorkers: gauge("workers_ready", "Workers that finished initialization"),
		cacheItems:   gauge("cache_items", "Entries in the result cache"),
		cacheBytes:   gauge("cache_bytes", "Estimated memory used by the result cache"),
	}

	reg.MustRegister(
		c.submitted, c.completed, c.failed, c.cancelled, c.timedOut, c.rejected,
		c.cacheHits, c.cacheMisses, c.cacheErrors,
		c.inputs, c.triggers, c.cancellations,
		c.latency,
		c.queueDepth, c.busyWorkers, c.readyWorkers, c.cacheItems, c.cacheBytes,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// ============================================================================
// Dispatcher recorder
// ============================================================================

// RecordSubmitted counts a submission.
func (c *Collector) RecordSubmitted(kind string) { c.submitted.WithLabelValues(kind).Inc() }

// RecordCacheHit counts a cache hit.
func (c *Collector) RecordCacheHit(kind string) { c.cacheHits.WithLabelValues(kind).Inc() }

// RecordCacheMiss counts a cache miss.
func (c *Collector) RecordCacheMiss(kind string) { c.cacheMisses.WithLabelValues(kind).Inc() }

// RecordCacheError counts an absorbed cache failure.
func (c *Collector) RecordCacheError(kind string) { c.cacheErrors.WithLabelValues(kind).Inc() }

// RecordCompleted counts a computed result and observes its latency.
func (c *Collector) RecordCompleted(kind string, latency time.Duration) {
	c.completed.WithLabelValues(kind).Inc()
	c.latency.WithLabelValues(kind).Observe(latency.Seconds())
}

// RecordFailed counts a failure by error kind.
func (c *Collector) RecordFailed(kind string, errKind types.ErrorKind) {
	c.failed.WithLabelValues(kind, string(errKind)).Inc()
}

func (c *Collector) RecordCancelled(kind string) { c.cancelled.WithLabelValues(kind).Inc() }

func (c *Collector) RecordTimedOut(kind string) { c.timedOut.WithLabelValues(kind).Inc() }

func (c *Collector) RecordRejected(kind string) { c.rejected.WithLabelValues(kind).Inc() }

// UpdatePoolStats sets the pool gauges.
func (c *Collector) UpdatePoolStats(queueDepth, busyWorkers, readyWorkers int) {
	c.queueDepth.Set(float64(queueDepth))
	c.busyWorkers.Set(float64(busyWorkers))
	c.readyWorkers.Set(float64(readyWorkers))
}

// ============================================================================
// Scheduler recorder
// ============================================================================

func (c *Collector) RecordSchedulerInput(kind string) { c.inputs.WithLabelValues(kind).Inc() }

func (c *Collector) RecordSchedulerTrigger(kind string) { c.triggers.WithLabelValues(kind).Inc() }

func (c *Collector) RecordSchedulerCancellation(kind string) {
	c.cancellations.WithLabelValues(kind).Inc()
}

// ============================================================================
// Cache gauges
// ============================================================================

// UpdateCacheStats sets the cache gauges.
func (c *Collector) UpdateCacheStats(items int, bytes int64) {
	c.cacheItems.Set(float64(items))
	c.cacheBytes.Set(float64(bytes))
}

// Handler returns the /metrics handler for the registry the collector was
// registered with.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
