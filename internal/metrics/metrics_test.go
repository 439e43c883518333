package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(prometheus.NewRegistry())
}

func TestNewCollector(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotNil(t, collector.submitted, "submitted counter should be initialized")
	assert.NotNil(t, collector.latency, "latency histogram should be initialized")
	assert.NotNil(t, collector.queueDepth, "queue depth gauge should be initialized")
}

func TestNewCollectorDefaultRegistry(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	assert.NotPanics(t, func() { NewCollector(nil) })
	assert.Panics(t, func() { NewCollector(nil) }, "second registration must collide")
}

func TestRequestCounters(t *testing.T) {
	c := newTestCollector(t)

	c.RecordSubmitted("compound-interest")
	c.RecordSubmitted("compound-interest")
	c.RecordCompleted("compound-interest", 20*time.Millisecond)
	c.RecordFailed("compound-interest", types.KindValidation)
	c.RecordCancelled("simple-interest")
	c.RecordTimedOut("simple-interest")
	c.RecordRejected("simple-interest")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.submitted.WithLabelValues("compound-interest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completed.WithLabelValues("compound-interest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failed.WithLabelValues("compound-interest", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancelled.WithLabelValues("simple-interest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.timedOut.WithLabelValues("simple-interest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected.WithLabelValues("simple-interest")))
}

func TestCacheAndSchedulerCounters(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheHit("k")
	c.RecordCacheMiss("k")
	c.RecordCacheMiss("k")
	c.RecordCacheError("k")
	c.RecordSchedulerInput("k")
	c.RecordSchedulerTrigger("k")
	c.RecordSchedulerCancellation("k")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("k")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("k")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheErrors.WithLabelValues("k")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inputs.WithLabelValues("k")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.triggers.WithLabelValues("k")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancellations.WithLabelValues("k")))
}

func TestGauges(t *testing.T) {
	c := newTestCollector(t)

	c.UpdatePoolStats(3, 2, 4)
	c.UpdateCacheStats(10, 2048)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.busyWorkers))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.readyWorkers))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.cacheItems))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.cacheBytes))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := newTestCollector(t)
	c.RecordSubmitted("compound-interest")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `calcpipe_requests_submitted_total{kind="compound-interest"} 1`)
}
