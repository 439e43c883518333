package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/calculator"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/config"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/future"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/metrics"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/scheduler"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/snapshot"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Pool.MaxWorkers = 2
	cfg.Debounce.BaseDelayMsByKind = map[string]int{calculator.KindCompoundInterest: 20}
	cfg.Debounce.MinDelayMs = 10
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "hot_keys.json")
	return cfg
}

func compoundInput(principal float64) types.Payload {
	return types.Payload{
		"principal":          principal,
		"annual_rate":        5.0,
		"years":              10.0,
		"compound_frequency": "yearly",
	}
}

func startPipeline(t *testing.T, cfg *config.Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, p.Ready, 2*time.Second, 5*time.Millisecond)
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.MaxWorkers = 0
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestScheduleDebouncesBurst(t *testing.T) {
	p := startPipeline(t, testConfig(t))
	defer p.Stop()

	var futures []*future.Future
	for i := 1; i <= 5; i++ {
		futures = append(futures, p.Schedule("form-1", calculator.KindCompoundInterest, compoundInput(float64(i)*1000)))
	}
	last := futures[4]

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, err := last.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8144.47, res.Value["final_amount"])

	for _, f := range futures[:4] {
		_, err := f.Wait(ctx)
		assert.ErrorIs(t, err, types.ErrCancelled)
	}

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Pool.TotalRequests)
	assert.Equal(t, int64(5), stats.Scheduler.Kinds[calculator.KindCompoundInterest].Inputs)
}

func TestCalculateUsesCache(t *testing.T) {
	p := startPipeline(t, testConfig(t))
	defer p.Stop()

	ctx := context.Background()
	first, err := p.Calculate(ctx, calculator.KindCompoundInterest, compoundInput(10000))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 16288.95, first.Value["final_amount"])

	second, err := p.Calculate(ctx, calculator.KindCompoundInterest, compoundInput(10000))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, -1, second.WorkerID)
	assert.Equal(t, first.Value, second.Value)

	hot := p.HotEntries(5)
	require.Len(t, hot, 1)
	assert.Equal(t, calculator.KindCompoundInterest, hot[0].Kind)
}

func TestValidationErrorSurfaces(t *testing.T) {
	p := startPipeline(t, testConfig(t))
	defer p.Stop()

	_, err := p.Calculate(context.Background(), calculator.KindCompoundInterest, types.Payload{"principal": -5.0})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = p.Calculate(context.Background(), "mortgage", types.Payload{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := testConfig(t)

	p := startPipeline(t, cfg)
	ctx := context.Background()
	for _, principal := range []float64{1000, 2000} {
		_, err := p.Calculate(ctx, calculator.KindCompoundInterest, compoundInput(principal))
		require.NoError(t, err)
	}
	report := <-p.Warmed()
	assert.Zero(t, report.Requested, "fresh start has nothing to warm")
	require.NoError(t, p.Stop())

	data, err := snapshot.NewManager(cfg.Snapshot.Path).Load()
	require.NoError(t, err)
	require.Len(t, data.Entries, 2)

	restarted := startPipeline(t, cfg)
	defer restarted.Stop()

	select {
	case report := <-restarted.Warmed():
		assert.Equal(t, 2, report.Requested)
		assert.Equal(t, 2, report.Loaded)
		assert.NoError(t, report.Err())
	case <-time.After(3 * time.Second):
		t.Fatal("warm-up did not finish")
	}

	res, err := restarted.Calculate(ctx, calculator.KindCompoundInterest, compoundInput(2000))
	require.NoError(t, err)
	assert.True(t, res.Cached, "warmed entry should be served from cache")
}

func TestCorruptSnapshotStartsCold(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Snapshot.Path, []byte("{not json"), 0o644))

	p := startPipeline(t, cfg)
	defer p.Stop()

	report := <-p.Warmed()
	assert.ErrorIs(t, report.Err(), snapshot.ErrCorruptedSnapshot)

	_, err := p.Calculate(context.Background(), calculator.KindSimpleInterest,
		types.Payload{"principal": 1000.0, "annual_rate": 5.0, "years": 2.0})
	assert.NoError(t, err)
}

func TestApplyConfig(t *testing.T) {
	p := startPipeline(t, testConfig(t))
	defer p.Stop()

	next := testConfig(t)
	next.Debounce.DefaultBaseDelayMs = 250
	next.Debounce.BaseDelayMsByKind = map[string]int{calculator.KindCompoundInterest: 120}
	require.NoError(t, p.ApplyConfig(next))

	sc := p.scheduler.Config()
	assert.Equal(t, 250*time.Millisecond, sc.DefaultBaseDelay)
	assert.Equal(t, 120*time.Millisecond, sc.Params(calculator.KindCompoundInterest).Base)
	assert.Equal(t, calculator.SimpleBaseDelay, sc.Params(calculator.KindSimpleInterest).Base)
}

func TestLifecycleErrors(t *testing.T) {
	p := startPipeline(t, testConfig(t))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.ErrorIs(t, p.Start(context.Background()), ErrStopped)

	f := p.Schedule("form-1", calculator.KindCompoundInterest, compoundInput(1000))
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, types.ErrShutdown)
	assert.ErrorIs(t, p.ApplyConfig(testConfig(t)), scheduler.ErrClosed)
}

func TestMetricsWired(t *testing.T) {
	collector := metrics.NewCollector(prometheus.NewRegistry())
	p := startPipeline(t, testConfig(t), WithMetrics(collector))
	defer p.Stop()

	_, err := p.Calculate(context.Background(), calculator.KindSimpleInterest,
		types.Payload{"principal": 1000.0, "annual_rate": 5.0, "years": 2.0})
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.Stats().Pool.CompletedRequests)
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkCalculateUncached(b *testing.B) {
	cfg := config.Default()
	cfg.Cache.MaxEntries = b.N + 1
	cfg.Snapshot.Path = ""
	p, err := New(cfg, nil)
	require.NoError(b, err)
	require.NoError(b, p.Start(context.Background()))
	defer p.Stop()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := p.Calculate(ctx, calculator.KindCompoundInterest, compoundInput(float64(1000+i)))
		require.NoError(b, err)
	}
}

func BenchmarkCalculateCached(b *testing.B) {
	cfg := config.Default()
	cfg.Snapshot.Path = ""
	p, err := New(cfg, nil)
	require.NoError(b, err)
	require.NoError(b, p.Start(context.Background()))
	defer p.Stop()

	ctx := context.Background()
	_, err = p.Calculate(ctx, calculator.KindCompoundInterest, compoundInput(10000))
	require.NoError(b, err)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = p.Calculate(ctx, calculator.KindCompoundInterest, compoundInput(10000))
		}
	})
}
