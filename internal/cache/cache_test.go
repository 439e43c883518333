package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// fixedSizer makes every value weigh n bytes before key and overhead.
func fixedSizer(n int64) func(interface{}) (int64, error) {
	return func(interface{}) (int64, error) { return n, nil }
}

func createTestCache(t *testing.T, opts Options) (*Cache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts.Now = clock.Now
	return New(opts), clock
}

func TestSetGet(t *testing.T) {
	c, _ := createTestCache(t, Options{})

	require.NoError(t, c.Set("a", 1, 0))
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.ItemCount)
}

func TestSetReplacesExistingEntry(t *testing.T) {
	c, _ := createTestCache(t, Options{Sizer: fixedSizer(10)})

	require.NoError(t, c.Set("k", "old", 0))
	require.NoError(t, c.Set("k", "new", 0))

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(10+1+entryOverhead), c.Stats().MemoryUsage)
}

func TestEvictsLeastRecentlyUsedByCount(t *testing.T) {
	c, _ := createTestCache(t, Options{MaxEntries: 3})

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, k, 0))
	}
	// a becomes most recent, so b is the LRU victim
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("d", "d", 0))

	_, ok = c.Peek("b")
	assert.False(t, ok, "b should have been evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Peek(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestEvictsUntilMemoryFits(t *testing.T) {
	per := int64(100)
	unit := per + 1 + entryOverhead
	c, _ := createTestCache(t, Options{MaxMemoryBytes: unit * 3, Sizer: fixedSizer(per)})

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, c.Set(k, k, 0))
		assert.LessOrEqual(t, c.Stats().MemoryUsage, unit*3)
	}

	stats := c.Stats()
	assert.Equal(t, 3, stats.ItemCount)
	assert.Equal(t, int64(2), stats.Evictions)
	_, ok := c.Peek("a")
	assert.False(t, ok)
}

func TestEvictionBoundUnderRandomLoad(t *testing.T) {
	c, _ := createTestCache(t, Options{MaxEntries: 16, MaxMemoryBytes: 4096})

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", i%40)
		_ = c.Set(key, map[string]int{"i": i}, 0)
		if i%3 == 0 {
			c.Get(fmt.Sprintf("key-%d", (i*7)%40))
		}
		stats := c.Stats()
		require.LessOrEqual(t, stats.ItemCount, 16)
		require.LessOrEqual(t, stats.MemoryUsage, int64(4096))
	}
}

func TestRejectsOversizedEntryWithoutEvicting(t *testing.T) {
	c, _ := createTestCache(t, Options{MaxMemoryBytes: 1000, Sizer: fixedSizer(10)})
	require.NoError(t, c.Set("small", 1, 0))

	big := New(Options{MaxMemoryBytes: 1000, Sizer: fixedSizer(5000)})
	err := big.Set("big", 1, 0)
	assert.ErrorIs(t, err, ErrEntryTooLarge)
	assert.ErrorIs(t, err, types.ErrCache)

	c.opts.Sizer = fixedSizer(5000)
	err = c.Set("big", 1, 0)
	assert.ErrorIs(t, err, ErrEntryTooLarge)
	_, ok := c.Peek("small")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Rejected)
}

func TestUnsizableValue(t *testing.T) {
	c, _ := createTestCache(t, Options{})

	err := c.Set("ch", make(chan int), 0)
	assert.ErrorIs(t, err, ErrUnsizable)
	assert.ErrorIs(t, err, types.ErrCache)
}

func TestExpiryOnGet(t *testing.T) {
	c, clock := createTestCache(t, Options{})

	require.NoError(t, c.Set("k", 1, time.Second))
	clock.Advance(999 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestDefaultTTL(t *testing.T) {
	c, clock := createTestCache(t, Options{DefaultTTL: time.Minute})

	require.NoError(t, c.Set("k", 1, 0))
	clock.Advance(59 * time.Second)
	_, ok := c.Peek("k")
	assert.True(t, ok)
	clock.Advance(time.Second)
	_, ok = c.Peek("k")
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	c, clock := createTestCache(t, Options{})

	require.NoError(t, c.Set("short", 1, time.Second))
	require.NoError(t, c.Set("long", 2, time.Hour))
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Peek("long")
	assert.True(t, ok)
}

func TestRunStopsWithContext(t *testing.T) {
	c := New(Options{SweepInterval: 5 * time.Millisecond})
	require.NoError(t, c.Set("k", 1, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDeleteAndClear(t *testing.T) {
	c, _ := createTestCache(t, Options{})
	require.NoError(t, c.Set("a", 1, 0))
	require.NoError(t, c.Set("b", 2, 0))

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	c.Clear()
	stats := c.Stats()
	assert.Equal(t, 0, stats.ItemCount)
	assert.Equal(t, int64(0), stats.MemoryUsage)
}

func TestHotKeys(t *testing.T) {
	c, _ := createTestCache(t, Options{})
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, k, 0))
	}
	for i := 0; i < 3; i++ {
		c.Get("b")
	}
	c.Get("a")
	c.Get("c")

	hot := c.HotKeys(2)
	require.Len(t, hot, 2)
	assert.Equal(t, "b", hot[0].Key)
	assert.Equal(t, int64(3), hot[0].AccessCount)
	// a and c tie on one access, c was read last
	assert.Equal(t, "c", hot[1].Key)

	assert.Nil(t, c.HotKeys(0))
}

func TestWarm(t *testing.T) {
	c, _ := createTestCache(t, Options{})
	require.NoError(t, c.Set("present", "x", 0))

	var calls []string
	var mu sync.Mutex
	producer := func(_ context.Context, key string) (interface{}, time.Duration, error) {
		mu.Lock()
		calls = append(calls, key)
		mu.Unlock()
		if key == "broken" {
			return nil, 0, errors.New("cannot compute")
		}
		return "v-" + key, 0, nil
	}

	report := <-c.Warm(context.Background(), []string{"present", "a", "broken", "b"}, producer)

	assert.Equal(t, 4, report.Requested)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	assert.Error(t, report.Err())
	assert.NotContains(t, calls, "present")

	v, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, "v-a", v)
}

func TestWarmCancelled(t *testing.T) {
	c, _ := createTestCache(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := <-c.Warm(ctx, []string{"a", "b"}, func(context.Context, string) (interface{}, time.Duration, error) {
		t.Fatal("producer must not run after cancel")
		return nil, 0, nil
	})
	assert.Equal(t, 2, report.Failed)
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{MaxEntries: 50})
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d", (g*31+i)%80)
				if i%2 == 0 {
					_ = c.Set(key, i, 0)
				} else {
					c.Get(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
