// ============================================================================
// Result Cache - bounded LRU with TTL
// ============================================================================
//
// Package: internal/cache
// File: cache.go
// Function: stores computed results keyed by request fingerprint
//
// Limits:
//   - MaxEntries:     upper bound on live entries
//   - MaxMemoryBytes: upper bound on the summed entry sizes
//   Before an insert, least-recently-used entries are evicted until both
//   bounds hold for the new entry. An entry larger than MaxMemoryBytes on its
//   own is rejected and nothing is evicted.
//
// Expiry:
//   Every entry carries an absolute expiry time. Get purges expired entries
//   lazily; Sweep (and Run, periodically) purges all of them.
//
// Concurrency:
//   One mutex guards the map, the LRU list and the counters. Entries are
//   never mutated after insertion except for their access bookkeeping, which
//   is only touched under the lock.
//
// ============================================================================

package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrEntryTooLarge means a single value exceeds MaxMemoryBytes.
	ErrEntryTooLarge = fmt.Errorf("%w: entry exceeds memory limit", types.ErrCache)
	// ErrUnsizable means the sizer could not measure the value.
	ErrUnsizable = fmt.Errorf("%w: value cannot be sized", types.ErrCache)
)

// ============================================================================
// Defaults
// ============================================================================

const (
	DefaultMaxEntries     = 1000
	DefaultMaxMemoryBytes = 64 << 20
	DefaultTTL            = 5 * time.Minute
	DefaultSweepInterval  = time.Minute

	// entryOverhead approximates the bookkeeping cost of one entry.
	entryOverhead = 128
)

// Options configures a Cache. Zero values take the package defaults.
type Options struct {
	MaxEntries     int
	MaxMemoryBytes int64
	DefaultTTL     time.Duration
	SweepInterval  time.Duration

	// Sizer measures a value in bytes. Defaults to its JSON length.
	Sizer func(value interface{}) (int64, error)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.MaxMemoryBytes <= 0 {
		o.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = DefaultTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Sizer == nil {
		o.Sizer = JSONSizer
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// JSONSizer measures a value by its JSON encoding.
func JSONSizer(value interface{}) (int64, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// ============================================================================
// Data structures
// ============================================================================

type entry struct {
	key         string
	value       interface{}
	size        int64
	createdAt   time.Time
	expiresAt   time.Time
	lastAccess  time.Time
	accessSeq   uint64
	accessCount int64
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	TotalRequests  int64   `json:"total_requests"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	ItemCount      int     `json:"item_count"`
	MemoryUsage    int64   `json:"memory_usage"`
	Evictions      int64   `json:"evictions"`
	Expirations    int64   `json:"expirations"`
	Rejected       int64   `json:"rejected"`
	MaxEntries     int     `json:"max_entries"`
	MaxMemoryBytes int64   `json:"max_memory_bytes"`
}

// HotKey describes a frequently read entry.
type HotKey struct {
	Key         string      `json:"key"`
	AccessCount int64       `json:"access_count"`
	LastAccess  time.Time   `json:"last_access"`
	Value       interface{} `json:"-"`
}

// Cache is a thread-safe bounded result cache.
type Cache struct {
	mu    sync.Mutex
	opts  Options
	items map[string]*list.Element
	lru   *list.List // front = most recently used

	seq    uint64
	mem    int64
	hits   int64
	misses int64
	evict  int64
	expire int64
	reject int64
}

// New creates a cache.
func New(opts Options) *Cache {
	opts.applyDefaults()
	return &Cache{
		opts:  opts,
		items: make(map[string]*list.Element),
		lru:   list.New(),
	}
}

// ============================================================================
// Core operations
// ============================================================================

// Get returns the live value for key. An expired entry counts as a miss and
// is removed.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	now := c.opts.Now()
	if !now.Before(e.expiresAt) {
		c.removeElement(el)
		c.expire++
		c.misses++
		return nil, false
	}

	c.touch(el, now)
	c.hits++
	return e.value, true
}

// Peek returns the live value for key without touching recency or counters.
func (c *Cache) Peek(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.opts.Now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry. ttl <= 0 uses
// the default TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	size, err := c.opts.Sizer(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsizable, err)
	}
	size += int64(len(key)) + entryOverhead
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.opts.MaxMemoryBytes {
		c.reject++
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, size, c.opts.MaxMemoryBytes)
	}

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	for c.lru.Len() > 0 && (c.lru.Len()+1 > c.opts.MaxEntries || c.mem+size > c.opts.MaxMemoryBytes) {
		c.removeElement(c.lru.Back())
		c.evict++
	}

	now := c.opts.Now()
	c.seq++
	e := &entry{
		key:        key,
		value:      value,
		size:       size,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
		accessSeq:  c.seq,
	}
	c.items[key] = c.lru.PushFront(e)
	c.mem += size
	return nil
}

// Delete removes key. It reports whether an entry was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.mem = 0
}

// Len returns the number of stored entries, expired ones included until purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		TotalRequests:  total,
		Hits:           c.hits,
		Misses:         c.misses,
		HitRate:        rate,
		ItemCount:      c.lru.Len(),
		MemoryUsage:    c.mem,
		Evictions:      c.evict,
		Expirations:    c.expire,
		Rejected:       c.reject,
		MaxEntries:     c.opts.MaxEntries,
		MaxMemoryBytes: c.opts.MaxMemoryBytes,
	}
}

// HotKeys returns up to n live entries ordered by access count, most recent
// access first on ties.
func (c *Cache) HotKeys(n int) []HotKey {
	if n <= 0 {
		return nil
	}

	c.mu.Lock()
	now := c.opts.Now()
	candidates := make([]*entry, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if now.Before(e.expiresAt) {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].accessCount != candidates[j].accessCount {
			return candidates[i].accessCount > candidates[j].accessCount
		}
		return candidates[i].accessSeq > candidates[j].accessSeq
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]HotKey, len(candidates))
	for i, e := range candidates {
		out[i] = HotKey{Key: e.key, AccessCount: e.accessCount, LastAccess: e.lastAccess, Value: e.value}
	}
	c.mu.Unlock()

	return out
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	c.expire += int64(removed)
	return removed
}

// Run sweeps expired entries every SweepInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// ============================================================================
// Warm-up
// ============================================================================

// Producer computes the value for a key during warm-up. A zero ttl uses the
// cache default.
type Producer func(ctx context.Context, key string) (value interface{}, ttl time.Duration, err error)

// WarmReport summarizes one warm-up run.
type WarmReport struct {
	Requested int     `json:"requested"`
	Loaded    int     `json:"loaded"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	Errors    []error `json:"-"`
}

// Warm fills the cache in the background. The producer runs outside the lock
// and only for keys that are not already present. The report is delivered on
// the returned channel, which is then closed.
func (c *Cache) Warm(ctx context.Context, keys []string, produce Producer) <-chan WarmReport {
	out := make(chan WarmReport, 1)

	go func() {
		defer close(out)
		report := WarmReport{Requested: len(keys)}

		for _, key := range keys {
			if ctx.Err() != nil {
				report.Failed++
				report.Errors = append(report.Errors, ctx.Err())
				continue
			}
			if _, ok := c.Peek(key); ok {
				report.Skipped++
				continue
			}
			value, ttl, err := produce(ctx, key)
			if err == nil {
				err = c.Set(key, value, ttl)
			}
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Errorf("warm %s: %w", key, err))
				continue
			}
			report.Loaded++
		}

		out <- report
	}()

	return out
}

// Err joins the warm-up failures, nil when there were none.
func (r WarmReport) Err() error {
	return errors.Join(r.Errors...)
}

// ============================================================================
// Internal helpers (lock held)
// ============================================================================

func (c *Cache) touch(el *list.Element, now time.Time) {
	e := el.Value.(*entry)
	c.seq++
	e.accessSeq = c.seq
	e.accessCount++
	e.lastAccess = now
	c.lru.MoveToFront(el)
}

func (c *Cache) removeElement(el *list.Element) {
	e := c.lru.Remove(el).(*entry)
	delete(c.items, e.key)
	c.mem -= e.size
}
