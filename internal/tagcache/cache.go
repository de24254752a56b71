// Package tagcache provides an in-memory TTL cache with tag and pattern
// invalidation, grouped into independently locked namespaces.
package tagcache

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/stats"
	"github.com/wilologistics/keeper/internal/tagcache/cachestrategy"
	"github.com/wilologistics/keeper/internal/tagcache/cachestrategy/lru"
)

const (
	// DefaultMaxSize is the capacity of a cache created without WithMaxSize.
	DefaultMaxSize = 1000

	// DefaultTTL applies when Set is called with a non-positive TTL.
	DefaultTTL = 5 * time.Minute
)

// ErrInvalidSize is returned when a cache is configured with a non-positive capacity.
var ErrInvalidSize = errors.New("tagcache: max size must be positive")

// Cache is a single namespace of tagged, expiring entries.
// A Cache is safe for concurrent use; every operation holds the cache lock
// for its whole duration, so multi-entry invalidations appear atomic.
type Cache struct {
	name       string
	maxSize    int
	defaultTTL time.Duration
	strategy   cachestrategy.Strategy[*Entry]
	collector  stats.Collector
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithName sets the namespace name used in logs and stats.
func WithName(name string) Option {
	return func(c *Cache) { c.name = name }
}

// WithMaxSize sets the maximum number of entries.
func WithMaxSize(n int) Option {
	return func(c *Cache) { c.maxSize = n }
}

// WithDefaultTTL sets the TTL used when Set receives a non-positive TTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = d }
}

// WithStrategy replaces the recency strategy. The strategy's own capacity
// must not be smaller than the cache's max size.
func WithStrategy(s cachestrategy.Strategy[*Entry]) Option {
	return func(c *Cache) { c.strategy = s }
}

// WithCollector sets the stats collector.
func WithCollector(col stats.Collector) Option {
	return func(c *Cache) { c.collector = col }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache with the given options.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		name:       DefaultNamespace,
		maxSize:    DefaultMaxSize,
		defaultTTL: DefaultTTL,
		collector:  stats.NewNoop(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxSize <= 0 {
		return nil, ErrInvalidSize
	}
	if c.strategy == nil {
		s, err := lru.New[*Entry](c.maxSize)
		if err != nil {
			return nil, fmt.Errorf("creating lru strategy: %w", err)
		}
		c.strategy = s
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}
	return c, nil
}

// Name returns the namespace name.
func (c *Cache) Name() string {
	return c.name
}

// MaxSize returns the capacity of the cache.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// Get returns the value stored under key.
// Expired entries are removed on the spot and reported as misses.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.strategy.Peek(key)
	if !ok {
		c.recordMiss()
		return nil, false
	}
	if entry.Expired(now) {
		c.strategy.Remove(key)
		c.expirations++
		c.collector.IncCounter(stats.MetricCacheExpirations, 1)
		c.recordMiss()
		c.reportSize()
		return nil, false
	}

	// Get (not Peek) so the strategy sees this read.
	c.strategy.Get(key)
	c.hits++
	c.collector.IncCounter(stats.MetricCacheHits, 1)
	return entry.access(now), true
}

// GetOr returns the value stored under key, or def when it is absent or expired.
func (c *Cache) GetOr(key string, def any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

func (c *Cache) recordMiss() {
	c.misses++
	c.collector.IncCounter(stats.MetricCacheMisses, 1)
}

// Set stores value under key, replacing any existing entry.
// When the cache is full and key is new, the least recently accessed entry
// is evicted first.
func (c *Cache) Set(key string, value any, ttl time.Duration, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if _, exists := c.strategy.Peek(key); !exists && c.strategy.Len() >= c.maxSize {
		c.evictOldestLocked()
	}

	c.strategy.Add(key, newEntry(key, value, ttl, tags, c.now()))
	c.reportSize()
}

func (c *Cache) evictOldestLocked() {
	victim, _, ok := c.strategy.RemoveOldest()
	if !ok {
		return
	}
	c.evictions++
	c.collector.IncCounter(stats.MetricCacheEvictions, 1)
	c.logger.Debug("evicted entry",
		zap.String("namespace", c.name),
		zap.String("key", victim),
	)
}

// Invalidate removes a single entry and reports whether it existed.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.strategy.Remove(key)
	if removed {
		c.reportSize()
	}
	return removed
}

// InvalidateByTag removes every entry carrying tag and returns how many were removed.
func (c *Cache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.removeWhereLocked(func(e *Entry) bool { return e.HasTag(tag) })
	if n > 0 {
		c.logger.Debug("invalidated entries by tag",
			zap.String("namespace", c.name),
			zap.String("tag", tag),
			zap.Int("count", n),
		)
	}
	return n
}

// InvalidateByPattern removes every entry whose key matches the shell-style
// glob and returns how many were removed. Only *, ?, [..] and [!..] are
// special; braces and backslashes match themselves. A malformed pattern
// matches nothing.
func (c *Cache) InvalidateByPattern(pattern string) int {
	g, err := glob.Compile(quoteGlob(pattern))
	if err != nil {
		c.logger.Debug("ignoring malformed pattern",
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.removeWhereLocked(func(e *Entry) bool { return g.Match(e.Key) })
	if n > 0 {
		c.logger.Debug("invalidated entries by pattern",
			zap.String("namespace", c.name),
			zap.String("pattern", pattern),
			zap.Int("count", n),
		)
	}
	return n
}

// quoteGlob escapes braces and backslashes outside character classes so
// they match literally.
func quoteGlob(pattern string) string {
	var b strings.Builder
	inClass := false
	for _, r := range pattern {
		switch {
		case inClass:
			if r == ']' {
				inClass = false
			}
		case r == '[':
			inClass = true
		case r == '{', r == '}', r == '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// removeWhereLocked deletes all entries matching pred. The caller holds c.mu.
func (c *Cache) removeWhereLocked(pred func(*Entry) bool) int {
	var n int
	for _, key := range c.strategy.Keys() {
		entry, ok := c.strategy.Peek(key)
		if !ok || !pred(entry) {
			continue
		}
		c.strategy.Remove(key)
		n++
	}
	if n > 0 {
		c.reportSize()
	}
	return n
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := c.removeWhereLocked(func(e *Entry) bool { return e.Expired(now) })
	if n > 0 {
		c.expirations += int64(n)
		c.collector.IncCounter(stats.MetricCacheExpirations, int64(n))
		c.logger.Debug("swept expired entries",
			zap.String("namespace", c.name),
			zap.Int("count", n),
		)
	}
	return n
}

// Clear removes all entries. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strategy.Purge()
	c.reportSize()
	c.logger.Info("cache cleared", zap.String("namespace", c.name))
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Len()
}

// Keys returns all keys from least to most recently accessed.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Keys()
}

// EntriesByTag returns copies of every entry carrying tag.
func (c *Cache) EntriesByTag(tag string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, key := range c.strategy.Keys() {
		if entry, ok := c.strategy.Peek(key); ok && entry.HasTag(tag) {
			out = append(out, entry.snapshot())
		}
	}
	return out
}

// Lookup returns a copy of the entry under key without counting an access.
func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.strategy.Peek(key)
	if !ok {
		return Entry{}, false
	}
	return entry.snapshot(), true
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mem int64
	for _, key := range c.strategy.Keys() {
		if entry, ok := c.strategy.Peek(key); ok {
			mem += estimateSize(key, entry.Value)
		}
	}

	rate := hitRate(c.hits, c.misses)
	return Stats{
		Name:        c.name,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        c.strategy.Len(),
		HitRate:     rate,
		Efficiency:  efficiencyFor(rate),
		MemoryBytes: mem,
		MemoryUsage: formatMemory(mem),
	}
}

func (c *Cache) reportSize() {
	c.collector.SetGauge(stats.MetricCacheSize, int64(c.strategy.Len()))
}
