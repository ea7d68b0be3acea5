// internal/pkg/querycache/querycache.go

// Package querycache memoizes named store queries for a TTL window and
// collapses concurrent identical requests into a single underlying call.
package querycache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// KeyPrefix namespaces cache keys per query family.
type KeyPrefix string

const (
	PrefixMedicines KeyPrefix = "med"
	PrefixAisles    KeyPrefix = "aisle"
	PrefixHistory   KeyPrefix = "hist"
)

// DefaultTTL is the window during which a cached query result is served
// without touching the store.
const DefaultTTL = 5 * time.Minute

// BuildKey creates a cache key with prefix
func BuildKey(prefix KeyPrefix, parts ...string) string {
	key := string(prefix)
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// Stats holds cache effectiveness counters.
type Stats struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Deduplicated  int64     `json:"deduplicated"`
	Invalidations int64     `json:"invalidations"`
	HitRate       float64   `json:"hit_rate"`
	LastReset     time.Time `json:"last_reset"`
}

type entry struct {
	value    any
	storedAt time.Time
}

// Cache is an in-process TTL cache with per-key request collapsing.
// Concurrent callers for the same uncached key block on one in-flight
// fetch and all receive its result; errors propagate and are never cached.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	nowFunc func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	dedups        atomic.Int64
	invalidations atomic.Int64
	lastReset     time.Time
}

// New creates a cache with the given TTL. A non-positive ttl falls back to
// DefaultTTL.
func New(ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries:   make(map[string]entry),
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "querycache")),
		nowFunc:   time.Now,
		lastReset: time.Now(),
	}
}

// SetNowFunc overrides the clock, for tests.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = now
}

// Do returns the live cached value for key, or executes fetch exactly once
// across all concurrent callers and caches its result. lookup inside the
// flight covers the caller that lost the race after a waiter populated the
// entry.
func Do[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.logger.DebugContext(ctx, "cache hit", slog.String("key", key))
		return v.(T), nil
	}
	c.misses.Add(1)

	v, err, shared := c.group.Do(key, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, v)
		return v, nil
	})
	if shared {
		c.dedups.Add(1)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// lookup returns the value for key if present and not expired. Expired
// entries are treated as absent and dropped.
func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.nowFunc().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// store writes an entry and opportunistically sweeps expired ones.
func (c *Cache) store(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry{value: value, storedAt: now}
}

// Invalidate drops exact keys so cached reads do not mask writes.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			c.invalidations.Add(1)
		}
	}
}

// InvalidatePrefix drops every key under the given prefix, e.g. all
// medicine-scoped queries after a medicine write.
func (c *Cache) InvalidatePrefix(prefix KeyPrefix) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := string(prefix) + ":"
	for k := range c.entries {
		if strings.HasPrefix(k, p) || k == string(prefix) {
			delete(c.entries, k)
			c.invalidations.Add(1)
		}
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of live entries, counting expired ones out.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	n := 0
	for _, e := range c.entries {
		if now.Sub(e.storedAt) < c.ttl {
			n++
		}
	}
	return n
}

// Stats returns cache effectiveness counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	lastReset := c.lastReset
	c.mu.Unlock()

	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Deduplicated:  c.dedups.Load(),
		Invalidations: c.invalidations.Load(),
		LastReset:     lastReset,
	}
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
	return s
}

// ResetStats zeroes the counters.
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.dedups.Store(0)
	c.invalidations.Store(0)

	c.mu.Lock()
	c.lastReset = time.Now()
	c.mu.Unlock()
}
