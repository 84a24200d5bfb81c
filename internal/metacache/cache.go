// Package metacache implements the process-lifetime TTL cache that
// shields metadata lookups from redundant upstream calls.
//
// Successes and failures are both cached, but under different TTLs: a
// good answer is kept for a long window, an empty or failed one only
// briefly so a rate-limited upstream gets retried reasonably soon
// without being hammered.
package metacache

import (
	"context"
	"sync"
	"time"
)

// DefaultBatchSize bounds how many keys one combined upstream query
// may carry; AniList rejects overly complex batched queries.
const DefaultBatchSize = 5

// BatchFetcher resolves a batch of keys in a single upstream call.
// Keys absent from the returned map are recorded as failed lookups.
type BatchFetcher[V any] func(ctx context.Context, keys []string) (map[string]V, error)

type entry[V any] struct {
	value V
	ok    bool
	at    time.Time
}

// Cache is a TTL key-value cache with differentiated success/failure
// expiry. Entries are overwritten in place on refresh and never
// evicted; the cache lives as long as the process.
type Cache[V any] struct {
	mu        sync.RWMutex
	entries   map[string]entry[V]
	ttl       time.Duration
	failTTL   time.Duration
	batchSize int
	now       func() time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock injects a time source (tests).
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithBatchSize overrides the per-round refresh batch size.
func WithBatchSize[V any](n int) Option[V] {
	return func(c *Cache[V]) { c.batchSize = n }
}

// New creates a cache with the given success and failure TTLs.
func New[V any](ttl, failTTL time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries:   make(map[string]entry[V]),
		ttl:       ttl,
		failTTL:   failTTL,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache[V]) fresh(e entry[V]) bool {
	ttl := c.ttl
	if !e.ok {
		ttl = c.failTTL
	}
	return c.now().Sub(e.at) < ttl
}

// Peek returns the cached value for key if a fresh entry exists. The
// second result reports whether the entry was a successful lookup.
func (c *Cache[V]) Peek(key string) (V, bool, bool) {
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists || !c.fresh(e) {
		var zero V
		return zero, false, false
	}
	return e.value, e.ok, true
}

func (c *Cache[V]) store(key string, value V, ok bool) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, ok: ok, at: c.now()}
	c.mu.Unlock()
}

// storeFailureIfAbsent records a failed lookup without clobbering an
// existing (possibly stale but still useful) entry.
func (c *Cache[V]) storeFailureIfAbsent(key string) {
	c.mu.Lock()
	if _, exists := c.entries[key]; !exists {
		var zero V
		c.entries[key] = entry[V]{value: zero, ok: false, at: c.now()}
	}
	c.mu.Unlock()
}

// GetOrFetch returns the cached value for key, calling fetch on a
// miss or expiry. fetch's ok result distinguishes "found" from "no
// data"; errors are cached as failures and never propagated.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (V, bool, error)) (V, bool) {
	if v, ok, hit := c.Peek(key); hit {
		return v, ok
	}
	v, ok, err := fetch(ctx)
	if err != nil || !ok {
		var zero V
		c.store(key, zero, false)
		return zero, false
	}
	c.store(key, v, true)
	return v, true
}

// GetBatch returns a value for every requested key. Keys with fresh
// entries are served from cache; the stale remainder is refreshed in
// fixed-size batches, one combined fetch call per batch. A failing
// batch marks its keys as cached failures instead of propagating, and
// the returned map always covers every requested key (failed or
// unknown keys map to the zero value).
func (c *Cache[V]) GetBatch(ctx context.Context, keys []string, fetch BatchFetcher[V]) map[string]V {
	var stale []string
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, _, hit := c.Peek(k); !hit {
			stale = append(stale, k)
		}
	}

	for start := 0; start < len(stale); start += c.batchSize {
		end := start + c.batchSize
		if end > len(stale) {
			end = len(stale)
		}
		batch := stale[start:end]

		fetched, err := fetch(ctx, batch)
		if err != nil {
			for _, k := range batch {
				c.storeFailureIfAbsent(k)
			}
			continue
		}
		for _, k := range batch {
			if v, ok := fetched[k]; ok {
				c.store(k, v, true)
			} else {
				var zero V
				c.store(k, zero, false)
			}
		}
	}

	out := make(map[string]V, len(keys))
	for _, k := range keys {
		c.mu.RLock()
		e := c.entries[k]
		c.mu.RUnlock()
		out[k] = e.value
	}
	return out
}
