// Package cache is a small in-process response cache with the three
// strategies the site's service worker applies in the browser: cache first,
// network first and stale while revalidate.
//
// Entries live in a bounded LRU. Freshness is decided per read against the
// configured TTL, so a stale entry stays available as a fallback until it is
// evicted or replaced. Concurrent loads of the same key are coalesced.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"loopweb/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Status describes where a returned value came from.
type Status string

const (
	StatusHit      Status = "hit"      // fresh entry, no load
	StatusMiss     Status = "miss"     // loaded from the source
	StatusStale    Status = "stale"    // expired entry served
	StatusFallback Status = "fallback" // source and cache failed, value came from elsewhere
)

// LoadFunc produces the value for a key from the source of truth.
type LoadFunc[V any] func(ctx context.Context) (V, error)

// Entry is a cached value and the time it was stored.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// Options configures a Cache.
type Options struct {
	Size int
	TTL  time.Duration
	// RevalidateTimeout bounds background refreshes, which outlive the
	// request that triggered them.
	RevalidateTimeout time.Duration
	Now               func() time.Time
	Logger            *slog.Logger
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	entries           *lru.Cache[string, Entry[V]]
	ttl               time.Duration
	revalidateTimeout time.Duration
	now               func() time.Time
	logger            *slog.Logger

	group      singleflight.Group
	background sync.WaitGroup
}

// New creates a cache holding at most opts.Size entries.
func New[V any](opts Options) (*Cache[V], error) {
	if opts.Size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("cache TTL must be positive")
	}

	entries, err := lru.New[string, Entry[V]](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}

	c := &Cache[V]{
		entries:           entries,
		ttl:               opts.TTL,
		revalidateTimeout: opts.RevalidateTimeout,
		now:               opts.Now,
		logger:            opts.Logger,
	}
	if c.revalidateTimeout <= 0 {
		c.revalidateTimeout = 30 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c, nil
}

// Get returns the entry for key regardless of freshness.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	return c.entries.Get(key)
}

func (c *Cache[V]) Set(key string, value V) {
	c.entries.Add(key, Entry[V]{Value: value, StoredAt: c.now()})
}

// Fresh reports whether e is younger than the TTL.
func (c *Cache[V]) Fresh(e Entry[V]) bool {
	return c.now().Sub(e.StoredAt) < c.ttl
}

func (c *Cache[V]) Remove(key string) {
	c.entries.Remove(key)
}

func (c *Cache[V]) Purge() {
	c.entries.Purge()
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Wait blocks until background revalidations started so far have finished.
func (c *Cache[V]) Wait() {
	c.background.Wait()
}

// Load runs load for key, storing the value on success. Concurrent callers
// for the same key share a single call.
func (c *Cache[V]) Load(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			return value, err
		}
		c.Set(key, value)
		return value, nil
	})
	value, _ := v.(V)
	return value, err
}

// CacheFirst serves a fresh entry when there is one and loads otherwise. A
// failed load returns the error even if a stale entry exists.
func (c *Cache[V]) CacheFirst(ctx context.Context, key string, load LoadFunc[V]) (V, Status, error) {
	if e, ok := c.Get(key); ok && c.Fresh(e) {
		return e.Value, StatusHit, nil
	}

	v, err := c.Load(ctx, key, load)
	return v, StatusMiss, err
}

// NetworkFirst always loads. When the load fails any cached entry, fresh or
// not, is served instead.
func (c *Cache[V]) NetworkFirst(ctx context.Context, key string, load LoadFunc[V]) (V, Status, error) {
	v, err := c.Load(ctx, key, load)
	if err == nil {
		return v, StatusMiss, nil
	}

	if e, ok := c.Get(key); ok {
		c.logger.Warn("Load failed, serving cached entry", "key", key, "error", err)
		return e.Value, StatusStale, nil
	}

	return v, StatusMiss, err
}

// StaleWhileRevalidate serves any cached entry immediately. A stale entry
// triggers one background refresh per key. Without an entry the load runs in
// the caller.
func (c *Cache[V]) StaleWhileRevalidate(ctx context.Context, key string, load LoadFunc[V]) (V, Status, error) {
	e, ok := c.Get(key)
	if !ok {
		v, err := c.Load(ctx, key, load)
		return v, StatusMiss, err
	}

	if c.Fresh(e) {
		return e.Value, StatusHit, nil
	}

	c.revalidate(ctx, key, load)
	return e.Value, StatusStale, nil
}

// Fetch dispatches to the strategy named by one of the models.CacheStrategy
// constants.
func (c *Cache[V]) Fetch(ctx context.Context, strategy, key string, load LoadFunc[V]) (V, Status, error) {
	switch strategy {
	case models.CacheStrategyCacheFirst:
		return c.CacheFirst(ctx, key, load)
	case models.CacheStrategyNetworkFirst:
		return c.NetworkFirst(ctx, key, load)
	case models.CacheStrategyStaleWhileRevalidate:
		return c.StaleWhileRevalidate(ctx, key, load)
	default:
		var zero V
		return zero, StatusMiss, fmt.Errorf("unknown cache strategy: %s", strategy)
	}
}

func (c *Cache[V]) revalidate(ctx context.Context, key string, load LoadFunc[V]) {
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.revalidateTimeout)

	c.background.Add(1)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		value, err := load(bgCtx)
		if err != nil {
			return value, err
		}
		c.Set(key, value)
		return value, nil
	})

	go func() {
		defer c.background.Done()
		defer cancel()
		if res := <-ch; res.Err != nil {
			c.logger.Warn("Background revalidation failed", "key", key, "error", res.Err)
		}
	}()
}
