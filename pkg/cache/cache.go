// Package cache provides a generic, thread-safe cache that evicts by both size (least
// recently used) and age (time to live), whichever comes first.
//
// The profile resolver keeps profiles in it keyed by DID. Statistics are always collected;
// Prometheus metrics are opt-in with WithMetrics.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/c360/skystream/errors"
)

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Hybrid is an LRU cache whose entries also expire ttl after insertion.
// Reads do not extend an entry's lifetime.
type Hybrid[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List // front = most recently used

	now     func() time.Time
	stats   *Statistics
	metrics *cacheMetrics

	stop chan struct{}
	done chan struct{}
}

// NewHybrid creates a cache with at most maxSize entries, each fresh for ttl.
// A ttl of zero disables expiry.
func NewHybrid[V any](maxSize int, ttl time.Duration, options ...Option[V]) (*Hybrid[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewHybrid", "maxSize must be positive")
	}
	if ttl < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewHybrid", "ttl cannot be negative")
	}
	opts := applyOptions(options...)

	c := &Hybrid[V]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     opts.clock,
		stats:   &Statistics{},
	}

	if opts.metricsReg != nil {
		m, err := newCacheMetrics(opts.metricsReg, opts.metricsComponent)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewHybrid", "metrics registration")
		}
		c.metrics = m
	}

	if opts.cleanupInterval > 0 && ttl > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.janitor(opts.cleanupCtx, opts.cleanupInterval)
	}
	return c, nil
}

func (c *Hybrid[V]) expired(e *entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.insertedAt) >= c.ttl
}

// Get returns the value for key when present and fresh. A stale entry is removed.
func (c *Hybrid[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetWithTime(key)
	return v, ok
}

// GetWithTime is Get that also reports when the entry was inserted.
func (c *Hybrid[V]) GetWithTime(key string) (V, time.Time, bool) {
	var zero V

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		return zero, time.Time{}, false
	}

	e := el.Value.(*entry[V])
	if c.expired(e, c.now()) {
		c.removeLocked(el)
		size := len(c.items)
		c.mu.Unlock()

		c.recordEviction(size)
		c.recordMiss()
		return zero, time.Time{}, false
	}

	c.order.MoveToFront(el)
	c.mu.Unlock()

	c.recordHit()
	return e.value, e.insertedAt, true
}

// Set inserts or replaces key, stamping it with the current time. It reports whether
// the key was new.
func (c *Hybrid[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "key cannot be empty")
	}
	now := c.now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.insertedAt = now
		c.order.MoveToFront(el)
		c.mu.Unlock()
		c.stats.sets.Add(1)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, insertedAt: now})

	var evicted *entry[V]
	if len(c.items) > c.maxSize {
		back := c.order.Back()
		evicted = back.Value.(*entry[V])
		c.removeLocked(back)
	}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.sets.Add(1)
	c.updateSize(size)
	if evicted != nil {
		c.recordEviction(size)
	}
	return true, nil
}

// Delete removes key. It reports whether the key existed.
func (c *Hybrid[V]) Delete(key string) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok {
		c.removeLocked(el)
	}
	size := len(c.items)
	c.mu.Unlock()

	if ok {
		c.updateSize(size)
	}
	return ok
}

// Len returns the number of entries, fresh or not yet swept.
func (c *Hybrid[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the fresh keys, most recently used first.
func (c *Hybrid[V]) Keys() []string {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !c.expired(e, now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Stats returns the cache counters.
func (c *Hybrid[V]) Stats() *Statistics {
	return c.stats
}

// RemoveExpired sweeps stale entries and returns how many were removed.
func (c *Hybrid[V]) RemoveExpired() int {
	if c.ttl == 0 {
		return 0
	}
	now := c.now()
	removed := 0

	c.mu.Lock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[V])
		if c.expired(e, now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	size := len(c.items)
	c.mu.Unlock()

	for i := 0; i < removed; i++ {
		c.recordEviction(size)
	}
	return removed
}

// Close stops the background sweeper, if one was started.
func (c *Hybrid[V]) Close() error {
	if c.stop == nil {
		return nil
	}
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
	return nil
}

func (c *Hybrid[V]) janitor(ctx context.Context, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// removeLocked must be called with c.mu held.
func (c *Hybrid[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(el)
}
