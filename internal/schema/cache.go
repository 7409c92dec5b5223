package schema

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// WithCache wraps source with a TTL cache. A non-positive ttl disables
// caching and returns source unchanged.
func WithCache(source Source, ttl time.Duration) Source {
	if ttl <= 0 {
		return source
	}
	return &CachedInspector{source: source, ttl: ttl, now: time.Now}
}

// CachedInspector serves a snapshot until it is older than the TTL.
// Concurrent misses share one catalog read. Returned snapshots are shared and
// must not be modified.
type CachedInspector struct {
	source Source
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu        sync.Mutex
	snapshot  Snapshot
	fetchedAt time.Time
	valid     bool
}

func (c *CachedInspector) Inspect(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		snapshot := c.snapshot
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	value, err, _ := c.group.Do("snapshot", func() (any, error) {
		c.mu.Lock()
		if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
			snapshot := c.snapshot
			c.mu.Unlock()
			return snapshot, nil
		}
		c.mu.Unlock()

		snapshot, err := c.source.Inspect(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		c.mu.Lock()
		c.snapshot = snapshot
		c.fetchedAt = c.now()
		c.valid = true
		c.mu.Unlock()
		return snapshot, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return value.(Snapshot), nil
}

// Invalidate drops the cached snapshot so the next call reads the catalog.
func (c *CachedInspector) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
