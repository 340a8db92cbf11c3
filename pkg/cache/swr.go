package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc produces a fresh value for a cache key.
type FetchFunc func(ctx context.Context) (interface{}, error)

type entry struct {
	data       interface{}
	storedAt   time.Time
	refreshing bool
}

// SWRCache is a stale-while-revalidate cache. Per key, entries move through
// EMPTY -> FRESH -> STALE -> evicted:
//
//   - EMPTY: blocking fetch, coalesced across concurrent callers.
//   - younger than Fresh: served as-is.
//   - between Fresh and Stale: served immediately while at most one
//     background refresh runs (concurrent stale reads never stack refreshes).
//   - older than Stale: evicted, blocking fetch.
//
// All map mutation happens under the mutex; a reader never observes a
// half-written entry.
type SWRCache struct {
	fresh time.Duration
	stale time.Duration

	mu      sync.RWMutex
	entries map[string]*entry

	flight singleflight.Group

	// now is swappable for tests.
	now func() time.Time
}

// NewSWR creates a cache with the given freshness and staleness thresholds.
// fresh must be below stale.
func NewSWR(fresh, stale time.Duration) *SWRCache {
	return &SWRCache{
		fresh:   fresh,
		stale:   stale,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock overrides the cache's clock (tests).
func (c *SWRCache) WithClock(now func() time.Time) *SWRCache {
	c.now = now
	return c
}

// Get returns the value for key, fetching per the SWR state machine. A
// background refresh triggered by a stale read runs on a detached context:
// the reader that happened to trigger it may be long gone by the time it
// lands, and the refreshed value must still be cached for the next caller.
func (c *SWRCache) Get(ctx context.Context, key string, fetch FetchFunc) (interface{}, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		age := c.now().Sub(e.storedAt)
		switch {
		case age < c.fresh:
			data := e.data
			c.mu.Unlock()
			return data, nil
		case age < c.stale:
			data := e.data
			start := !e.refreshing
			if start {
				e.refreshing = true
			}
			c.mu.Unlock()
			if start {
				go c.refresh(key, fetch)
			}
			return data, nil
		default:
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	return c.fetchBlocking(ctx, key, fetch)
}

// Peek returns the cached value regardless of staleness, without fetching.
func (c *SWRCache) Peek(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Set stores a value directly, resetting its age.
func (c *SWRCache) Set(key string, data interface{}) {
	c.mu.Lock()
	c.entries[key] = &entry{data: data, storedAt: c.now()}
	c.mu.Unlock()
}

// Evict removes a key.
func (c *SWRCache) Evict(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *SWRCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// fetchBlocking coalesces concurrent empty-key fetches into one execution.
func (c *SWRCache) fetchBlocking(ctx context.Context, key string, fetch FetchFunc) (interface{}, error) {
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, data)
		return data, nil
	})
	return v, err
}

// refresh replaces a stale entry in the background. Failure is logged and
// swallowed; the stale entry keeps serving until it crosses the staleness
// ceiling.
func (c *SWRCache) refresh(key string, fetch FetchFunc) {
	data, err := fetch(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		log.Printf("cache: background refresh of %q failed, serving stale: %v", key, err)
		if e, ok := c.entries[key]; ok {
			e.refreshing = false
		}
		return
	}
	c.entries[key] = &entry{data: data, storedAt: c.now()}
}
