// Package cache holds the two process-wide caches the engine depends on:
// a request coalescer that collapses concurrent identical searches into one
// store execution, and a stale-while-revalidate cache for results that
// tolerate bounded staleness. Both are injected handles constructed once at
// startup; there is no package-level state.
package cache

import (
	"golang.org/x/sync/singleflight"
)

// Coalescer deduplicates concurrent identical requests server-side. Callers
// arriving while a request for the same key is in flight share its result
// instead of re-executing; once settled, the in-flight entry is removed
// regardless of outcome.
type Coalescer struct {
	group singleflight.Group
}

// NewCoalescer creates a coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{}
}

// Do executes fn under the given key, sharing one execution among all
// concurrent callers of the same key. shared reports whether this caller
// received another caller's result.
func (c *Coalescer) Do(key string, fn func() (interface{}, error)) (v interface{}, shared bool, err error) {
	v, err, shared = c.group.Do(key, fn)
	return v, shared, err
}
