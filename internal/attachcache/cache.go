// Package attachcache memoizes per-attachment vendor artifacts (extracted text,
// uploaded file handles, document blocks) keyed by session and attachment name.
//
// Sessions are held in a bounded LRU and dropped after an idle period, so the
// cache does not grow with the lifetime of the process. Within a session the
// first successfully loaded value for a name wins; concurrent loads of the same
// key collapse into one.
package attachcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultMaxSessions = 1000
	DefaultIdleTTL     = time.Hour
)

// Config bounds the cache.
type Config struct {
	MaxSessions int
	IdleTTL     time.Duration
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *entries[V]]
	group    singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type entries[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func (e *entries[V]) get(name string) (V, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.items[name]
	return v, ok
}

// putIfAbsent stores v unless a value already exists, and returns the stored one.
func (e *entries[V]) putIfAbsent(name string, v V) V {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.items[name]; ok {
		return existing
	}
	e.items[name] = v
	return v
}

// New builds a cache.
func New[V any](cfg Config) *Cache[V] {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Cache[V]{
		sessions: expirable.NewLRU[string, *entries[V]](cfg.MaxSessions, nil, cfg.IdleTTL),
	}
}

// session returns the entry set for sessionID, creating it if needed. Every
// call re-adds the entry so its idle timer restarts.
func (c *Cache[V]) session(sessionID string) *entries[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions.Get(sessionID)
	if !ok {
		e = &entries[V]{items: make(map[string]V)}
	}
	c.sessions.Add(sessionID, e)
	return e
}

// Get returns a cached value without loading.
func (c *Cache[V]) Get(sessionID, name string) (V, bool) {
	return c.session(sessionID).get(name)
}

// GetOrLoad returns the cached value for (sessionID, name), calling load on a
// miss. hit reports whether the value came from the cache. Load errors are not
// cached, so the next request retries.
func (c *Cache[V]) GetOrLoad(sessionID, name string, load func() (V, error)) (v V, hit bool, err error) {
	e := c.session(sessionID)
	if v, ok := e.get(name); ok {
		c.hits.Add(1)
		return v, true, nil
	}

	// Only the caller whose closure ran load sees loaded set; callers that
	// joined its flight or found the value on the re-check count as hits.
	var loaded bool
	res, err, _ := c.group.Do(sessionID+"\x00"+name, func() (any, error) {
		if v, ok := e.get(name); ok {
			return v, nil
		}
		fresh, err := load()
		if err != nil {
			return nil, err
		}
		loaded = true
		return e.putIfAbsent(name, fresh), nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	if loaded {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return res.(V), !loaded, nil
}

// Purge drops every entry of a session.
func (c *Cache[V]) Purge(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions.Remove(sessionID)
}

// Sessions reports how many sessions are currently cached.
func (c *Cache[V]) Sessions() int {
	return c.sessions.Len()
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
