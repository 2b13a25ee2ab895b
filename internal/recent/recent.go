// Package recent implements a small TTL set keyed by id. The engine marks ids it
// has just written and the reconciler asks whether an incoming notification is
// the echo of such a write.
package recent

import (
	"sync"
	"time"

	"github.com/newsroomate/rundown/internal/clock"
)

// DefaultMaxEntries bounds a cache created without WithMaxEntries.
const DefaultMaxEntries = 1024

type entry struct {
	expires time.Time
	tag     string
}

// Cache is a bounded set of ids that expire ttl after they were last marked.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	max     int
	entries map[string]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries overrides the size bound. Values below 1 are ignored.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.max = n
		}
	}
}

// New creates a cache whose entries live for ttl on clk.
func New(clk clock.Clock, ttl time.Duration, opts ...Option) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Cache{
		clock:   clk,
		ttl:     ttl,
		max:     DefaultMaxEntries,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the window an id stays recent after being marked.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Mark records id as recent, restarting its window.
func (c *Cache) Mark(id string) {
	c.MarkWith(id, "")
}

// MarkWith records id as recent together with a tag describing the write,
// e.g. the block and order a move produced.
func (c *Cache) MarkWith(id, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[id] = entry{expires: now.Add(c.ttl), tag: tag}
}

// Seen reports whether id was marked within the last ttl.
func (c *Cache) Seen(id string) bool {
	_, ok := c.Tag(id)
	return ok
}

// Tag returns the tag of a live entry.
func (c *Cache) Tag(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, id)
		return "", false
	}
	return e.tag, true
}

// Forget drops id immediately.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.clock.Now())
	return len(c.entries)
}

func (c *Cache) purgeLocked(now time.Time) {
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
}

// evictLocked makes room for one entry: expired ones go first, then the entry
// closest to expiry.
func (c *Cache) evictLocked(now time.Time) {
	c.purgeLocked(now)
	if len(c.entries) < c.max {
		return
	}

	var oldestID string
	var oldest time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.expires.Before(oldest) {
			oldestID, oldest = id, e.expires
		}
	}
	delete(c.entries, oldestID)
}
