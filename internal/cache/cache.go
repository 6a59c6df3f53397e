package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache holds one value per subject. Keys carry the schema version so a
// deploy that changes the cached view never serves the old shape.
type TTLCache[V any] struct {
	mu            sync.Mutex
	entries       map[string]entry[V]
	ttl           time.Duration
	schemaVersion string
	now           func() time.Time
}

func NewTTLCache[V any](ttl time.Duration, schemaVersion string) *TTLCache[V] {
	return &TTLCache[V]{
		entries:       make(map[string]entry[V]),
		ttl:           ttl,
		schemaVersion: schemaVersion,
		now:           time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.now = now
	return c
}

func (c *TTLCache[V]) Key(subjectID string) string {
	return subjectID + ":" + c.schemaVersion
}

func (c *TTLCache[V]) Get(subjectID string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.Key(subjectID)
	e, found := c.entries[key]
	if !found {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[V]) Set(subjectID string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.Key(subjectID)] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *TTLCache[V]) Invalidate(subjectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, c.Key(subjectID))
}

// Purge drops expired entries and returns how many were removed.
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
