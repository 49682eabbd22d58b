package plan

import (
	"sync"
	"sync/atomic"
)

// Cache maps keys to compiled plans. It is safe for concurrent use; when
// two compilations of the same key race, the last Put wins. Cached plans
// are immutable so either is correct.
type Cache struct {
	entries sync.Map // Key -> Plan
	size    atomic.Int64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// Stats are the counters of a Cache.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// HitRate returns hits as a share of lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the plan cached under key.
func (c *Cache) Get(key Key) (Plan, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v.(Plan), true
}

// Put caches p under key.
func (c *Cache) Put(key Key, p Plan) {
	if _, loaded := c.entries.Swap(key, p); !loaded {
		c.size.Add(1)
	}
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}

// Clear drops every plan and resets the counters.
func (c *Cache) Clear() {
	c.entries.Clear()
	c.size.Store(0)
	c.hits.Store(0)
	c.misses.Store(0)
}
