package dispatch

import "time"

type cacheEntry struct {
	body       string
	status     int
	insertedAt time.Time
	seq        uint64
}

// cache maps request signatures to response bodies. Entries expire after
// ttl; at capacity the oldest insertion is evicted. Guarded by
// Dispatcher.mu.
type cache struct {
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry
	seq     uint64
}

func newCache(cfg CacheConfig) *cache {
	if !cfg.Enabled {
		return nil
	}
	return &cache{ttl: cfg.TTL, maxSize: cfg.MaxSize, entries: make(map[string]cacheEntry)}
}

func (c *cache) get(sig string, now time.Time) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	e, ok := c.entries[sig]
	if !ok {
		return cacheEntry{}, false
	}
	if c.ttl > 0 && now.Sub(e.insertedAt) > c.ttl {
		delete(c.entries, sig)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *cache) put(sig, body string, status int, now time.Time) {
	if c == nil {
		return
	}
	if _, exists := c.entries[sig]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.seq++
	c.entries[sig] = cacheEntry{body: body, status: status, insertedAt: now, seq: c.seq}
}

func (c *cache) evictOldest() {
	var (
		oldest string
		found  bool
		best   cacheEntry
	)
	for sig, e := range c.entries {
		if !found || e.insertedAt.Before(best.insertedAt) ||
			(e.insertedAt.Equal(best.insertedAt) && e.seq < best.seq) {
			oldest, best, found = sig, e, true
		}
	}
	if found {
		delete(c.entries, oldest)
	}
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
