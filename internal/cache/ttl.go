// Package cache provides the in-memory TTL cache that memoizes idempotent
// provider responses and decisions, plus the Redis-backed alert suppression
// cache. The TTL cache is the single memoization point: callers always go
// through it rather than short-circuiting around it.
package cache

import (
	"strings"
	"sync"
	"time"
)

// TTL bands by data class and timeframe.
const (
	TTLBarsH1 = 5 * time.Minute
	TTLBarsH4 = 30 * time.Minute
	TTLBarsD1 = 4 * time.Hour

	TTLDecisionTrade   = 5 * time.Minute
	TTLDecisionNoTrade = 2 * time.Minute

	sweepInterval = 5 * time.Minute
)

// SeriesTTL returns the cache TTL for bar/indicator data on an internal
// interval code (60min, 4h, daily).
func SeriesTTL(interval string) time.Duration {
	switch interval {
	case "4h":
		return TTLBarsH4
	case "daily":
		return TTLBarsD1
	default:
		return TTLBarsH1
	}
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is a keyed in-memory store with per-entry expiry.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	stop    chan struct{}
	stopped sync.Once

	hits   int64
	misses int64
}

// NewTTLCache creates a cache and starts its background sweep.
func NewTTLCache() *TTLCache {
	c := &TTLCache{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the value if present and unexpired. Expired entries are
// deleted on access and count as misses.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(e.expiresAt) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return e.value, true
	}

	c.mu.Lock()
	if ok {
		delete(c.entries, key)
	}
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set stores a value with the given TTL.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes a single key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix erases all keys starting with prefix and returns the count.
func (c *TTLCache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats holds hit/miss counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// GetStats returns current cache statistics.
func (c *TTLCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// Close stops the background sweep.
func (c *TTLCache) Close() {
	c.stopped.Do(func() { close(c.stop) })
}

func (c *TTLCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *TTLCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Key builds the deterministic cache key
// "<symbol>:<interval>:<indicator>[:<params>][:<candleTime>]".
// Params must already be sorted by the caller.
func Key(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ":")
}
