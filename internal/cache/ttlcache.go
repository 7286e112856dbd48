// Package cache implements a process-local TTL cache with hybrid
// least-frequently-used + least-recently-used eviction, grounded on the
// teacher's token-count cache sweep-loop pattern and generalized to a
// generic value type and a composite eviction score.
package cache

import (
	"math"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value       any
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int64
}

// Stats summarizes cache occupancy and effectiveness.
type Stats struct {
	Size   int
	Hits   int64
	Misses int64
}

// TTLCache is a process-local map from string to opaque value with
// per-entry expiry and per-entry access counters.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int
	ttl     time.Duration

	hits   int64
	misses int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a TTLCache with the given default TTL and capacity, and
// starts a background sweep goroutine that removes expired entries every
// 60 seconds. Call Stop to release the goroutine.
func New(ttl time.Duration, maxSize int) *TTLCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &TTLCache{
		entries: make(map[string]*entry),
		maxSize: maxSize,
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *TTLCache) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *TTLCache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Get returns the value for key and whether it was present and unexpired.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		c.misses++
		if ok {
			delete(c.entries, key)
		}
		return nil, false
	}
	e.lastAccess = time.Now()
	e.accessCount++
	c.hits++
	return e.value, true
}

// Has reports presence without affecting access counters.
func (c *TTLCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return !time.Now().After(e.expiresAt)
}

// Set inserts or updates key. If the key exists, it updates in place and
// advances its access ordering. If at capacity, expired entries are evicted
// first; if that doesn't reclaim enough room, victims are chosen by the
// composite LFU+LRU score.
func (c *TTLCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, c.ttl)
}

// SetWithTTL inserts key with a per-entry TTL override.
func (c *TTLCache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *TTLCache) setLocked(key string, value any, ttl time.Duration) {
	now := time.Now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		e.lastAccess = now
		e.accessCount++
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictLocked(1)
	}
	c.entries[key] = &entry{value: value, expiresAt: now.Add(ttl), lastAccess: now, accessCount: 1}
}

// evictLocked removes expired entries first; if that doesn't free at least
// need slots, it evicts additional victims by ascending composite score
// 0.6*log2(accessCount+1) + 0.4*recencyScore, selected by partial selection
// sort rather than a full sort.
func (c *TTLCache) evictLocked(need int) {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}

	type scored struct {
		key   string
		score float64
	}
	candidates := make([]scored, 0, len(c.entries))
	for k, e := range c.entries {
		age := now.Sub(e.lastAccess)
		recency := 1 - age.Seconds()/c.ttl.Seconds()
		if recency < 0 {
			recency = 0
		}
		score := 0.6*math.Log2(float64(e.accessCount)+1) + 0.4*recency
		candidates = append(candidates, scored{k, score})
	}

	toEvict := need
	if toEvict < 1 {
		toEvict = 1
	}
	for i := 0; i < toEvict && i < len(candidates); i++ {
		lowest := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score < candidates[lowest].score {
				lowest = j
			}
		}
		candidates[i], candidates[lowest] = candidates[lowest], candidates[i]
		delete(c.entries, candidates[i].key)
	}
}

// Delete removes key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteByPrefix removes every key with the given prefix.
func (c *TTLCache) DeleteByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Clear removes every entry.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// SetMany inserts a batch of key/value pairs with the default TTL.
func (c *TTLCache) SetMany(kv map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range kv {
		c.setLocked(k, v, c.ttl)
	}
}

// GetMany returns the subset of keys present and unexpired.
func (c *TTLCache) GetMany(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, k := range keys {
		e, ok := c.entries[k]
		if !ok || now.After(e.expiresAt) {
			c.misses++
			continue
		}
		e.lastAccess = now
		e.accessCount++
		c.hits++
		out[k] = e.value
	}
	return out
}

// GetStats reports cache occupancy and hit/miss counters.
func (c *TTLCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// Stop halts the background sweep goroutine. Safe to call more than once.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
