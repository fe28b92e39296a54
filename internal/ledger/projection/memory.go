package projection

import (
	"context"
	"sync"
	"time"

	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
)

// MemoryCache is an in-process TTL cache. Suitable for single-instance
// deployments and tests; state is not shared across processes.
type MemoryCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]memoryEntry
	gens    map[string]uint64 // per-variety generation; "" key is the global one
	now     func() time.Time
}

type memoryEntry struct {
	value     *balance.OpeningBalance
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, cutoff time.Time, variety string) (*balance.OpeningBalance, bool) {
	key := cacheKey(cutoff, variety, c.generation(variety))

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) Set(_ context.Context, cutoff time.Time, variety string, ob *balance.OpeningBalance) {
	key := cacheKey(cutoff, variety, c.generation(variety))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: ob, expiresAt: c.now().Add(c.ttl)}

	// Opportunistic sweep keeps the map from accumulating dead entries.
	if len(c.entries) > 1024 {
		now := c.now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}

func (c *MemoryCache) InvalidateVariety(_ context.Context, variety string) {
	v := event.NormalizeVariety(variety)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[v]++
	// Unfiltered projections include every variety.
	c.gens[""]++
}

// generation returns the current generation for a variety, consulting both
// the variety's own counter and the global one for unfiltered keys.
func (c *MemoryCache) generation(variety string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if variety == "" {
		return c.gens[""]
	}
	return c.gens[variety]
}
