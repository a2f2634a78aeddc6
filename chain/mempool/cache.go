package mempool

import (
	"sync"
	"time"
)

// cache provides a simple in-memory cache with TTL.
type cache struct {
	// Current height cache
	height       uint32
	heightExpiry time.Time

	// Fee estimate cache
	fees       *FeeEstimates
	feesExpiry time.Time

	ttl time.Duration
	mu  sync.RWMutex
}

// newCache creates a new cache. A zero TTL disables caching.
func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl: ttl,
	}
}

// getHeight returns the cached height if valid.
func (c *cache) getHeight() (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if time.Now().Before(c.heightExpiry) && c.height > 0 {
		return c.height, true
	}

	return 0, false
}

// setHeight caches the current height.
func (c *cache) setHeight(height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height = height
	c.heightExpiry = time.Now().Add(c.ttl)
}

// getFees returns a copy of the cached fee estimates if valid.
func (c *cache) getFees() (*FeeEstimates, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.fees == nil || !time.Now().Before(c.feesExpiry) {
		return nil, false
	}

	fees := *c.fees
	return &fees, true
}

// setFees caches fee estimates.
func (c *cache) setFees(fees *FeeEstimates) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *fees
	c.fees = &cp
	c.feesExpiry = time.Now().Add(c.ttl)
}
