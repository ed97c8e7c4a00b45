package cache

import (
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrFull is returned by Set when the memory layer holds MaxEntries pages
var ErrFull = errors.New("memory cache full")

// MemoryCache is an expiring in-process page cache with an optional entry cap
type MemoryCache struct {
	pages      *gocache.Cache
	maxEntries int
}

// NewMemoryCache creates a memory cache; a zero ttl on Set uses defaultTTL.
// maxEntries <= 0 leaves it unbounded.
func NewMemoryCache(defaultTTL time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{
		pages:      gocache.New(defaultTTL, sweepInterval(defaultTTL)),
		maxEntries: maxEntries,
	}
}

// sweepInterval purges expired pages at half the ttl, between 1 and 10 minutes
func sweepInterval(ttl time.Duration) time.Duration {
	d := ttl / 2
	if d < time.Minute {
		return time.Minute
	}
	if d > 10*time.Minute {
		return 10 * time.Minute
	}
	return d
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.pages.Get(key)
	if !found {
		return nil, false
	}
	b, ok := val.([]byte)
	return b, ok
}

// Set stores a copy of value. Overwrites are always accepted; new keys are
// refused with ErrFull once the cap is reached and expired pages are purged.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if c.maxEntries > 0 && c.pages.ItemCount() >= c.maxEntries {
		if _, exists := c.pages.Get(key); !exists {
			c.pages.DeleteExpired()
			if c.pages.ItemCount() >= c.maxEntries {
				return ErrFull
			}
		}
	}
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.pages.Set(key, stored, ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.pages.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.pages.Flush()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet purged
func (c *MemoryCache) Len() int {
	return c.pages.ItemCount()
}
