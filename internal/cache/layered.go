package cache

import (
	"errors"
	"time"
)

// LayeredCache keeps hot index pages in memory and persists them on disk so
// repeated CLI runs (probe, ingest) reuse pages fetched by earlier ones.
type LayeredCache struct {
	memory Cache
	disk   Cache
}

// NewLayeredCache creates a memory-over-disk cache
func NewLayeredCache(ttl time.Duration, maxEntries int, diskDir string) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(ttl, maxEntries),
		disk:   NewDiskCache(diskDir, ttl),
	}
}

// Get checks memory first; disk hits are promoted when memory has room
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}
	val, found := c.disk.Get(key)
	if !found {
		return nil, false
	}
	_ = c.memory.Set(key, val, 0)
	return val, true
}

// Set always writes disk. A full memory layer is not an error here.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil && !errors.Is(err, ErrFull) {
		return err
	}
	return c.disk.Set(key, value, ttl)
}

func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.disk.Delete(key))
}

func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.disk.Clear())
}
