package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ppiankov/vigia/internal/model"
)

// Cache stores fetched page bodies
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a stable cache key from a URL
func Key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "page-" + hex.EncodeToString(hash[:])
}

// New builds the page cache described by cfg; nil when caching is disabled
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Dir == "" {
		return NewMemoryCache(cfg.TTL, cfg.MaxEntries)
	}
	return NewLayeredCache(cfg.TTL, cfg.MaxEntries, cfg.Dir)
}
