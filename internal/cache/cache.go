package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a process-local TTL cache.
type Cache[K ~string, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type ttlCache[K ~string, V any] struct {
	items *gocache.Cache
}

// NewTTLCache returns a cache whose entries default to ttl and are purged every cleanup.
func NewTTLCache[K ~string, V any](ttl, cleanup time.Duration) Cache[K, V] {
	return &ttlCache[K, V]{items: gocache.New(ttl, cleanup)}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	var zero V
	raw, ok := c.items.Get(string(key))
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(string(key), value, ttl)
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.items.Delete(string(key))
}
