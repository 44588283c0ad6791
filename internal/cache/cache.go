// Package cache is the Distributed Cache (C4): a thin namespacing wrapper
// around the teacher's infrastructure/cache.Cache, used as-is for
// in-process hot reads. Cross-tenant isolation is enforced by always
// namespacing keys with the participant (or consent) identifier (§4.8).
package cache

import (
	"fmt"
	"time"

	teachercache "github.com/R3E-Network/service_layer/infrastructure/cache"
)

// Cache is a tenant-namespaced TTL cache.
type Cache struct {
	inner *teachercache.Cache
}

// New constructs a Cache with the given default TTL.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{inner: teachercache.NewCache(teachercache.CacheConfig{DefaultTTL: defaultTTL})}
}

// Key namespaces a cache key with a tenant identifier (participantId or
// consentId), preventing cross-tenant bleeding (§4.8).
func Key(tenantID, key string) string {
	return fmt.Sprintf("%s:%s", tenantID, key)
}

// Get reads a tenant-namespaced value.
func (c *Cache) Get(tenantID, key string) (any, bool) {
	return c.inner.Get(Key(tenantID, key))
}

// Set writes a tenant-namespaced value with an explicit absolute TTL.
func (c *Cache) Set(tenantID, key string, value any, ttl time.Duration) {
	c.inner.Set(Key(tenantID, key), value, ttl)
}

// Invalidate removes a single tenant-namespaced entry.
func (c *Cache) Invalidate(tenantID, key string) {
	c.inner.Invalidate(Key(tenantID, key))
}

// InvalidateTenant removes every entry namespaced under tenantID.
func (c *Cache) InvalidateTenant(tenantID string) {
	c.inner.InvalidatePattern(tenantID + ":")
}
