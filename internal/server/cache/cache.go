// Package cache provides the in-memory cache for dashboard read models.
// Entries belonging to one server share a key prefix so they can be dropped
// together when that server's state changes.
package cache

import (
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache wraps go-cache with server-scoped invalidation and hit counters.
type Cache struct {
	store         *gocache.Cache
	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// New creates a cache whose entries live for ttl.
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{store: gocache.New(ttl, cleanupInterval)}
}

// ServerKey builds a cache key scoped to serverID.
func ServerKey(serverID string, parts ...string) string {
	return serverPrefix(serverID) + strings.Join(parts, ":")
}

func serverPrefix(serverID string) string {
	return "server:" + serverID + ":"
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores value under key for the default TTL.
func (c *Cache) Set(key string, value any) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}

// InvalidateServer removes every entry scoped to serverID and returns how
// many were removed.
func (c *Cache) InvalidateServer(serverID string) int {
	prefix := serverPrefix(serverID)
	n := 0
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			n++
		}
	}
	c.invalidations.Add(1)
	return n
}

// ItemCount returns the number of unexpired entries.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	ItemCount     int   `json:"item_count"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// GetStats returns the current counters.
func (c *Cache) GetStats() Stats {
	return Stats{
		ItemCount:     c.store.ItemCount(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
