package rbacinfra

import (
	"context"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// MemoryPermissionCache is a process-local cache. Entries are independent
// sync.Map slots, so unrelated users never contend on a shared lock.
type MemoryPermissionCache struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemoryPermissionCache() *MemoryPermissionCache {
	return &MemoryPermissionCache{now: time.Now}
}

// WithClock replaces the time source, for tests.
func (c *MemoryPermissionCache) WithClock(now func() time.Time) *MemoryPermissionCache {
	c.now = now
	return c
}

func (c *MemoryPermissionCache) Get(_ context.Context, key string) (bool, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return false, false, nil
	}
	e := v.(cacheEntry)
	if !c.now().Before(e.expiresAt) {
		c.entries.CompareAndDelete(key, v)
		return false, false, nil
	}
	return e.allowed, true, nil
}

func (c *MemoryPermissionCache) Set(_ context.Context, key string, allowed bool, ttl time.Duration) error {
	c.entries.Store(key, cacheEntry{allowed: allowed, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *MemoryPermissionCache) DeletePrefix(_ context.Context, prefix string) error {
	c.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			c.entries.Delete(k)
		}
		return true
	})
	return nil
}

// Len counts live and expired entries.
func (c *MemoryPermissionCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
