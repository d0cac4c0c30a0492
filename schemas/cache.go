// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package schemas

import (
	"sync"
	"time"
)

// DefaultCacheTTL is the metadata cache lifetime.
const DefaultCacheTTL = 300 * time.Second

type cacheEntry struct {
	value  interface{}
	expiry time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !now.Before(e.expiry)
}

// Cache is a TTL-expiring cache for entity names and schemas. Invalidation
// rewinds expiries rather than erasing entries, so storage survives for
// overwrite while lookups treat the entry as a miss.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	nowFn func() time.Time

	entityNames *cacheEntry
	schemas     map[string]*cacheEntry

	hits   int64
	misses int64
}

// NewCache creates a cache; a non-positive ttl selects the default.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		nowFn:   time.Now,
		schemas: map[string]*cacheEntry{},
	}
}

// SetNow overrides the clock; used by tests.
func (cache *Cache) SetNow(nowFn func() time.Time) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.nowFn = nowFn
}

// SetEntityNames stores the entity name list.
func (cache *Cache) SetEntityNames(names []string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.entityNames = &cacheEntry{value: names, expiry: cache.nowFn().Add(cache.ttl)}
}

// EntityNames returns the cached list; ok is false on a miss.
func (cache *Cache) EntityNames() (names []string, ok bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.entityNames == nil || cache.entityNames.expired(cache.nowFn()) {
		cache.misses++
		return nil, false
	}
	cache.hits++
	return cache.entityNames.value.([]string), true
}

// SetSchema stores one entity schema.
func (cache *Cache) SetSchema(name string, schema EntitySchema) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.schemas[name] = &cacheEntry{value: schema, expiry: cache.nowFn().Add(cache.ttl)}
}

// Schema returns a cached schema; ok is false on a miss.
func (cache *Cache) Schema(name string) (schema EntitySchema, ok bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	entry, found := cache.schemas[name]
	if !found || entry.expired(cache.nowFn()) {
		cache.misses++
		return EntitySchema{}, false
	}
	cache.hits++
	return entry.value.(EntitySchema), true
}

// Invalidate expires one schema entry.
func (cache *Cache) Invalidate(name string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if entry, ok := cache.schemas[name]; ok {
		entry.expiry = cache.nowFn()
	}
}

// InvalidateAll expires every entry.
func (cache *Cache) InvalidateAll() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	now := cache.nowFn()
	if cache.entityNames != nil {
		cache.entityNames.expiry = now
	}
	for _, entry := range cache.schemas {
		entry.expiry = now
	}
}

// Stats returns the monotonically non-decreasing hit/miss counters.
func (cache *Cache) Stats() (hits, misses int64) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.hits, cache.misses
}
