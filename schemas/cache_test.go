// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheHitAndExpiry(t *testing.T) {
	cache := NewCache(300 * time.Second)
	now := time.Now()
	cache.SetNow(func() time.Time { return now })

	schema := EntitySchema{Package: "forum", Entity: "posts"}
	cache.SetSchema("posts", schema)

	got, ok := cache.Schema("posts")
	require.True(t, ok)
	assert.Equal(t, schema, got)

	// One second before expiry is still a hit.
	now = now.Add(299 * time.Second)
	_, ok = cache.Schema("posts")
	assert.True(t, ok)

	// At the TTL boundary the entry expires.
	now = now.Add(time.Second)
	got, ok = cache.Schema("posts")
	assert.False(t, ok)
	assert.Zero(t, got)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCacheInvalidateAllRewindsExpiry(t *testing.T) {
	cache := NewCache(0)
	now := time.Now()
	cache.SetNow(func() time.Time { return now })

	cache.SetEntityNames([]string{"posts", "comments"})
	cache.SetSchema("posts", EntitySchema{Entity: "posts"})

	names, ok := cache.EntityNames()
	require.True(t, ok)
	assert.Equal(t, []string{"posts", "comments"}, names)

	_, misses := cache.Stats()
	cache.InvalidateAll()

	// Every lookup after invalidation is a miss with a zero value.
	_, ok = cache.EntityNames()
	assert.False(t, ok)
	schema, ok := cache.Schema("posts")
	assert.False(t, ok)
	assert.Zero(t, schema)

	_, missesAfter := cache.Stats()
	assert.Equal(t, misses+2, missesAfter)

	// Storage survives: overwriting works and the entry is fresh again.
	cache.SetSchema("posts", EntitySchema{Entity: "posts", Package: "forum"})
	got, ok := cache.Schema("posts")
	require.True(t, ok)
	assert.Equal(t, "forum", got.Package)
}

func TestCacheInvalidateSingleEntry(t *testing.T) {
	cache := NewCache(time.Minute)
	now := time.Now()
	cache.SetNow(func() time.Time { return now })

	cache.SetSchema("posts", EntitySchema{Entity: "posts"})
	cache.SetSchema("comments", EntitySchema{Entity: "comments"})

	cache.Invalidate("posts")

	_, ok := cache.Schema("posts")
	assert.False(t, ok)
	_, ok = cache.Schema("comments")
	assert.True(t, ok)
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	cache := NewCache(time.Minute)
	_, ok := cache.Schema("ghost")
	assert.False(t, ok)
	_, misses := cache.Stats()
	assert.Equal(t, int64(1), misses)
}
