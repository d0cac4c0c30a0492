// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterCeiling(t *testing.T) {
	limiter := NewLimiter(3)
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// Another key has its own bucket.
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestLimiterWindowReset(t *testing.T) {
	limiter := NewLimiter(2)
	defer limiter.Close()

	now := time.Now()
	limiter.SetNow(func() time.Time { return now })

	assert.True(t, limiter.Allow("ip"))
	assert.True(t, limiter.Allow("ip"))
	assert.False(t, limiter.Allow("ip"))

	// One second short of the window the key is still denied.
	now = now.Add(Window - time.Second)
	assert.False(t, limiter.Allow("ip"))

	// At exactly the window boundary the counter resets.
	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("ip"))
	assert.True(t, limiter.Allow("ip"))
	assert.False(t, limiter.Allow("ip"))
}

func TestLimitersAreIndependent(t *testing.T) {
	limiters := NewLimiters()
	defer limiters.Close()

	now := time.Now()
	for _, limiter := range []*Limiter{limiters.Admin, limiters.Mutation, limiters.Read} {
		limiter.SetNow(func() time.Time { return now })
	}

	for i := 0; i < AdminLimit; i++ {
		assert.True(t, limiters.Admin.Allow("ip"))
	}
	assert.False(t, limiters.Admin.Allow("ip"))

	// Exhausting the admin class leaves the others untouched.
	for i := 0; i < MutationLimit; i++ {
		assert.True(t, limiters.Mutation.Allow("ip"), "mutation %d", i)
	}
	assert.False(t, limiters.Mutation.Allow("ip"))

	for i := 0; i < ReadLimit; i++ {
		assert.True(t, limiters.Read.Allow("ip"), "read %d", i)
	}
	assert.False(t, limiters.Read.Allow("ip"))
}

func TestCleanupDropsStaleBuckets(t *testing.T) {
	limiter := NewLimiter(5)
	defer limiter.Close()

	now := time.Now()
	limiter.SetNow(func() time.Time { return now })

	limiter.Allow("stale")
	now = now.Add(2 * Window)
	limiter.Allow("fresh")

	limiter.cleanup()

	limiter.mu.Lock()
	_, staleOK := limiter.buckets["stale"]
	_, freshOK := limiter.buckets["fresh"]
	limiter.mu.Unlock()
	assert.False(t, staleOK)
	assert.True(t, freshOK)
}
