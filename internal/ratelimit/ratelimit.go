// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package ratelimit implements per-client fixed-window request limits.
// Each traffic class owns an independent limiter; a request consults only
// its class. The window semantics are strict: the ceiling-th request in a
// window is the last allowed one and the window resets exactly at the
// window length, which is why this is a counter and not a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/dbal-labs/dbal/internal/sync2"
)

// Window is the accounting window length.
const Window = 60 * time.Second

// Per-class ceilings per window.
const (
	AdminLimit    = 10
	MutationLimit = 50
	ReadLimit     = 100
)

const cleanupInterval = 5 * time.Minute

type bucket struct {
	count       int
	windowStart time.Time
}

// Limiter is a fixed-window counter keyed by client IP.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	ceiling int
	window  time.Duration
	nowFn   func() time.Time
	loop    *sync2.Cycle
}

// NewLimiter creates a limiter with the given per-window ceiling.
func NewLimiter(ceiling int) *Limiter {
	return &Limiter{
		buckets: map[string]*bucket{},
		ceiling: ceiling,
		window:  Window,
		nowFn:   time.Now,
		loop:    sync2.NewCycle(cleanupInterval),
	}
}

// SetNow overrides the clock; used by tests.
func (limiter *Limiter) SetNow(nowFn func() time.Time) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limiter.nowFn = nowFn
}

// Allow consumes one slot for the key. It reports false when the key has
// exhausted its window.
func (limiter *Limiter) Allow(key string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.nowFn()
	b, ok := limiter.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		limiter.buckets[key] = b
	}
	if now.Sub(b.windowStart) >= limiter.window {
		b.count = 0
		b.windowStart = now
	}
	if b.count >= limiter.ceiling {
		return false
	}
	b.count++
	return true
}

// Run periodically drops buckets whose window has long expired.
func (limiter *Limiter) Run(ctx context.Context) error {
	return limiter.loop.Run(ctx, func(ctx context.Context) error {
		limiter.cleanup()
		return nil
	})
}

func (limiter *Limiter) cleanup() {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	now := limiter.nowFn()
	for key, b := range limiter.buckets {
		if now.Sub(b.windowStart) >= 2*limiter.window {
			delete(limiter.buckets, key)
		}
	}
}

// Close stops the cleanup loop.
func (limiter *Limiter) Close() {
	limiter.loop.Close()
}

// Limiters groups the three traffic-class limiters.
type Limiters struct {
	Admin    *Limiter
	Mutation *Limiter
	Read     *Limiter
}

// NewLimiters creates the standard three-class set.
func NewLimiters() *Limiters {
	return &Limiters{
		Admin:    NewLimiter(AdminLimit),
		Mutation: NewLimiter(MutationLimit),
		Read:     NewLimiter(ReadLimit),
	}
}

// Run runs every class's cleanup loop until ctx is done.
func (limiters *Limiters) Run(ctx context.Context) error {
	errch := make(chan error, 3)
	for _, limiter := range []*Limiter{limiters.Admin, limiters.Mutation, limiters.Read} {
		limiter := limiter
		go func() { errch <- limiter.Run(ctx) }()
	}
	var first error
	for i := 0; i < 3; i++ {
		if err := <-errch; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close stops all cleanup loops.
func (limiters *Limiters) Close() {
	limiters.Admin.Close()
	limiters.Mutation.Close()
	limiters.Read.Close()
}
