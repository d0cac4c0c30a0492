// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package sync2 contains small synchronization helpers.
package sync2

import (
	"context"
	"sync"
	"time"
)

// Cycle runs a function on a fixed interval until the context is done or
// Close is called.
type Cycle struct {
	interval time.Duration

	closeOnce sync.Once
	quit      chan struct{}
}

// NewCycle creates a cycle with the given interval.
func NewCycle(interval time.Duration) *Cycle {
	return &Cycle{
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Run invokes fn every interval. It returns the first error from fn, or
// nil once the context is canceled or the cycle is closed.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(cycle.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		case <-cycle.quit:
			return nil
		}
	}
}

// Close stops the cycle. Safe to call multiple times.
func (cycle *Cycle) Close() {
	cycle.closeOnce.Do(func() { close(cycle.quit) })
}
