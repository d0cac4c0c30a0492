// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package testcontext provides a context with temporary directories and
// goroutine tracking for tests.
package testcontext

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultTimeout = 3 * time.Minute

// Context extends context.Context with test helpers.
type Context struct {
	context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	test   testing.TB

	once sync.Once
	root string
}

// New creates a test context with a deadline.
func New(test testing.TB) *Context {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	group, ctx := errgroup.WithContext(ctx)
	return &Context{
		Context: ctx,
		cancel:  cancel,
		group:   group,
		test:    test,
	}
}

// Go runs fn in a goroutine tracked by Cleanup.
func (ctx *Context) Go(fn func() error) {
	ctx.test.Helper()
	ctx.group.Go(fn)
}

// Check calls fn and fails the test on error.
func (ctx *Context) Check(fn func() error) {
	ctx.test.Helper()
	if err := fn(); err != nil {
		ctx.test.Fatal(err)
	}
}

// Dir returns a directory path inside the test's temp root.
func (ctx *Context) Dir(subs ...string) string {
	ctx.test.Helper()
	ctx.once.Do(func() {
		var err error
		ctx.root, err = os.MkdirTemp("", "dbal-test")
		if err != nil {
			ctx.test.Fatal(err)
		}
	})
	dir := filepath.Join(append([]string{ctx.root}, subs...)...)
	if err := os.MkdirAll(dir, 0700); err != nil {
		ctx.test.Fatal(err)
	}
	return dir
}

// File returns a file path inside the test's temp root.
func (ctx *Context) File(subs ...string) string {
	ctx.test.Helper()
	if len(subs) == 0 {
		ctx.test.Fatal("expected at least one path element")
	}
	dir := ctx.Dir(subs[:len(subs)-1]...)
	return filepath.Join(dir, subs[len(subs)-1])
}

// Cleanup cancels the context, waits for tracked goroutines and fails the
// test if any returned an error.
func (ctx *Context) Cleanup() {
	ctx.test.Helper()
	ctx.cancel()
	err := ctx.group.Wait()
	if ctx.root != "" {
		_ = os.RemoveAll(ctx.root)
	}
	if err != nil && err != context.Canceled {
		ctx.test.Fatal(err)
	}
}
