// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package registry

import (
	"context"
	"sync"
	"sync/atomic"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dbal-labs/dbal/storage"
)

var (
	mon = monkit.Package()

	// Error is the default registry error class.
	Error = errs.Class("registry error")
)

// Config carries the adapter configuration for a registry.
type Config struct {
	Adapter     string
	DatabaseURL string
	Mode        string
	Endpoint    string
	Sandbox     bool
}

// Registry owns the single active adapter handle. The handle is created
// lazily on first use and replaced atomically by a successful Switch; a
// failed Switch never loses the old handle.
type Registry struct {
	log *zap.Logger

	// mu serializes handle construction, access and replacement.
	mu      sync.Mutex
	adapter storage.Adapter

	// configMu guards the scalar config fields so readers that only want
	// the (adapter, url) snapshot never contend with handle construction.
	configMu    sync.Mutex
	adapterName string
	databaseURL string
	mode        string
	endpoint    string

	sandbox atomic.Bool
}

// New creates a registry. No adapter is constructed until first use.
func New(log *zap.Logger, config Config) *Registry {
	r := &Registry{
		log:         log,
		adapterName: Normalize(config.Adapter),
		databaseURL: config.DatabaseURL,
		mode:        config.Mode,
		endpoint:    config.Endpoint,
	}
	r.sandbox.Store(config.Sandbox)
	return r
}

// Config returns the current (adapter, databaseURL) snapshot.
func (r *Registry) Config() (adapter, databaseURL string) {
	r.configMu.Lock()
	defer r.configMu.Unlock()
	return r.adapterName, r.databaseURL
}

// Mode returns the configured run mode.
func (r *Registry) Mode() string {
	r.configMu.Lock()
	defer r.configMu.Unlock()
	return r.mode
}

// Sandbox reports whether sandbox mode is on.
func (r *Registry) Sandbox() bool { return r.sandbox.Load() }

// SetSandbox toggles sandbox mode.
func (r *Registry) SetSandbox(on bool) { r.sandbox.Store(on) }

// EnsureClient returns the active adapter, constructing it on first use.
// Requests that enter after a Switch see the new handle.
func (r *Registry) EnsureClient(ctx context.Context) (_ storage.Adapter, err error) {
	defer mon.Task()(&ctx)(&err)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapter != nil {
		return r.adapter, nil
	}

	name, rawurl := r.Config()
	adapter, err := Open(ctx, r.log, name, rawurl)
	if err != nil {
		return nil, err
	}
	r.log.Info("adapter connected", zap.String("adapter", name))
	r.adapter = adapter
	return adapter, nil
}

// Switch replaces the active adapter. The candidate is constructed first;
// on construction failure the current adapter stays active and the stored
// config is untouched. On success the old handle is closed after the new
// one is installed.
func (r *Registry) Switch(ctx context.Context, name, rawurl string) (err error) {
	defer mon.Task()(&ctx)(&err)

	name = Normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	candidate, err := Open(ctx, r.log, name, rawurl)
	if err != nil {
		return err
	}

	old := r.adapter
	r.adapter = candidate
	r.configMu.Lock()
	r.adapterName = name
	r.databaseURL = rawurl
	r.configMu.Unlock()

	if old != nil {
		if closeErr := old.Close(); closeErr != nil {
			r.log.Warn("closing previous adapter failed", zap.Error(closeErr))
		}
	}
	r.log.Info("adapter switched", zap.String("adapter", name))
	return nil
}

// pinger is implemented by adapters that can cheaply verify connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// TestConnection constructs a transient adapter, verifies it where the
// backend supports a ping, and closes it. The active handle is never
// touched.
func (r *Registry) TestConnection(ctx context.Context, name, rawurl string) (err error) {
	defer mon.Task()(&ctx)(&err)

	candidate, err := Open(ctx, r.log, name, rawurl)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := candidate.Close(); closeErr != nil && err == nil {
			err = storage.NewError(storage.CodeDatabase, "close test connection: %v", closeErr)
		}
	}()

	if p, ok := candidate.(pinger); ok {
		if pingErr := p.Ping(ctx); pingErr != nil {
			return storage.NewError(storage.CodeDatabase, "connection test failed: %v", pingErr)
		}
	}
	return nil
}

// Install places a pre-built adapter into the registry. Sandbox mode and
// tests use it to run the service on the in-memory backend.
func (r *Registry) Install(name, rawurl string, adapter storage.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.adapter
	r.adapter = adapter
	r.configMu.Lock()
	r.adapterName = name
	r.databaseURL = rawurl
	r.configMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// Close releases the active adapter, if any.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapter == nil {
		return nil
	}
	err := r.adapter.Close()
	r.adapter = nil
	return Error.Wrap(err)
}
