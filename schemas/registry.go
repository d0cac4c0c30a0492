// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package schemas manages YAML entity definitions: scanning the packages
// directory, tracking pending migrations with an approval step, rendering
// generated schema output and caching metadata lookups.
package schemas

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v2"

	"github.com/dbal-labs/dbal/storage"
)

var (
	mon = monkit.Package()

	// Error is the default schemas error class.
	Error = errs.Class("schemas error")
)

// Field is one entity field definition.
type Field struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// EntitySchema is one entity definition from a package YAML file.
type EntitySchema struct {
	Package string  `yaml:"package" json:"package"`
	Entity  string  `yaml:"entity" json:"entity"`
	Fields  []Field `yaml:"fields" json:"fields"`
}

// Key returns the registry key "package/entity".
func (schema EntitySchema) Key() string {
	return schema.Package + "/" + schema.Entity
}

// Migration is a pending schema change awaiting approval.
type Migration struct {
	ID     string       `json:"id"`
	Kind   string       `json:"kind"` // "create" or "update"
	Schema EntitySchema `json:"schema"`
}

// Config locates the schema directories.
type Config struct {
	// PackagesPath holds <package>/<entity>.yaml definitions.
	PackagesPath string
	// RegistryPath is the approved-schema registry file.
	RegistryPath string
	// OutputPath receives generated schema output.
	OutputPath string
	// CacheTTL overrides the metadata cache TTL; zero selects the default.
	CacheTTL time.Duration
}

// Registry tracks approved schemas and pending migrations.
type Registry struct {
	log    *zap.Logger
	config Config
	cache  *Cache

	mu       sync.Mutex
	approved map[string]EntitySchema
	pending  []Migration
}

// NewRegistry loads the registry file when present.
func NewRegistry(log *zap.Logger, config Config) (*Registry, error) {
	registry := &Registry{
		log:      log,
		config:   config,
		cache:    NewCache(config.CacheTTL),
		approved: map[string]EntitySchema{},
	}
	if config.RegistryPath != "" {
		if err := registry.load(); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Cache exposes the metadata cache.
func (registry *Registry) Cache() *Cache { return registry.cache }

func (registry *Registry) load() error {
	raw, err := os.ReadFile(registry.config.RegistryPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return Error.Wrap(err)
	}
	var stored map[string]EntitySchema
	if err := yaml.Unmarshal(raw, &stored); err != nil {
		return Error.Wrap(err)
	}
	if stored != nil {
		registry.approved = stored
	}
	return nil
}

func (registry *Registry) save() error {
	if registry.config.RegistryPath == "" {
		return nil
	}
	raw, err := yaml.Marshal(registry.approved)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(registry.config.RegistryPath), 0700); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.WriteFile(registry.config.RegistryPath, raw, 0600))
}

// Scan walks the packages directory and records a pending migration for
// every new or changed entity definition.
func (registry *Registry) Scan(ctx context.Context) (_ []Migration, err error) {
	defer mon.Task()(&ctx)(&err)

	found, err := scanPackages(registry.config.PackagesPath)
	if err != nil {
		return nil, err
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.pending = nil
	for _, schema := range found {
		approved, exists := registry.approved[schema.Key()]
		switch {
		case !exists:
			registry.pending = append(registry.pending, newMigration("create", schema))
		case !reflect.DeepEqual(approved.Fields, schema.Fields):
			registry.pending = append(registry.pending, newMigration("update", schema))
		}
	}
	registry.cache.InvalidateAll()
	registry.log.Info("schema scan complete",
		zap.Int("entities", len(found)),
		zap.Int("pending", len(registry.pending)))
	return append([]Migration(nil), registry.pending...), nil
}

func newMigration(kind string, schema EntitySchema) Migration {
	sum := sha1.Sum([]byte(kind + ":" + schema.Key() + ":" + fmt.Sprint(schema.Fields)))
	return Migration{
		ID:     "mig-" + hex.EncodeToString(sum[:6]),
		Kind:   kind,
		Schema: schema,
	}
}

func scanPackages(root string) ([]EntitySchema, error) {
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var found []EntitySchema
	for _, pkg := range entries {
		if !pkg.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, pkg.Name()))
		if err != nil {
			return nil, Error.Wrap(err)
		}
		for _, file := range files {
			name := file.Name()
			if file.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(root, pkg.Name(), name))
			if err != nil {
				return nil, Error.Wrap(err)
			}
			var schema EntitySchema
			if err := yaml.Unmarshal(raw, &schema); err != nil {
				return nil, Error.Wrap(err)
			}
			if schema.Entity == "" {
				schema.Entity = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
			}
			schema.Package = pkg.Name()
			found = append(found, schema)
		}
	}
	sort.Slice(found, func(i, k int) bool { return found[i].Key() < found[k].Key() })
	return found, nil
}

// Pending returns the pending migrations.
func (registry *Registry) Pending() []Migration {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return append([]Migration(nil), registry.pending...)
}

// Approved returns the approved schemas sorted by key.
func (registry *Registry) Approved() []EntitySchema {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.approvedLocked()
}

func (registry *Registry) approvedLocked() []EntitySchema {
	out := make([]EntitySchema, 0, len(registry.approved))
	for _, schema := range registry.approved {
		out = append(out, schema)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key() < out[k].Key() })
	return out
}

// Approve applies a pending migration to the registry.
func (registry *Registry) Approve(ctx context.Context, id string) (err error) {
	defer mon.Task()(&ctx)(&err)

	registry.mu.Lock()
	defer registry.mu.Unlock()

	for i, migration := range registry.pending {
		if migration.ID != id {
			continue
		}
		registry.approved[migration.Schema.Key()] = migration.Schema
		registry.pending = append(registry.pending[:i], registry.pending[i+1:]...)
		registry.cache.InvalidateAll()
		return registry.save()
	}
	return storage.NewError(storage.CodeNotFound, "migration %q not found", id)
}

// Reject drops a pending migration.
func (registry *Registry) Reject(ctx context.Context, id string) (err error) {
	defer mon.Task()(&ctx)(&err)

	registry.mu.Lock()
	defer registry.mu.Unlock()

	for i, migration := range registry.pending {
		if migration.ID != id {
			continue
		}
		registry.pending = append(registry.pending[:i], registry.pending[i+1:]...)
		return nil
	}
	return storage.NewError(storage.CodeNotFound, "migration %q not found", id)
}

// EntityNames lists approved entity names, cache-fronted.
func (registry *Registry) EntityNames(ctx context.Context) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if names, ok := registry.cache.EntityNames(); ok {
		return names, nil
	}

	registry.mu.Lock()
	schemas := registry.approvedLocked()
	registry.mu.Unlock()

	names := make([]string, 0, len(schemas))
	for _, schema := range schemas {
		names = append(names, schema.Entity)
	}
	registry.cache.SetEntityNames(names)
	return names, nil
}

// EntitySchemaFor returns one approved schema by entity name,
// cache-fronted. A miss on an unknown entity returns the zero schema.
func (registry *Registry) EntitySchemaFor(ctx context.Context, entity string) (_ EntitySchema, err error) {
	defer mon.Task()(&ctx)(&err)

	if schema, ok := registry.cache.Schema(entity); ok {
		return schema, nil
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	for _, schema := range registry.approved {
		if schema.Entity == entity {
			registry.cache.SetSchema(entity, schema)
			return schema, nil
		}
	}
	return EntitySchema{}, nil
}
