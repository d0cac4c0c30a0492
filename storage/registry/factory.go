// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package registry constructs adapters from connection URLs and owns the
// process-wide active adapter handle.
package registry

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dbal-labs/dbal/storage"
	"github.com/dbal-labs/dbal/storage/mongodb"
	"github.com/dbal-labs/dbal/storage/redisdb"
	"github.com/dbal-labs/dbal/storage/sqldb"
)

// adapterTags is the closed set of backend names.
var adapterTags = map[string]bool{
	"sqlite":        true,
	"postgres":      true,
	"mysql":         true,
	"mongodb":       true,
	"redis":         true,
	"elasticsearch": true,
	"cassandra":     true,
	"surrealdb":     true,
	"supabase":      true,
	"prisma":        true,
	"dynamodb":      true,
	"cockroachdb":   true,
	"tidb":          true,
}

// aliases maps accepted protocol spellings onto canonical tags.
var aliases = map[string]string{
	"postgresql": "postgres",
	"es":         "elasticsearch",
	"surreal":    "surrealdb",
}

// Normalize lowercases an adapter name and resolves aliases.
func Normalize(name string) string {
	name = strings.ToLower(name)
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// IsSupported reports whether the name (or an alias of it) is a known
// adapter tag.
func IsSupported(name string) bool {
	return adapterTags[Normalize(name)]
}

// Names returns the sorted set of known adapter tags.
func Names() []string {
	names := make([]string, 0, len(adapterTags))
	for name := range adapterTags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProtocolOf extracts the canonical adapter tag from a connection URL.
func ProtocolOf(rawurl string) (string, error) {
	proto, ok := storage.Protocol(rawurl)
	if !ok {
		return "", storage.NewError(storage.CodeValidation, "connection URL must contain '://'")
	}
	proto = Normalize(proto)
	if !adapterTags[proto] {
		return "", storage.NewError(storage.CodeValidation, "unsupported protocol %q", proto)
	}
	return proto, nil
}

// Open constructs an adapter for the named backend. The adapter name and
// the URL protocol must agree (postgres/postgresql are aliases).
func Open(ctx context.Context, log *zap.Logger, name, rawurl string) (storage.Adapter, error) {
	name = Normalize(name)
	if !adapterTags[name] {
		return nil, storage.NewError(storage.CodeValidation, "unknown adapter %q", name)
	}
	proto, err := ProtocolOf(rawurl)
	if err != nil {
		return nil, err
	}
	if proto != name {
		return nil, storage.NewError(storage.CodeValidation,
			"adapter %q does not match URL protocol %q", name, proto)
	}

	switch name {
	case "sqlite", "postgres", "mysql", "cockroachdb", "tidb":
		return sqldb.Open(log.Named(name), name, rawurl)
	case "redis":
		return redisdb.Open(rawurl)
	case "mongodb":
		return mongodb.Open(ctx, rawurl)
	default:
		return nil, storage.NewError(storage.CodeCapability,
			"adapter %q has no driver built into this binary", name)
	}
}
