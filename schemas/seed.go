// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package schemas

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v2"

	"github.com/dbal-labs/dbal/storage"
)

// seedFile is one YAML seed document.
type seedFile struct {
	Tenant  string                   `yaml:"tenant"`
	Package string                   `yaml:"package"`
	Entity  string                   `yaml:"entity"`
	Records []map[string]interface{} `yaml:"records"`
}

// SeedResult summarizes one seed run.
type SeedResult struct {
	Files   int `json:"files"`
	Records int `json:"records"`
}

// LoadSeeds walks dir for *.yaml seed files and creates their records
// through the adapter, injecting the file's tenant. Records that already
// exist are skipped rather than treated as failures, so seeding is
// re-runnable.
func LoadSeeds(ctx context.Context, log *zap.Logger, dir string, adapter storage.Adapter) (_ SeedResult, err error) {
	defer mon.Task()(&ctx)(&err)

	var result SeedResult
	if dir == "" {
		return result, nil
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return result, Error.Wrap(err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return result, Error.Wrap(err)
		}
		var seed seedFile
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return result, Error.Wrap(err)
		}
		if seed.Entity == "" {
			return result, storage.NewError(storage.CodeValidation, "seed file %q has no entity", name)
		}

		for _, record := range seed.Records {
			doc := storage.Record(normalizeYAML(record).(map[string]interface{}))
			if seed.Tenant != "" && doc.TenantID() == "" {
				doc["tenantId"] = seed.Tenant
			}
			if _, err := adapter.Create(ctx, seed.Entity, doc); err != nil {
				if storage.IsCode(err, storage.CodeConflict) {
					continue
				}
				return result, storage.WrapCode(err, "seeding %s from %s", seed.Entity, name)
			}
			result.Records++
		}
		result.Files++
		log.Info("seed file loaded", zap.String("file", name), zap.String("entity", seed.Entity))
	}
	return result, nil
}

// normalizeYAML converts yaml.v2 map[interface{}]interface{} trees into
// JSON-compatible map[string]interface{} trees.
func normalizeYAML(value interface{}) interface{} {
	switch value := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, v := range value {
			key, ok := k.(string)
			if !ok {
				continue
			}
			out[key] = normalizeYAML(v)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, v := range value {
			out[k] = normalizeYAML(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, v := range value {
			out[i] = normalizeYAML(v)
		}
		return out
	default:
		return value
	}
}
