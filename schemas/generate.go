// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package schemas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// typeNames maps field types onto generated schema scalar names.
var typeNames = map[string]string{
	"string":   "String",
	"int":      "Int",
	"integer":  "Int",
	"float":    "Float",
	"number":   "Float",
	"bool":     "Boolean",
	"boolean":  "Boolean",
	"datetime": "DateTime",
	"json":     "Json",
}

// Generate renders every approved schema into a single model file at the
// configured output path and returns the rendered text.
func (registry *Registry) Generate(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	var b strings.Builder
	b.WriteString("// Generated by dbal schema generate. Do not edit.\n")
	for _, schema := range registry.Approved() {
		fmt.Fprintf(&b, "\nmodel %s {\n", schema.Entity)
		b.WriteString("  id       String @id\n")
		b.WriteString("  tenantId String?\n")
		for _, field := range schema.Fields {
			if field.Name == "id" || field.Name == "tenantId" {
				continue
			}
			scalar, ok := typeNames[strings.ToLower(field.Type)]
			if !ok {
				scalar = "Json"
			}
			optional := "?"
			if field.Required {
				optional = ""
			}
			fmt.Fprintf(&b, "  %s %s%s\n", field.Name, scalar, optional)
		}
		b.WriteString("}\n")
	}

	rendered := b.String()
	if registry.config.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(registry.config.OutputPath), 0700); err != nil {
			return "", Error.Wrap(err)
		}
		if err := os.WriteFile(registry.config.OutputPath, []byte(rendered), 0600); err != nil {
			return "", Error.Wrap(err)
		}
	}
	return rendered, nil
}
