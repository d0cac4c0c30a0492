// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dbal-labs/dbal/storage"
)

const defaultListLimit = 50

// parseListOptions builds ListOptions from query parameters. Key names are
// case-sensitive; invalid numeric values fail parsing.
func parseListOptions(query url.Values) (storage.ListOptions, error) {
	opts := storage.ListOptions{
		Filter: map[string]string{},
		Limit:  defaultListLimit,
	}

	for _, key := range []string{"limit", "take"} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return opts, storage.NewError(storage.CodeValidation, "%s must be a positive integer, got %q", key, raw)
		}
		opts.Limit = n
		break
	}

	if raw := query.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return opts, storage.NewError(storage.CodeValidation, "page must be a positive integer, got %q", raw)
		}
		opts.Page = n
	}

	if opts.Page == 0 {
		for _, key := range []string{"skip", "offset"} {
			raw := query.Get(key)
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return opts, storage.NewError(storage.CodeValidation, "%s must be a non-negative integer, got %q", key, raw)
			}
			opts.Page = n/opts.Limit + 1
			break
		}
	}
	if opts.Page == 0 {
		opts.Page = 1
	}

	for key, values := range query {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		switch {
		case strings.HasPrefix(key, "filter."):
			opts.Filter[strings.TrimPrefix(key, "filter.")] = value
		case strings.HasPrefix(key, "where."):
			opts.Filter[strings.TrimPrefix(key, "where.")] = value
		case strings.HasPrefix(key, "sort."), strings.HasPrefix(key, "orderBy."):
			field := strings.TrimPrefix(strings.TrimPrefix(key, "sort."), "orderBy.")
			switch strings.ToLower(value) {
			case "asc", "":
				opts.Sort = append(opts.Sort, storage.SortOrder{Field: field})
			case "desc":
				opts.Sort = append(opts.Sort, storage.SortOrder{Field: field, Desc: true})
			default:
				return opts, storage.NewError(storage.CodeValidation, "sort direction must be asc or desc, got %q", value)
			}
		}
	}
	return opts, nil
}

func (server *Server) handleList(w http.ResponseWriter, r *http.Request, adapter storage.Adapter, route Route) {
	ctx := r.Context()

	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errorMessage(err))
		return
	}
	if route.Tenant != "" {
		opts.Filter["tenantId"] = route.Tenant
	}

	result, err := adapter.List(ctx, route.Entity, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	records := result.Records
	if records == nil {
		records = []storage.Record{}
	}
	writeData(w, map[string]interface{}{
		"data":  records,
		"total": result.Total,
		"page":  opts.Page,
		"limit": opts.Limit,
	})
}
