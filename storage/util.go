// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"fmt"
	"sort"
)

// MatchFilter reports whether the document satisfies every equality filter.
// Comparison is against the field's string form, so numeric fields match
// their decimal representation.
func MatchFilter(doc Record, filter map[string]string) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok {
			return false
		}
		if FieldString(got) != want {
			return false
		}
	}
	return true
}

// FieldString renders a document field for comparison and sorting.
func FieldString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SortRecords orders records by the given sort keys; with no keys it falls
// back to ordering by id so listings are stable.
func SortRecords(records []Record, orders []SortOrder) {
	if len(orders) == 0 {
		sort.Slice(records, func(i, k int) bool {
			return records[i].ID() < records[k].ID()
		})
		return
	}
	sort.SliceStable(records, func(i, k int) bool {
		for _, order := range orders {
			a := FieldString(records[i][order.Field])
			b := FieldString(records[k][order.Field])
			if a == b {
				continue
			}
			if order.Desc {
				return a > b
			}
			return a < b
		}
		return false
	})
}

// Paginate slices one page out of the full result set. Page is 1-indexed;
// a non-positive limit returns everything.
func Paginate(records []Record, limit, page int) []Record {
	if limit <= 0 {
		return records
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(records) {
		return nil
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}
