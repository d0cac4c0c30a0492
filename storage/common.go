// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package storage defines the uniform contract every database adapter
// implements, the closed error-code set shared by adapters and handlers,
// and the blob storage contract.
package storage

import (
	"context"
)

// Record is a generic entity document. Payloads are semi-structured JSON
// trees; tenant injection only ever touches the top-level "tenantId" field.
type Record map[string]interface{}

// Copy returns a shallow copy of the record.
func (r Record) Copy() Record {
	if r == nil {
		return nil
	}
	dup := make(Record, len(r))
	for k, v := range r {
		dup[k] = v
	}
	return dup
}

// ID returns the record's "id" field when it is a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// TenantID returns the record's "tenantId" field when it is a string.
func (r Record) TenantID() string {
	tenant, _ := r["tenantId"].(string)
	return tenant
}

// SortOrder is a single list sort key.
type SortOrder struct {
	Field string
	Desc  bool
}

// ListOptions control filtering, ordering and pagination of List.
type ListOptions struct {
	// Filter contains exact-match field equality filters.
	Filter map[string]string
	// Sort is applied in order; an empty slice means adapter default order.
	Sort []SortOrder
	// Limit is the page size; zero means adapter default.
	Limit int
	// Page is 1-indexed; zero is treated as the first page.
	Page int
}

// ListResult is the outcome of a List call.
type ListResult struct {
	Records []Record
	// Total is the number of records matching the filter, across all pages.
	Total int
}

// Ops is the generic record operation set. It is implemented both by
// adapters and by open transactions, so handlers run the same code inside
// and outside a transaction scope.
type Ops interface {
	Create(ctx context.Context, entity string, doc Record) (Record, error)
	Read(ctx context.Context, entity, id string) (Record, error)
	Update(ctx context.Context, entity, id string, doc Record) (Record, error)
	Remove(ctx context.Context, entity, id string) error
	List(ctx context.Context, entity string, opts ListOptions) (ListResult, error)
}

// Tx is an open transaction scope. Once Commit or Rollback returns the
// scope is terminal and every further call fails; a fresh scope must be
// opened with BeginTransaction.
type Tx interface {
	Ops
	Commit() error
	Rollback() error
}

// Adapter is the pluggable object that speaks to one backend.
type Adapter interface {
	Ops

	// Name returns the adapter tag, e.g. "postgres".
	Name() string

	// BeginTransaction opens a new transaction scope.
	BeginTransaction(ctx context.Context) (Tx, error)

	Close() error
}
