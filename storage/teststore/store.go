// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory adapter used by tests and by
// sandbox mode. It keeps no external state and rejects documents that a
// real backend would reject, so transactional tests exercise genuine
// rollback paths.
package teststore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dbal-labs/dbal/storage"
)

// Client implements an in-memory adapter.
type Client struct {
	mu     sync.Mutex
	tables map[string]map[string]storage.Record

	CallCount struct {
		Create int
		Read   int
		Update int
		Remove int
		List   int
		Begin  int
		Close  int
	}

	version int
}

// New creates a new in-memory adapter.
func New() *Client {
	return &Client{tables: map[string]map[string]storage.Record{}}
}

// Name implements storage.Adapter.
func (store *Client) Name() string { return "memory" }

func (store *Client) table(entity string) map[string]storage.Record {
	table, ok := store.tables[entity]
	if !ok {
		table = map[string]storage.Record{}
		store.tables[entity] = table
	}
	return table
}

// Create adds a document to the store.
func (store *Client) Create(ctx context.Context, entity string, doc storage.Record) (storage.Record, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Create++
	return store.createLocked(entity, doc)
}

func (store *Client) createLocked(entity string, doc storage.Record) (storage.Record, error) {
	if len(doc) == 0 {
		return nil, storage.NewError(storage.CodeValidation, "document must not be empty")
	}
	stored := doc.Copy()
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	table := store.table(entity)
	if _, exists := table[id]; exists {
		return nil, storage.NewError(storage.CodeConflict, "%s %q already exists", entity, id)
	}
	store.version++
	table[id] = stored
	return stored.Copy(), nil
}

// Read fetches a document by id.
func (store *Client) Read(ctx context.Context, entity, id string) (storage.Record, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Read++
	return store.readLocked(entity, id)
}

func (store *Client) readLocked(entity, id string) (storage.Record, error) {
	doc, ok := store.table(entity)[id]
	if !ok {
		return nil, storage.ErrNotFound(entity, id)
	}
	return doc.Copy(), nil
}

// Update merges the given fields into an existing document.
func (store *Client) Update(ctx context.Context, entity, id string, doc storage.Record) (storage.Record, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Update++
	return store.updateLocked(entity, id, doc)
}

func (store *Client) updateLocked(entity, id string, doc storage.Record) (storage.Record, error) {
	table := store.table(entity)
	existing, ok := table[id]
	if !ok {
		return nil, storage.ErrNotFound(entity, id)
	}
	merged := existing.Copy()
	for k, v := range doc {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	store.version++
	table[id] = merged
	return merged.Copy(), nil
}

// Remove deletes a document by id.
func (store *Client) Remove(ctx context.Context, entity, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Remove++
	return store.removeLocked(entity, id)
}

func (store *Client) removeLocked(entity, id string) error {
	table := store.table(entity)
	if _, ok := table[id]; !ok {
		return storage.ErrNotFound(entity, id)
	}
	store.version++
	delete(table, id)
	return nil
}

// List returns documents matching the options, ordered by id unless a sort
// is requested.
func (store *Client) List(ctx context.Context, entity string, opts storage.ListOptions) (storage.ListResult, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.List++
	return store.listLocked(entity, opts)
}

func (store *Client) listLocked(entity string, opts storage.ListOptions) (storage.ListResult, error) {
	var matched []storage.Record
	for _, doc := range store.table(entity) {
		if storage.MatchFilter(doc, opts.Filter) {
			matched = append(matched, doc.Copy())
		}
	}
	storage.SortRecords(matched, opts.Sort)
	total := len(matched)
	matched = storage.Paginate(matched, opts.Limit, opts.Page)
	return storage.ListResult{Records: matched, Total: total}, nil
}

// BeginTransaction opens a transaction scope backed by a full snapshot.
func (store *Client) BeginTransaction(ctx context.Context) (storage.Tx, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Begin++

	snapshot := make(map[string]map[string]storage.Record, len(store.tables))
	for entity, table := range store.tables {
		dup := make(map[string]storage.Record, len(table))
		for id, doc := range table {
			dup[id] = doc.Copy()
		}
		snapshot[entity] = dup
	}
	return &transaction{store: store, snapshot: snapshot}, nil
}

// Close implements storage.Adapter.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}

// transaction applies operations directly and restores the snapshot on
// rollback. The store mutex serializes it against concurrent requests.
type transaction struct {
	store    *Client
	snapshot map[string]map[string]storage.Record
	done     bool
}

func (tx *transaction) Create(ctx context.Context, entity string, doc storage.Record) (storage.Record, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return nil, storage.ErrTxDone()
	}
	return tx.store.createLocked(entity, doc)
}

func (tx *transaction) Read(ctx context.Context, entity, id string) (storage.Record, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return nil, storage.ErrTxDone()
	}
	return tx.store.readLocked(entity, id)
}

func (tx *transaction) Update(ctx context.Context, entity, id string, doc storage.Record) (storage.Record, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return nil, storage.ErrTxDone()
	}
	return tx.store.updateLocked(entity, id, doc)
}

func (tx *transaction) Remove(ctx context.Context, entity, id string) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return storage.ErrTxDone()
	}
	return tx.store.removeLocked(entity, id)
}

func (tx *transaction) List(ctx context.Context, entity string, opts storage.ListOptions) (storage.ListResult, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return storage.ListResult{}, storage.ErrTxDone()
	}
	return tx.store.listLocked(entity, opts)
}

// Commit makes the transaction's writes permanent.
func (tx *transaction) Commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return storage.ErrTxDone()
	}
	tx.done = true
	tx.snapshot = nil
	return nil
}

// Rollback restores the snapshot taken at BeginTransaction.
func (tx *transaction) Rollback() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.done {
		return storage.ErrTxDone()
	}
	tx.done = true
	tx.store.tables = tx.snapshot
	tx.snapshot = nil
	tx.store.version++
	return nil
}
