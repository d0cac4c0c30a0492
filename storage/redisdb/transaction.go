// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package redisdb

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dbal-labs/dbal/storage"
)

// BeginTransaction implements storage.Adapter. Writes are buffered in an
// overlay and applied atomically with MULTI/EXEC on commit; rollback drops
// the overlay without touching redis.
func (client *Client) BeginTransaction(ctx context.Context) (_ storage.Tx, err error) {
	defer mon.Task()(&ctx)(&err)
	return &transaction{
		client:  client,
		pending: map[string]map[string]storage.Record{},
		deleted: map[string]map[string]bool{},
	}, nil
}

type transaction struct {
	client *Client
	// pending maps entity -> id -> document for creates and updates.
	pending map[string]map[string]storage.Record
	// deleted maps entity -> id for removes.
	deleted map[string]map[string]bool
	done    bool
}

func (tx *transaction) pendingFor(entity string) map[string]storage.Record {
	docs, ok := tx.pending[entity]
	if !ok {
		docs = map[string]storage.Record{}
		tx.pending[entity] = docs
	}
	return docs
}

func (tx *transaction) deletedFor(entity string) map[string]bool {
	ids, ok := tx.deleted[entity]
	if !ok {
		ids = map[string]bool{}
		tx.deleted[entity] = ids
	}
	return ids
}

func (tx *transaction) Create(ctx context.Context, entity string, doc storage.Record) (storage.Record, error) {
	if tx.done {
		return nil, storage.ErrTxDone()
	}
	if len(doc) == 0 {
		return nil, storage.NewError(storage.CodeValidation, "document must not be empty")
	}
	stored := doc.Copy()
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	if _, err := tx.Read(ctx, entity, id); err == nil {
		return nil, storage.NewError(storage.CodeConflict, "%s %q already exists", entity, id)
	} else if !storage.IsCode(err, storage.CodeNotFound) {
		return nil, err
	}
	delete(tx.deletedFor(entity), id)
	tx.pendingFor(entity)[id] = stored
	return stored.Copy(), nil
}

func (tx *transaction) Read(ctx context.Context, entity, id string) (storage.Record, error) {
	if tx.done {
		return nil, storage.ErrTxDone()
	}
	if tx.deletedFor(entity)[id] {
		return nil, storage.ErrNotFound(entity, id)
	}
	if doc, ok := tx.pendingFor(entity)[id]; ok {
		return doc.Copy(), nil
	}
	return tx.client.Read(ctx, entity, id)
}

func (tx *transaction) Update(ctx context.Context, entity, id string, doc storage.Record) (storage.Record, error) {
	if tx.done {
		return nil, storage.ErrTxDone()
	}
	existing, err := tx.Read(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	merged := mergeDoc(existing, doc)
	tx.pendingFor(entity)[id] = merged
	return merged.Copy(), nil
}

func (tx *transaction) Remove(ctx context.Context, entity, id string) error {
	if tx.done {
		return storage.ErrTxDone()
	}
	if _, err := tx.Read(ctx, entity, id); err != nil {
		return err
	}
	delete(tx.pendingFor(entity), id)
	tx.deletedFor(entity)[id] = true
	return nil
}

func (tx *transaction) List(ctx context.Context, entity string, opts storage.ListOptions) (storage.ListResult, error) {
	if tx.done {
		return storage.ListResult{}, storage.ErrTxDone()
	}
	records, err := tx.client.loadAll(entity)
	if err != nil {
		return storage.ListResult{}, err
	}
	for id := range tx.deletedFor(entity) {
		delete(records, id)
	}
	for id, doc := range tx.pendingFor(entity) {
		records[id] = doc
	}
	var matched []storage.Record
	for _, doc := range records {
		if storage.MatchFilter(doc, opts.Filter) {
			matched = append(matched, doc.Copy())
		}
	}
	storage.SortRecords(matched, opts.Sort)
	total := len(matched)
	matched = storage.Paginate(matched, opts.Limit, opts.Page)
	return storage.ListResult{Records: matched, Total: total}, nil
}

// Commit applies the overlay in one MULTI/EXEC pipeline.
func (tx *transaction) Commit() error {
	if tx.done {
		return storage.ErrTxDone()
	}
	tx.done = true

	pipe := tx.client.db.TxPipeline()
	for entity, docs := range tx.pending {
		for id, doc := range docs {
			raw, err := json.Marshal(doc)
			if err != nil {
				return storage.NewError(storage.CodeValidation, "document is not JSON-encodable: %v", err)
			}
			pipe.Set(docKey(entity, id), string(raw), 0)
			pipe.SAdd(idsKey(entity), id)
		}
	}
	for entity, ids := range tx.deleted {
		for id := range ids {
			pipe.Del(docKey(entity, id))
			pipe.SRem(idsKey(entity), id)
		}
	}
	if _, err := pipe.Exec(); err != nil {
		return classify(err)
	}
	return nil
}

// Rollback drops the overlay.
func (tx *transaction) Rollback() error {
	if tx.done {
		return storage.ErrTxDone()
	}
	tx.done = true
	tx.pending = nil
	tx.deleted = nil
	return nil
}
