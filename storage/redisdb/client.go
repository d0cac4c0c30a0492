// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package redisdb implements the adapter contract on top of redis.
// Documents live under dbal:<entity>:<id>; a per-entity id set supports
// listing. Transactions buffer writes in an overlay and apply them with a
// single MULTI/EXEC pipeline on commit.
package redisdb

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/dbal-labs/dbal/storage"
)

var (
	mon = monkit.Package()

	// Error is the default redisdb error class.
	Error = errs.Class("redisdb error")
)

// Client implements storage.Adapter for redis.
type Client struct {
	db *redis.Client
}

// Open parses a redis:// URL and connects.
func Open(rawurl string) (*Client, error) {
	opts, err := redis.ParseURL(rawurl)
	if err != nil {
		return nil, storage.NewError(storage.CodeValidation, "malformed redis URL: %v", err)
	}
	return &Client{db: redis.NewClient(opts)}, nil
}

// Name implements storage.Adapter.
func (client *Client) Name() string { return "redis" }

// Ping verifies connectivity. Used by admin test-connection.
func (client *Client) Ping(ctx context.Context) error {
	return Error.Wrap(client.db.Ping().Err())
}

// Close implements storage.Adapter.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}

func docKey(entity, id string) string { return "dbal:" + entity + ":" + id }
func idsKey(entity string) string     { return "dbal:" + entity + ":ids" }

func decodeDoc(raw string) (storage.Record, error) {
	var doc storage.Record
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, storage.NewError(storage.CodeDatabase, "corrupt document: %v", err)
	}
	return doc, nil
}

// Create implements storage.Ops.
func (client *Client) Create(ctx context.Context, entity string, doc storage.Record) (_ storage.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(doc) == 0 {
		return nil, storage.NewError(storage.CodeValidation, "document must not be empty")
	}
	stored := doc.Copy()
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, storage.NewError(storage.CodeValidation, "document is not JSON-encodable: %v", err)
	}
	ok, err := client.db.SetNX(docKey(entity, id), string(raw), 0).Result()
	if err != nil {
		return nil, classify(err)
	}
	if !ok {
		return nil, storage.NewError(storage.CodeConflict, "%s %q already exists", entity, id)
	}
	if err := client.db.SAdd(idsKey(entity), id).Err(); err != nil {
		return nil, classify(err)
	}
	return stored, nil
}

// Read implements storage.Ops.
func (client *Client) Read(ctx context.Context, entity, id string) (_ storage.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	raw, err := client.db.Get(docKey(entity, id)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound(entity, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeDoc(raw)
}

// Update implements storage.Ops.
func (client *Client) Update(ctx context.Context, entity, id string, doc storage.Record) (_ storage.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	existing, err := client.Read(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	merged := mergeDoc(existing, doc)
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, storage.NewError(storage.CodeValidation, "document is not JSON-encodable: %v", err)
	}
	if err := client.db.Set(docKey(entity, id), string(raw), 0).Err(); err != nil {
		return nil, classify(err)
	}
	return merged, nil
}

// Remove implements storage.Ops.
func (client *Client) Remove(ctx context.Context, entity, id string) (err error) {
	defer mon.Task()(&ctx)(&err)
	removed, err := client.db.Del(docKey(entity, id)).Result()
	if err != nil {
		return classify(err)
	}
	if removed == 0 {
		return storage.ErrNotFound(entity, id)
	}
	return classify(client.db.SRem(idsKey(entity), id).Err())
}

// List implements storage.Ops.
func (client *Client) List(ctx context.Context, entity string, opts storage.ListOptions) (_ storage.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)
	records, err := client.loadAll(entity)
	if err != nil {
		return storage.ListResult{}, err
	}
	var matched []storage.Record
	for _, doc := range records {
		if storage.MatchFilter(doc, opts.Filter) {
			matched = append(matched, doc)
		}
	}
	storage.SortRecords(matched, opts.Sort)
	total := len(matched)
	matched = storage.Paginate(matched, opts.Limit, opts.Page)
	return storage.ListResult{Records: matched, Total: total}, nil
}

func (client *Client) loadAll(entity string) (map[string]storage.Record, error) {
	ids, err := client.db.SMembers(idsKey(entity)).Result()
	if err != nil {
		return nil, classify(err)
	}
	records := make(map[string]storage.Record, len(ids))
	for _, id := range ids {
		raw, err := client.db.Get(docKey(entity, id)).Result()
		if err == redis.Nil {
			// id set can lag behind deletes; skip strays
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		records[id] = doc
	}
	return records, nil
}

func mergeDoc(existing, doc storage.Record) storage.Record {
	merged := existing.Copy()
	for k, v := range doc {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	return merged
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*storage.Error); ok {
		return err
	}
	return storage.NewError(storage.CodeDatabase, "%v", err)
}
