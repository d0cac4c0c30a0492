// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package mongodb implements the adapter contract on top of MongoDB.
// Entities map to collections; the document's id doubles as _id.
// Transactions use driver sessions and therefore require a replica set;
// against a standalone server the commit reports DatabaseError.
package mongodb

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dbal-labs/dbal/storage"
)

var (
	mon = monkit.Package()

	// Error is the default mongodb error class.
	Error = errs.Class("mongodb error")
)

const connectTimeout = 10 * time.Second

// Client implements storage.Adapter for MongoDB.
type Client struct {
	client *mongo.Client
	dbname string
}

// Open connects using a mongodb:// URL. The URL path names the database;
// it defaults to "dbal".
func Open(ctx context.Context, rawurl string) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, storage.NewError(storage.CodeValidation, "malformed mongodb URL: %v", err)
	}
	dbname := strings.TrimPrefix(u.Path, "/")
	if dbname == "" {
		dbname = "dbal"
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(rawurl))
	if err != nil {
		return nil, storage.NewError(storage.CodeDatabase, "mongodb connect: %v", err)
	}
	return &Client{client: client, dbname: dbname}, nil
}

// Name implements storage.Adapter.
func (client *Client) Name() string { return "mongodb" }

// Ping verifies connectivity. Used by admin test-connection.
func (client *Client) Ping(ctx context.Context) error {
	return Error.Wrap(client.client.Ping(ctx, nil))
}

// Close implements storage.Adapter.
func (client *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return Error.Wrap(client.client.Disconnect(ctx))
}

func (client *Client) collection(entity string) *mongo.Collection {
	return client.client.Database(client.dbname).Collection(entity)
}

func decode(raw bson.M) storage.Record {
	doc := storage.Record(raw)
	delete(doc, "_id")
	return doc
}

// Create implements storage.Ops.
func (client *Client) Create(ctx context.Context, entity string, doc storage.Record) (_ storage.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	return client.create(ctx, entity, doc)
}

func (client *Client) create(ctx context.Context, entity string, doc storage.Record) (storage.Record, error) {
	if len(doc) == 0 {
		return nil, storage.NewError(storage.CodeValidation, "document must not be empty")
	}
	stored := doc.Copy()
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	payload := bson.M(stored.Copy())
	payload["_id"] = id
	if _, err := client.collection(entity).InsertOne(ctx, payload); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, storage.NewError(storage.CodeConflict, "%s %q already exists", entity, id)
		}
		return nil, classify(err)
	}
	return stored, nil
}

// Read implements storage.Ops.
func (client *Client) Read(ctx context.Context, entity, id string) (_ storage.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	return client.read(ctx, entity, id)
}

func (client *Client) read(ctx context.Context, entity, id string) (storage.Record, error) {
	var raw bson.M
	err := client.collection(entity).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, storage.ErrNotFound(entity, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return decode(raw), nil
}

// Update implements storage.Ops.
func (client *Client) Update(ctx context.Context, entity, id string, doc storage.Record) (_ storage.Record, err error) {
	defer mon.Task()(&ctx)(&err)
	return client.update(ctx, entity, id, doc)
}

func (client *Client) update(ctx context.Context, entity, id string, doc storage.Record) (storage.Record, error) {
	set := bson.M{}
	for k, v := range doc {
		if k == "id" {
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return client.read(ctx, entity, id)
	}
	after := options.After
	var raw bson.M
	err := client.collection(entity).FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, storage.ErrNotFound(entity, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return decode(raw), nil
}

// Remove implements storage.Ops.
func (client *Client) Remove(ctx context.Context, entity, id string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.remove(ctx, entity, id)
}

func (client *Client) remove(ctx context.Context, entity, id string) error {
	res, err := client.collection(entity).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound(entity, id)
	}
	return nil
}

// List implements storage.Ops.
func (client *Client) List(ctx context.Context, entity string, opts storage.ListOptions) (_ storage.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)
	return client.list(ctx, entity, opts)
}

func (client *Client) list(ctx context.Context, entity string, opts storage.ListOptions) (storage.ListResult, error) {
	// tenantId filters natively; the remaining equality filters compare
	// against the string form like every other adapter.
	query := bson.M{}
	rest := make(map[string]string, len(opts.Filter))
	for field, value := range opts.Filter {
		if field == "tenantId" {
			query["tenantId"] = value
			continue
		}
		rest[field] = value
	}

	cursor, err := client.collection(entity).Find(ctx, query)
	if err != nil {
		return storage.ListResult{}, classify(err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var matched []storage.Record
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return storage.ListResult{}, classify(err)
		}
		doc := decode(raw)
		if storage.MatchFilter(doc, rest) {
			matched = append(matched, doc)
		}
	}
	if err := cursor.Err(); err != nil {
		return storage.ListResult{}, classify(err)
	}

	storage.SortRecords(matched, opts.Sort)
	total := len(matched)
	matched = storage.Paginate(matched, opts.Limit, opts.Page)
	return storage.ListResult{Records: matched, Total: total}, nil
}

// BeginTransaction implements storage.Adapter using a driver session.
func (client *Client) BeginTransaction(ctx context.Context) (_ storage.Tx, err error) {
	defer mon.Task()(&ctx)(&err)
	session, err := client.client.StartSession()
	if err != nil {
		return nil, classify(err)
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return nil, classify(err)
	}
	return &transaction{
		client:  client,
		session: session,
		ctx:     mongo.NewSessionContext(ctx, session),
	}, nil
}

type transaction struct {
	client  *Client
	session mongo.Session
	ctx     mongo.SessionContext
	done    bool
}

func (tx *transaction) guard() error {
	if tx.done {
		return storage.ErrTxDone()
	}
	return nil
}

func (tx *transaction) Create(ctx context.Context, entity string, doc storage.Record) (storage.Record, error) {
	if err := tx.guard(); err != nil {
		return nil, err
	}
	return tx.client.create(tx.ctx, entity, doc)
}

func (tx *transaction) Read(ctx context.Context, entity, id string) (storage.Record, error) {
	if err := tx.guard(); err != nil {
		return nil, err
	}
	return tx.client.read(tx.ctx, entity, id)
}

func (tx *transaction) Update(ctx context.Context, entity, id string, doc storage.Record) (storage.Record, error) {
	if err := tx.guard(); err != nil {
		return nil, err
	}
	return tx.client.update(tx.ctx, entity, id, doc)
}

func (tx *transaction) Remove(ctx context.Context, entity, id string) error {
	if err := tx.guard(); err != nil {
		return err
	}
	return tx.client.remove(tx.ctx, entity, id)
}

func (tx *transaction) List(ctx context.Context, entity string, opts storage.ListOptions) (storage.ListResult, error) {
	if err := tx.guard(); err != nil {
		return storage.ListResult{}, err
	}
	return tx.client.list(tx.ctx, entity, opts)
}

func (tx *transaction) Commit() error {
	if err := tx.guard(); err != nil {
		return err
	}
	tx.done = true
	defer tx.session.EndSession(context.Background())
	return classify(tx.session.CommitTransaction(tx.ctx))
}

func (tx *transaction) Rollback() error {
	if err := tx.guard(); err != nil {
		return err
	}
	tx.done = true
	defer tx.session.EndSession(context.Background())
	return classify(tx.session.AbortTransaction(tx.ctx))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*storage.Error); ok {
		return err
	}
	if err == context.DeadlineExceeded {
		return storage.NewError(storage.CodeTimeout, "mongodb operation timed out")
	}
	return storage.NewError(storage.CodeDatabase, "%v", err)
}
