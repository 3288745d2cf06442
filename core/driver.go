// Package core provides the fundamental building blocks of the uon db mapper.
// It defines the storage contract implemented by drivers, the options accepted
// by each primitive and the results they return.
package core

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// FindOptions controls a find or findOne.
//
// Projection and Sort may name the model id field; it is renamed to the store
// primary key before reaching the driver.
type FindOptions struct {
	Projection Projection
	Sort       bson.D
	Limit      int64
	Skip       int64
}

// CountOptions controls a count.
type CountOptions struct {
	Limit int64
	Skip  int64
}

// InsertOptions controls insertOne and insertMany.
type InsertOptions struct {
	// Ordered stops an insertMany at the first failure. Nil uses the store
	// default.
	Ordered *bool
}

// UpdateOptions controls updateOne and updateMany.
type UpdateOptions struct {
	Upsert       bool
	ArrayFilters []any
}

// DeleteOptions controls deleteOne and deleteMany.
type DeleteOptions struct {
	Projection Projection
	Sort       bson.D
}

// AggregateOptions controls an aggregate.
type AggregateOptions struct {
	AllowDiskUse bool
	BatchSize    int32
}

// WatchOptions controls a change stream.
type WatchOptions struct {
	// FullDocument is passed to the store as is, e.g. "updateLookup".
	FullDocument string
	BatchSize    int32
	MaxAwaitTime time.Duration
}

// TransactionOptions controls a session transaction.
type TransactionOptions struct {
	MaxCommitTime time.Duration
}

// InsertOneResult is returned by Driver.InsertOne.
type InsertOneResult struct {
	InsertedID any
}

// InsertManyResult is returned by Driver.InsertMany.
type InsertManyResult struct {
	InsertedIDs []any
}

// UpdateResult is returned by Driver.UpdateOne and Driver.UpdateMany.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    any
}

// DeleteResult is returned by Driver.DeleteMany.
type DeleteResult struct {
	DeletedCount int64
}

// Session is a store session able to carry one transaction at a time.
type Session interface {
	// Context returns ctx bound to the session so that every driver call made
	// with it joins the transaction.
	Context(ctx context.Context) context.Context
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
	End(ctx context.Context)
}

// Cursor iterates the raw documents of a change stream.
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.M
	Err() error
	Close(ctx context.Context) error
}

// Driver defines the contract for document stores supported by the mapper.
//
// Every method receives documents in stored form: filters and updates are
// already normalized, primary keys are named _id and hold native ids.
// Documents returned are raw and are inflated by the caller.
type Driver interface {
	// Connect establishes a new connection or validates connectivity.
	Connect(ctx context.Context) error
	// Ping checks if the underlying database is reachable.
	Ping(ctx context.Context) error
	// Close terminates the connection and releases resources.
	Close(ctx context.Context) error

	// StartSession opens a session and starts a transaction on it.
	StartSession(ctx context.Context, opts *TransactionOptions) (Session, error)

	Count(ctx context.Context, ns Namespace, filter bson.M, opts *CountOptions) (int64, error)
	// FindOne returns nil and no error when nothing matches.
	FindOne(ctx context.Context, ns Namespace, filter bson.M, opts *FindOptions) (bson.M, error)
	Find(ctx context.Context, ns Namespace, filter bson.M, opts *FindOptions) ([]bson.M, error)
	InsertOne(ctx context.Context, ns Namespace, doc bson.M, opts *InsertOptions) (*InsertOneResult, error)
	InsertMany(ctx context.Context, ns Namespace, docs []bson.M, opts *InsertOptions) (*InsertManyResult, error)
	UpdateOne(ctx context.Context, ns Namespace, filter, update bson.M, opts *UpdateOptions) (*UpdateResult, error)
	UpdateMany(ctx context.Context, ns Namespace, filter, update bson.M, opts *UpdateOptions) (*UpdateResult, error)
	// DeleteOne removes the first match and returns it, or nil when nothing
	// matched.
	DeleteOne(ctx context.Context, ns Namespace, filter bson.M, opts *DeleteOptions) (bson.M, error)
	DeleteMany(ctx context.Context, ns Namespace, filter bson.M, opts *DeleteOptions) (*DeleteResult, error)
	Aggregate(ctx context.Context, ns Namespace, pipeline []bson.M, opts *AggregateOptions) ([]bson.M, error)
	Watch(ctx context.Context, ns Namespace, pipeline []bson.M, opts *WatchOptions) (Cursor, error)

	// SyncIndexes creates the collection if absent and reconciles the live
	// indexes with the declared ones.
	SyncIndexes(ctx context.Context, ns Namespace, indexes []IndexDefinition) ([]IndexSyncResult, error)
}
