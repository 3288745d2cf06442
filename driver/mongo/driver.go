// Package driver provides the MongoDB implementation of core.Driver.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/uon-team/db/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

//region MongoDriver

// MongoDriver implements core.Driver over a shared mongo.Client.
type MongoDriver struct {
	client          *mongo.Client
	defaultDatabase string
	logger          zerolog.Logger
}

var _ core.Driver = (*MongoDriver)(nil)

// Option configures a MongoDriver.
type Option func(*config)

type config struct {
	connectTimeout time.Duration
	logger         zerolog.Logger
}

// WithConnectTimeout sets the connect and server selection timeouts.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithLogger sets the logger used for connection and index sync messages.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// NewMongoDriver connects to uri and pings the server. Namespaces without a
// database use defaultDB.
func NewMongoDriver(ctx context.Context, uri string, defaultDB string, opts ...Option) (*MongoDriver, error) {
	cfg := config{connectTimeout: 10 * time.Second, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	clientOpts := mopt.Client().ApplyURI(uri)
	clientOpts.SetConnectTimeout(cfg.connectTimeout).SetServerSelectionTimeout(cfg.connectTimeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	cfg.logger.Info().Str("database", defaultDB).Msg("mongo connected")
	return &MongoDriver{client: client, defaultDatabase: defaultDB, logger: cfg.logger}, nil
}

// NewFromClient wraps an already connected client.
func NewFromClient(client *mongo.Client, defaultDB string, opts ...Option) *MongoDriver {
	cfg := config{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MongoDriver{client: client, defaultDatabase: defaultDB, logger: cfg.logger}
}

// Client returns the underlying client.
func (driver *MongoDriver) Client() *mongo.Client {
	return driver.client
}

func (driver *MongoDriver) dbFor(ns core.Namespace) *mongo.Database {
	dbName := driver.defaultDatabase
	if ns.Database != "" {
		dbName = ns.Database
	}
	if dbName == "" {
		panic("mongo driver: database name is empty (set it on the schema or on NewMongoDriver)")
	}
	return driver.client.Database(dbName)
}

func (driver *MongoDriver) coll(ns core.Namespace) *mongo.Collection {
	if ns.Collection == "" {
		panic("mongo driver: collection name is empty")
	}
	return driver.dbFor(ns).Collection(ns.Collection)
}

func (driver *MongoDriver) Connect(ctx context.Context) error {
	return driver.client.Ping(ctx, nil)
}

func (driver *MongoDriver) Ping(ctx context.Context) error {
	return driver.client.Ping(ctx, nil)
}

func (driver *MongoDriver) Close(ctx context.Context) error {
	return driver.client.Disconnect(ctx)
}

func (driver *MongoDriver) StartSession(ctx context.Context, opts *core.TransactionOptions) (core.Session, error) {
	session, err := driver.client.StartSession()
	if err != nil {
		return nil, err
	}
	if err := session.StartTransaction(transactionOptions(opts)); err != nil {
		session.EndSession(ctx)
		return nil, err
	}
	return &mongoSession{session: session}, nil
}

func (driver *MongoDriver) Count(ctx context.Context, ns core.Namespace, filter bson.M, opts *core.CountOptions) (int64, error) {
	return driver.coll(ns).CountDocuments(ctx, nonNil(filter), countOptions(opts))
}

func (driver *MongoDriver) FindOne(ctx context.Context, ns core.Namespace, filter bson.M, opts *core.FindOptions) (bson.M, error) {
	var doc bson.M
	err := driver.coll(ns).FindOne(ctx, nonNil(filter), findOneOptions(opts)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (driver *MongoDriver) Find(ctx context.Context, ns core.Namespace, filter bson.M, opts *core.FindOptions) ([]bson.M, error) {
	cursor, err := driver.coll(ns).Find(ctx, nonNil(filter), findOptions(opts))
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cursor)
}

func (driver *MongoDriver) InsertOne(ctx context.Context, ns core.Namespace, doc bson.M, _ *core.InsertOptions) (*core.InsertOneResult, error) {
	res, err := driver.coll(ns).InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &core.InsertOneResult{InsertedID: res.InsertedID}, nil
}

func (driver *MongoDriver) InsertMany(ctx context.Context, ns core.Namespace, docs []bson.M, opts *core.InsertOptions) (*core.InsertManyResult, error) {
	if len(docs) == 0 {
		return &core.InsertManyResult{}, nil
	}
	documentList := make([]any, len(docs))
	for i, d := range docs {
		documentList[i] = d
	}
	res, err := driver.coll(ns).InsertMany(ctx, documentList, insertManyOptions(opts))
	if err != nil {
		return nil, err
	}
	return &core.InsertManyResult{InsertedIDs: res.InsertedIDs}, nil
}

func (driver *MongoDriver) UpdateOne(ctx context.Context, ns core.Namespace, filter, update bson.M, opts *core.UpdateOptions) (*core.UpdateResult, error) {
	res, err := driver.coll(ns).UpdateOne(ctx, nonNil(filter), update, updateOptions(opts))
	if err != nil {
		return nil, err
	}
	return updateResult(res), nil
}

func (driver *MongoDriver) UpdateMany(ctx context.Context, ns core.Namespace, filter, update bson.M, opts *core.UpdateOptions) (*core.UpdateResult, error) {
	res, err := driver.coll(ns).UpdateMany(ctx, nonNil(filter), update, updateOptions(opts))
	if err != nil {
		return nil, err
	}
	return updateResult(res), nil
}

func (driver *MongoDriver) DeleteOne(ctx context.Context, ns core.Namespace, filter bson.M, opts *core.DeleteOptions) (bson.M, error) {
	var doc bson.M
	err := driver.coll(ns).FindOneAndDelete(ctx, nonNil(filter), findOneAndDeleteOptions(opts)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (driver *MongoDriver) DeleteMany(ctx context.Context, ns core.Namespace, filter bson.M, _ *core.DeleteOptions) (*core.DeleteResult, error) {
	res, err := driver.coll(ns).DeleteMany(ctx, nonNil(filter))
	if err != nil {
		return nil, err
	}
	return &core.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (driver *MongoDriver) Aggregate(ctx context.Context, ns core.Namespace, pipeline []bson.M, opts *core.AggregateOptions) ([]bson.M, error) {
	cursor, err := driver.coll(ns).Aggregate(ctx, stages(pipeline), aggregateOptions(opts))
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cursor)
}

func (driver *MongoDriver) Watch(ctx context.Context, ns core.Namespace, pipeline []bson.M, opts *core.WatchOptions) (core.Cursor, error) {
	stream, err := driver.coll(ns).Watch(ctx, stages(pipeline), changeStreamOptions(opts))
	if err != nil {
		return nil, err
	}
	return &changeStream{stream: stream}, nil
}

//endregion

//region changeStream

// changeStream adapts a mongo.ChangeStream to core.Cursor.
type changeStream struct {
	stream  *mongo.ChangeStream
	current bson.M
	err     error
}

func (cs *changeStream) Next(ctx context.Context) bool {
	if !cs.stream.Next(ctx) {
		return false
	}
	var doc bson.M
	if err := cs.stream.Decode(&doc); err != nil {
		cs.err = err
		return false
	}
	cs.current = doc
	return true
}

func (cs *changeStream) Current() bson.M {
	return cs.current
}

func (cs *changeStream) Err() error {
	if cs.err != nil {
		return cs.err
	}
	return cs.stream.Err()
}

func (cs *changeStream) Close(ctx context.Context) error {
	return cs.stream.Close(ctx)
}

//endregion
