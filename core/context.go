// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines the Context, the definition-driven facade that prepares
// every storage call, executes it through the middleware chain and notifies
// hooks.
package core

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Context binds a Driver to a hook registry, a middleware chain and, inside a
// transaction, a session. Contexts created over the same Driver share its
// connection.
type Context struct {
	id          uuid.UUID
	driver      Driver
	hooks       *HookRegistry
	middlewares []Middleware
	logger      zerolog.Logger
	session     Session
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithHooks sets the hook registry of the Context.
func WithHooks(hooks *HookRegistry) ContextOption {
	return func(c *Context) {
		c.hooks = hooks
	}
}

// WithMiddleware appends middlewares to the chain of the Context.
func WithMiddleware(middlewares ...Middleware) ContextOption {
	return func(c *Context) {
		c.middlewares = append(c.middlewares, middlewares...)
	}
}

// WithLogger sets the logger of the Context.
func WithLogger(logger zerolog.Logger) ContextOption {
	return func(c *Context) {
		c.logger = logger
	}
}

// NewContext creates a Context over driver.
func NewContext(driver Driver, opts ...ContextOption) *Context {
	c := &Context{
		id:     uuid.New(),
		driver: driver,
		hooks:  NewHookRegistry(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("context", c.id.String()).Logger()
	return c
}

// ID identifies the Context in logs.
func (c *Context) ID() uuid.UUID { return c.id }

// Driver returns the underlying driver.
func (c *Context) Driver() Driver { return c.driver }

// Hooks returns the hook registry.
func (c *Context) Hooks() *HookRegistry { return c.hooks }

// Session returns the session the Context is bound to, or nil.
func (c *Context) Session() Session { return c.session }

// run binds ctx to the session, if any, and executes fn through the
// middleware chain.
func (c *Context) run(ctx context.Context, op Operation, def *Definition, fn func(ctx context.Context) error) error {
	if !def.IsPersistable() {
		return fmt.Errorf("%w: %v", ErrNotPersistable, def.Type)
	}
	if c.session != nil {
		ctx = WithSession(ctx, c.session)
	}
	handler := chain(c.middlewares, func(ctx context.Context, _ Operation, _ *Definition) error {
		return fn(ctx)
	})
	return handler(ctx, op, def)
}

// Count returns the number of documents matching query.
func (c *Context) Count(ctx context.Context, def *Definition, query Query, opts *CountOptions) (int64, error) {
	var count int64
	err := c.run(ctx, OperationCount, def, func(ctx context.Context) error {
		filter, err := NormalizeQuery(def, query)
		if err != nil {
			return err
		}
		count, err = c.driver.Count(ctx, def.Namespace, filter, opts)
		if err != nil {
			return err
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationCount,
			Definition: def,
			Options:    opts,
			Query:      filter,
			Result:     count,
		})
	})
	return count, err
}

// FindOne returns the first document matching query in inflated form, or
// nil when nothing matches.
func (c *Context) FindOne(ctx context.Context, def *Definition, query Query, opts *FindOptions) (bson.M, error) {
	var doc bson.M
	err := c.run(ctx, OperationFindOne, def, func(ctx context.Context) error {
		filter, err := NormalizeQuery(def, query)
		if err != nil {
			return err
		}
		raw, err := c.driver.FindOne(ctx, def.Namespace, filter, normalizeFindOptions(def, opts))
		if err != nil {
			return err
		}
		if doc, err = Inflate(def, raw); err != nil {
			return err
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationFindOne,
			Definition: def,
			Options:    opts,
			Query:      filter,
			Result:     doc,
		})
	})
	return doc, err
}

// Find returns every document matching query in inflated form.
func (c *Context) Find(ctx context.Context, def *Definition, query Query, opts *FindOptions) ([]bson.M, error) {
	var docs []bson.M
	err := c.run(ctx, OperationFind, def, func(ctx context.Context) error {
		filter, err := NormalizeQuery(def, query)
		if err != nil {
			return err
		}
		raws, err := c.driver.Find(ctx, def.Namespace, filter, normalizeFindOptions(def, opts))
		if err != nil {
			return err
		}
		docs = make([]bson.M, 0, len(raws))
		for _, raw := range raws {
			doc, err := Inflate(def, raw)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationFind,
			Definition: def,
			Options:    opts,
			Query:      filter,
			Result:     docs,
		})
	})
	return docs, err
}

// InsertOne stores instance and back-fills its id field with the generated
// id, in the representation declared by the schema.
func (c *Context) InsertOne(ctx context.Context, def *Definition, instance any, opts *InsertOptions) (*InsertOneResult, error) {
	var result *InsertOneResult
	err := c.run(ctx, OperationInsertOne, def, func(ctx context.Context) error {
		doc, err := c.prepareInsert(def, instance, time.Now())
		if err != nil {
			return err
		}
		if result, err = c.driver.InsertOne(ctx, def.Namespace, doc, opts); err != nil {
			return err
		}
		if err := setModelID(instance, def.ID, result.InsertedID); err != nil {
			return err
		}
		doc[StoreIDKey] = result.InsertedID
		makeClean(def, instance)
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationInsertOne,
			Definition: def,
			Options:    opts,
			Data:       []any{doc},
			Target:     instance,
			Result:     result,
		})
	})
	return result, err
}

// InsertMany stores instances and back-fills their id fields.
func (c *Context) InsertMany(ctx context.Context, def *Definition, instances []any, opts *InsertOptions) (*InsertManyResult, error) {
	result := &InsertManyResult{}
	if len(instances) == 0 {
		return result, nil
	}
	err := c.run(ctx, OperationInsertMany, def, func(ctx context.Context) error {
		now := time.Now()
		docs := make([]bson.M, len(instances))
		for i, instance := range instances {
			doc, err := c.prepareInsert(def, instance, now)
			if err != nil {
				return err
			}
			docs[i] = doc
		}
		var err error
		if result, err = c.driver.InsertMany(ctx, def.Namespace, docs, opts); err != nil {
			return err
		}
		data := make([]any, len(docs))
		for i, id := range result.InsertedIDs {
			if i >= len(instances) {
				break
			}
			if err := setModelID(instances[i], def.ID, id); err != nil {
				return err
			}
			docs[i][StoreIDKey] = id
			makeClean(def, instances[i])
		}
		for i, doc := range docs {
			data[i] = doc
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationInsertMany,
			Definition: def,
			Options:    opts,
			Data:       data,
			Target:     instances,
			Result:     result,
		})
	})
	return result, err
}

// prepareInsert stamps timestamps and converts instance into its stored form.
// A populated id is kept, an empty one is left for the store to generate.
func (c *Context) prepareInsert(def *Definition, instance any, now time.Time) (bson.M, error) {
	if rv, ok := structValue(instance); ok {
		if def.createdAt != nil {
			setTimeField(rv.FieldByIndex(def.createdAt.Index), now)
		}
		if def.updatedAt != nil {
			setTimeField(rv.FieldByIndex(def.updatedAt.Index), now)
		}
	}
	doc, err := serialize(instance)
	if err != nil {
		return nil, err
	}
	delete(doc, def.ID.Key)
	if id, ok := instanceID(instance, def.ID); ok {
		storeID, err := ToStoreID(id, def.ID)
		if err != nil {
			return nil, err
		}
		doc[StoreIDKey] = storeID
	}
	return Flatten(def, doc)
}

// UpdateOne writes the changes of instance, computed from its dirty-field
// tracker, merged with the explicit operators of extra.
//
// An instance without id fails with MissingIdentifierError unless
// opts.Upsert is set, in which case a new id is generated. When the computed
// update is empty the store is not called and a zero result is returned.
func (c *Context) UpdateOne(ctx context.Context, def *Definition, instance any, extra Update, opts *UpdateOptions) (*UpdateResult, error) {
	result := &UpdateResult{}
	err := c.run(ctx, OperationUpdateOne, def, func(ctx context.Context) error {
		id, ok := instanceID(instance, def.ID)
		var storeID any
		switch {
		case ok:
			oid, err := ToStoreID(id, def.ID)
			if err != nil {
				return err
			}
			storeID = oid
		case opts != nil && opts.Upsert:
			storeID = primitive.NewObjectID()
		default:
			return MissingIdentifierError{Type: def.Type, Operation: OperationUpdateOne}
		}

		update, err := BuildSetUnset(def, instance, Update{}, "")
		if err != nil {
			return err
		}
		if len(extra) > 0 {
			normalized, err := NormalizeUpdate(def, extra)
			if err != nil {
				return err
			}
			update = MergeUpdate(update, normalized)
		}
		if len(update) == 0 {
			return nil
		}
		if def.updatedAt != nil {
			now := time.Now()
			if rv, ok := structValue(instance); ok {
				setTimeField(rv.FieldByIndex(def.updatedAt.Index), now)
			}
			operandOf(update, setOperator)[def.updatedAt.Key] = now
		}

		filter := bson.M{StoreIDKey: storeID}
		var previous []any
		if c.hooks.Has(OperationUpdateOne) {
			prev, err := c.driver.FindOne(ctx, def.Namespace, filter, nil)
			if err != nil {
				return err
			}
			if prev != nil {
				previous = []any{prev}
			}
		}

		if result, err = c.driver.UpdateOne(ctx, def.Namespace, filter, update, opts); err != nil {
			return err
		}
		if result.UpsertedID != nil {
			if err := setModelID(instance, def.ID, result.UpsertedID); err != nil {
				return err
			}
		}
		makeClean(def, instance)
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationUpdateOne,
			Definition: def,
			Options:    opts,
			Query:      filter,
			Update:     update,
			Target:     instance,
			Previous:   previous,
			Result:     result,
		})
	})
	return result, err
}

// UpdateMany applies update to every document matching query.
func (c *Context) UpdateMany(ctx context.Context, def *Definition, query Query, update Update, opts *UpdateOptions) (*UpdateResult, error) {
	var result *UpdateResult
	err := c.run(ctx, OperationUpdateMany, def, func(ctx context.Context) error {
		filter, err := NormalizeQuery(def, query)
		if err != nil {
			return err
		}
		if update, err = NormalizeUpdate(def, update); err != nil {
			return err
		}
		if def.updatedAt != nil && len(update) > 0 {
			operandOf(update, setOperator)[def.updatedAt.Key] = time.Now()
		}

		previous, err := c.prefetch(ctx, OperationUpdateMany, def, filter)
		if err != nil {
			return err
		}
		if result, err = c.driver.UpdateMany(ctx, def.Namespace, filter, update, opts); err != nil {
			return err
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationUpdateMany,
			Definition: def,
			Options:    opts,
			Query:      filter,
			Update:     update,
			Previous:   previous,
			Result:     result,
		})
	})
	return result, err
}

// DeleteOne removes the first document matching query and returns it in
// inflated form, or nil when nothing matched.
func (c *Context) DeleteOne(ctx context.Context, def *Definition, query Query, opts *DeleteOptions) (bson.M, error) {
	var doc bson.M
	err := c.run(ctx, OperationDeleteOne, def, func(ctx context.Context) error {
		filter, err := NormalizeQuery(def, query)
		if err != nil {
			return err
		}
		raw, err := c.driver.DeleteOne(ctx, def.Namespace, filter, opts)
		if err != nil {
			return err
		}
		var previous []any
		if raw != nil {
			previous = []any{cloneDoc(raw)}
		}
		if doc, err = Inflate(def, raw); err != nil {
			return err
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationDeleteOne,
			Definition: def,
			Options:    opts,
			Query:      filter,
			Previous:   previous,
			Result:     doc,
		})
	})
	return doc, err
}

// DeleteMany removes every document matching query.
func (c *Context) DeleteMany(ctx context.Context, def *Definition, query Query, opts *DeleteOptions) (*DeleteResult, error) {
	var result *DeleteResult
	err := c.run(ctx, OperationDeleteMany, def, func(ctx context.Context) error {
		filter, err := NormalizeQuery(def, query)
		if err != nil {
			return err
		}
		previous, err := c.prefetch(ctx, OperationDeleteMany, def, filter)
		if err != nil {
			return err
		}
		if result, err = c.driver.DeleteMany(ctx, def.Namespace, filter, opts); err != nil {
			return err
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationDeleteMany,
			Definition: def,
			Options:    opts,
			Query:      filter,
			Previous:   previous,
			Result:     result,
		})
	})
	return result, err
}

// prefetch loads the documents an operation is about to change, only when a
// hook is registered for it.
func (c *Context) prefetch(ctx context.Context, op Operation, def *Definition, filter bson.M) ([]any, error) {
	if !c.hooks.Has(op) {
		return nil, nil
	}
	raws, err := c.driver.Find(ctx, def.Namespace, filter, nil)
	if err != nil {
		return nil, err
	}
	previous := make([]any, len(raws))
	for i, raw := range raws {
		previous[i] = raw
	}
	return previous, nil
}

// Aggregate runs pipeline on the collection of def. Results are returned as
// produced by the store.
func (c *Context) Aggregate(ctx context.Context, def *Definition, pipeline []bson.M, opts *AggregateOptions) ([]bson.M, error) {
	var docs []bson.M
	err := c.run(ctx, OperationAggregate, def, func(ctx context.Context) error {
		var err error
		if docs, err = c.driver.Aggregate(ctx, def.Namespace, pipeline, opts); err != nil {
			return err
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationAggregate,
			Definition: def,
			Options:    opts,
			Pipeline:   pipeline,
			Result:     docs,
		})
	})
	return docs, err
}

// Watch opens a change stream on the collection of def.
func (c *Context) Watch(ctx context.Context, def *Definition, pipeline []bson.M, opts *WatchOptions) (Cursor, error) {
	var cursor Cursor
	err := c.run(ctx, OperationWatch, def, func(ctx context.Context) error {
		var err error
		if cursor, err = c.driver.Watch(ctx, def.Namespace, pipeline, opts); err != nil {
			return err
		}
		return c.hooks.invoke(ctx, &HookParams{
			Operation:  OperationWatch,
			Definition: def,
			Options:    opts,
			Pipeline:   pipeline,
			Result:     cursor,
		})
	})
	return cursor, err
}

// makeClean clears the dirty-field trackers of instance and of the embedded
// models it holds.
func makeClean(def *Definition, instance any) {
	if rv, ok := structValue(instance); ok {
		cleanValue(def, rv)
	}
}

func cleanValue(def *Definition, rv reflect.Value) {
	if t := trackerOf(rv); t != nil {
		t.MakeClean()
	}
	for _, m := range def.Members {
		if !m.IsEmbedded() || m.IsArray {
			continue
		}
		sub, ok := embeddedValue(rv.FieldByIndex(m.Index))
		if !ok {
			continue
		}
		if target := m.Target(); target != nil {
			cleanValue(target, sub)
		}
	}
}

// cloneDoc returns a deep copy of doc.
func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return cloneDoc(t)
	case map[string]any:
		return cloneDoc(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return append([]byte(nil), rv.Bytes()...)
	}
	return v
}
