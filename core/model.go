// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines the Model[T], the typed entry point for working with a
// declared model. A Model delegates to a Context and decodes the inflated
// documents it returns into T.
package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Model is a repository-like abstraction for a model T.
//
// Models are generic and type-safe, ensuring that all operations are tied to
// a specific model type.
type Model[T any] struct {
	ctx *Context
	def *Definition
}

// NewModel creates a Model of T bound to c. T must be declared with a
// primary key and a collection.
//
// Example:
//
//	posts, err := core.NewModel[Post](db)
func NewModel[T any](c *Context) (*Model[T], error) {
	def, err := DefinitionOf[T]()
	if err != nil {
		return nil, err
	}
	if !def.IsPersistable() {
		return nil, SchemaNotFoundError{Type: def.Type, Reason: "no primary key or collection"}
	}
	return &Model[T]{ctx: c, def: def}, nil
}

// Definition returns the resolved definition of T.
func (m *Model[T]) Definition() *Definition { return m.def }

// With returns a copy of the Model bound to another Context, typically the
// Context of a Transaction.
func (m *Model[T]) With(c *Context) *Model[T] {
	return &Model[T]{ctx: c, def: m.def}
}

// WithDatabase returns a copy of the Model that targets another database.
// This is useful for multi-tenant architectures.
func (m *Model[T]) WithDatabase(database string) *Model[T] {
	def := *m.def
	def.Database = database
	return &Model[T]{ctx: m.ctx, def: &def}
}

// Query starts a fluent query on the Model.
func (m *Model[T]) Query() *QueryBuilder[T] {
	return NewQuery(m)
}

// Pipeline starts an aggregation pipeline on the Model.
func (m *Model[T]) Pipeline() *Pipeline[T] {
	return NewPipeline(m)
}

func (m *Model[T]) decode(doc bson.M) (*T, error) {
	if doc == nil {
		return nil, nil
	}
	out := new(T)
	if err := deserialize(doc, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of documents matching query.
func (m *Model[T]) Count(ctx context.Context, query Query, opts *CountOptions) (int64, error) {
	return m.ctx.Count(ctx, m.def, query, opts)
}

// FindOne returns the first document matching query, or nil.
func (m *Model[T]) FindOne(ctx context.Context, query Query, opts *FindOptions) (*T, error) {
	doc, err := m.ctx.FindOne(ctx, m.def, query, opts)
	if err != nil {
		return nil, err
	}
	return m.decode(doc)
}

// FindByID returns the document with the given id, or nil.
func (m *Model[T]) FindByID(ctx context.Context, id any, opts *FindOptions) (*T, error) {
	return m.FindOne(ctx, Query{m.def.ID.Key: id}, opts)
}

// Find returns every document matching query.
func (m *Model[T]) Find(ctx context.Context, query Query, opts *FindOptions) ([]*T, error) {
	docs, err := m.ctx.Find(ctx, m.def, query, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		value, err := m.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// InsertOne stores doc. Its id field is set to the generated id and its
// timestamps are stamped.
func (m *Model[T]) InsertOne(ctx context.Context, doc *T, opts *InsertOptions) (*InsertOneResult, error) {
	return m.ctx.InsertOne(ctx, m.def, doc, opts)
}

// InsertMany stores docs.
func (m *Model[T]) InsertMany(ctx context.Context, docs []*T, opts *InsertOptions) (*InsertManyResult, error) {
	instances := make([]any, len(docs))
	for i, d := range docs {
		instances[i] = d
	}
	return m.ctx.InsertMany(ctx, m.def, instances, opts)
}

// UpdateOne writes the dirty fields of doc, merged with the explicit
// operators of extra (e.g. $inc, $push, $pull).
func (m *Model[T]) UpdateOne(ctx context.Context, doc *T, extra Update, opts *UpdateOptions) (*UpdateResult, error) {
	return m.ctx.UpdateOne(ctx, m.def, doc, extra, opts)
}

// UpdateMany applies update to every document matching query.
func (m *Model[T]) UpdateMany(ctx context.Context, query Query, update Update, opts *UpdateOptions) (*UpdateResult, error) {
	return m.ctx.UpdateMany(ctx, m.def, query, update, opts)
}

// DeleteOne removes the first document matching query and returns it.
func (m *Model[T]) DeleteOne(ctx context.Context, query Query, opts *DeleteOptions) (*T, error) {
	doc, err := m.ctx.DeleteOne(ctx, m.def, query, opts)
	if err != nil {
		return nil, err
	}
	return m.decode(doc)
}

// Delete removes doc by id. It fails with MissingIdentifierError when the
// id of doc is not populated.
func (m *Model[T]) Delete(ctx context.Context, doc *T, opts *DeleteOptions) (*T, error) {
	id, ok := instanceID(doc, m.def.ID)
	if !ok {
		return nil, MissingIdentifierError{Type: m.def.Type, Operation: OperationDeleteOne}
	}
	return m.DeleteOne(ctx, Query{m.def.ID.Key: id}, opts)
}

// DeleteMany removes every document matching query.
func (m *Model[T]) DeleteMany(ctx context.Context, query Query, opts *DeleteOptions) (*DeleteResult, error) {
	return m.ctx.DeleteMany(ctx, m.def, query, opts)
}

// Aggregate runs the pipeline and returns the documents it produces.
func (m *Model[T]) Aggregate(ctx context.Context, pipeline *Pipeline[T], opts *AggregateOptions) ([]bson.M, error) {
	stages, err := pipeline.Stages()
	if err != nil {
		return nil, err
	}
	return m.ctx.Aggregate(ctx, m.def, stages, opts)
}

// Watch opens a change stream on the collection of T.
func (m *Model[T]) Watch(ctx context.Context, pipeline []bson.M, opts *WatchOptions) (*ChangeStream[T], error) {
	cursor, err := m.ctx.Watch(ctx, m.def, pipeline, opts)
	if err != nil {
		return nil, err
	}
	return &ChangeStream[T]{cursor: cursor, def: m.def}, nil
}

// Dereference resolves the selected reference members of docs in place.
//
// Example:
//
//	err := posts.Dereference(ctx, list, map[string]core.Projection{
//	    "author": {"name": 1},
//	}, nil)
func (m *Model[T]) Dereference(ctx context.Context, docs []*T, projections map[string]Projection, opts *DereferenceOptions) error {
	return m.ctx.Dereference(ctx, docs, projections, opts)
}
