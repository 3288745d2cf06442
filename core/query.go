// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines the fluent query builder, which allows type-safe and
// expressive construction of queries.
package core

import (
	"context"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// QueryBuilder is a fluent query builder for a model of type T.
//
// It allows chaining of filtering, ordering, pagination and projection in a
// type-safe manner. The rendered query is model-shaped and is normalized when
// executed.
//
// Example:
//
//	posts, _ := postModel.Query().
//		Filter(func(q core.Filter[Post]) []*core.Condition {
//			return []*core.Condition{
//				q.Where(func(p *Post) *string { return &p.Title }).Like("%go%"),
//				q.Where(func(p *Post) **User { return &p.Author }).Eq(user),
//			}
//		}).
//		OrderBy(func(p *Post) *time.Time { return &p.CreatedAt }, -1).
//		Limit(10).
//		Find(ctx)
type QueryBuilder[T any] struct {
	model      *Model[T]
	condition  *Condition
	sort       bson.D
	projection Projection
	limit      int64
	skip       int64
}

// NewQuery creates a new QueryBuilder executing through model.
func NewQuery[T any](model *Model[T]) *QueryBuilder[T] {
	return &QueryBuilder[T]{model: model}
}

// Where starts a condition on the selected field in a type-safe manner.
//
// It supports both:
//   - Selector functions (e.g., func(p *Post) *string { return &p.Title })
//   - Document keys given as a string (e.g., "author.name")
//
// The condition is returned so that an operator can be applied immediately.
func (q *QueryBuilder[T]) Where(field any) *Condition {
	return &Condition{FieldName: q.key(field)}
}

func (q *QueryBuilder[T]) key(field any) string {
	if key, ok := field.(string); ok {
		return key
	}
	if reflect.ValueOf(field).Kind() != reflect.Func {
		panic("Where: argument must be a key or a selector func(*T) *F")
	}
	return keyFromSelector[T](q.model.def, field)
}

// Filter builds a set of conditions using a functional style.
//
// The provided function receives a Filter[T] scope that exposes a type-safe
// Where method. The returned conditions are combined with AND.
func (q *QueryBuilder[T]) Filter(build func(Filter[T]) []*Condition) *QueryBuilder[T] {
	if build == nil {
		q.condition = nil
		return q
	}
	scope := Filter[T]{queryBuilder: q}
	q.condition = foldConditionsAnd(build(scope)...)
	return q
}

// Filter provides the scope passed to the Filter function.
// It exposes a type-safe Where method bound to the parent query.
type Filter[T any] struct{ queryBuilder *QueryBuilder[T] }

// Where delegates to the parent query's Where method.
func (f Filter[T]) Where(field any) *Condition {
	return f.queryBuilder.Where(field)
}

// OrderBy adds an ordering rule. Order is 1 (ASC) or -1 (DESC).
func (q *QueryBuilder[T]) OrderBy(field any, order int) *QueryBuilder[T] {
	direction := 1
	if order < 0 {
		direction = -1
	}
	q.sort = append(q.sort, bson.E{Key: q.key(field), Value: direction})
	return q
}

// Select restricts the returned fields.
func (q *QueryBuilder[T]) Select(fields ...any) *QueryBuilder[T] {
	if q.projection == nil {
		q.projection = Projection{}
	}
	for _, f := range fields {
		q.projection[q.key(f)] = 1
	}
	return q
}

// Limit sets the maximum number of results to return.
func (q *QueryBuilder[T]) Limit(limit int64) *QueryBuilder[T] {
	q.limit = limit
	return q
}

// Offset sets the number of documents to skip before starting to return results.
func (q *QueryBuilder[T]) Offset(offset int64) *QueryBuilder[T] {
	q.skip = offset
	return q
}

// Build renders the query document and find options.
func (q *QueryBuilder[T]) Build() (Query, *FindOptions) {
	return q.condition.Document(), &FindOptions{
		Projection: q.projection,
		Sort:       q.sort,
		Limit:      q.limit,
		Skip:       q.skip,
	}
}

// FindOne executes the query and returns the first match, or nil.
func (q *QueryBuilder[T]) FindOne(ctx context.Context) (*T, error) {
	query, opts := q.Build()
	return q.model.FindOne(ctx, query, opts)
}

// Find executes the query and returns every match.
func (q *QueryBuilder[T]) Find(ctx context.Context) ([]*T, error) {
	query, opts := q.Build()
	return q.model.Find(ctx, query, opts)
}

// Count returns the number of documents matching the query.
func (q *QueryBuilder[T]) Count(ctx context.Context) (int64, error) {
	query, _ := q.Build()
	return q.model.Count(ctx, query, &CountOptions{Limit: q.limit, Skip: q.skip})
}
