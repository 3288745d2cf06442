package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Pipeline is a thin fluent builder for aggregation pipelines on a model T.
// $match stages are normalized like queries when the pipeline is rendered.
//
// Example:
//
//	docs, err := posts.Pipeline().
//		Match(core.Query{"author": user}).
//		Group(bson.M{"_id": "$author", "count": bson.M{"$sum": 1}}).
//		Exec(ctx, nil)
type Pipeline[T any] struct {
	model  *Model[T]
	stages []bson.M
}

// NewPipeline creates an empty pipeline executing through model.
func NewPipeline[T any](model *Model[T]) *Pipeline[T] {
	return &Pipeline[T]{model: model}
}

// Stage appends a raw stage.
func (p *Pipeline[T]) Stage(stage bson.M) *Pipeline[T] {
	p.stages = append(p.stages, stage)
	return p
}

// Match appends a $match stage with a model-shaped query.
func (p *Pipeline[T]) Match(query Query) *Pipeline[T] {
	return p.Stage(bson.M{"$match": query})
}

// Project appends a $project stage.
func (p *Pipeline[T]) Project(projection Projection) *Pipeline[T] {
	return p.Stage(bson.M{"$project": projection})
}

// Sort appends a $sort stage.
func (p *Pipeline[T]) Sort(sort bson.D) *Pipeline[T] {
	return p.Stage(bson.M{"$sort": sort})
}

// Limit appends a $limit stage.
func (p *Pipeline[T]) Limit(n int64) *Pipeline[T] {
	return p.Stage(bson.M{"$limit": n})
}

// Skip appends a $skip stage.
func (p *Pipeline[T]) Skip(n int64) *Pipeline[T] {
	return p.Stage(bson.M{"$skip": n})
}

// Unwind appends an $unwind stage on path, e.g. "$tags".
func (p *Pipeline[T]) Unwind(path string) *Pipeline[T] {
	return p.Stage(bson.M{"$unwind": path})
}

// Lookup appends a $lookup stage.
func (p *Pipeline[T]) Lookup(from, localField, foreignField, as string) *Pipeline[T] {
	return p.Stage(bson.M{"$lookup": bson.M{
		"from":         from,
		"localField":   localField,
		"foreignField": foreignField,
		"as":           as,
	}})
}

// Group appends a $group stage.
func (p *Pipeline[T]) Group(group bson.M) *Pipeline[T] {
	return p.Stage(bson.M{"$group": group})
}

// Stages renders the pipeline, normalizing $match stages.
func (p *Pipeline[T]) Stages() ([]bson.M, error) {
	out := make([]bson.M, len(p.stages))
	for i, stage := range p.stages {
		match, ok := stage["$match"]
		if !ok {
			out[i] = stage
			continue
		}
		query, ok := asDoc(match)
		if !ok {
			out[i] = stage
			continue
		}
		normalized, err := NormalizeQuery(p.model.def, query)
		if err != nil {
			return nil, err
		}
		out[i] = bson.M{"$match": normalized}
	}
	return out, nil
}

// Exec runs the pipeline.
func (p *Pipeline[T]) Exec(ctx context.Context, opts *AggregateOptions) ([]bson.M, error) {
	return p.model.Aggregate(ctx, p, opts)
}
