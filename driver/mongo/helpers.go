// Package driver provides the MongoDB implementation of core.Driver.
// This file contains helper functions translating core options and results
// to and from the mongo driver types.
package driver

import (
	"context"

	"github.com/uon-team/db/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// nonNil ensures a filter is never nil, which the server rejects.
func nonNil(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

func stages(pipeline []bson.M) mongo.Pipeline {
	out := make(mongo.Pipeline, 0, len(pipeline))
	for _, stage := range pipeline {
		d := bson.D{}
		for k, v := range stage {
			d = append(d, bson.E{Key: k, Value: v})
		}
		out = append(out, d)
	}
	return out
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]bson.M, error) {
	defer cursor.Close(ctx)
	resultList := []bson.M{}
	if err := cursor.All(ctx, &resultList); err != nil {
		return nil, err
	}
	return resultList, nil
}

func countOptions(opts *core.CountOptions) *mopt.CountOptions {
	out := mopt.Count()
	if opts == nil {
		return out
	}
	if opts.Limit > 0 {
		out.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		out.SetSkip(opts.Skip)
	}
	return out
}

func findOptions(opts *core.FindOptions) *mopt.FindOptions {
	out := mopt.Find()
	if opts == nil {
		return out
	}
	if len(opts.Projection) > 0 {
		out.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		out.SetSort(opts.Sort)
	}
	if opts.Limit > 0 {
		out.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		out.SetSkip(opts.Skip)
	}
	return out
}

func findOneOptions(opts *core.FindOptions) *mopt.FindOneOptions {
	out := mopt.FindOne()
	if opts == nil {
		return out
	}
	if len(opts.Projection) > 0 {
		out.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		out.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		out.SetSkip(opts.Skip)
	}
	return out
}

func findOneAndDeleteOptions(opts *core.DeleteOptions) *mopt.FindOneAndDeleteOptions {
	out := mopt.FindOneAndDelete()
	if opts == nil {
		return out
	}
	if len(opts.Projection) > 0 {
		out.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		out.SetSort(opts.Sort)
	}
	return out
}

func insertManyOptions(opts *core.InsertOptions) *mopt.InsertManyOptions {
	out := mopt.InsertMany()
	if opts != nil && opts.Ordered != nil {
		out.SetOrdered(*opts.Ordered)
	}
	return out
}

func updateOptions(opts *core.UpdateOptions) *mopt.UpdateOptions {
	out := mopt.Update()
	if opts == nil {
		return out
	}
	if opts.Upsert {
		out.SetUpsert(true)
	}
	if len(opts.ArrayFilters) > 0 {
		out.SetArrayFilters(mopt.ArrayFilters{Filters: opts.ArrayFilters})
	}
	return out
}

func updateResult(res *mongo.UpdateResult) *core.UpdateResult {
	return &core.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
	}
}

func aggregateOptions(opts *core.AggregateOptions) *mopt.AggregateOptions {
	out := mopt.Aggregate()
	if opts == nil {
		return out
	}
	if opts.AllowDiskUse {
		out.SetAllowDiskUse(true)
	}
	if opts.BatchSize > 0 {
		out.SetBatchSize(opts.BatchSize)
	}
	return out
}

func changeStreamOptions(opts *core.WatchOptions) *mopt.ChangeStreamOptions {
	out := mopt.ChangeStream()
	if opts == nil {
		return out
	}
	if opts.FullDocument != "" {
		out.SetFullDocument(mopt.FullDocument(opts.FullDocument))
	}
	if opts.BatchSize > 0 {
		out.SetBatchSize(opts.BatchSize)
	}
	if opts.MaxAwaitTime > 0 {
		out.SetMaxAwaitTime(opts.MaxAwaitTime)
	}
	return out
}
