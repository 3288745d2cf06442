package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uon-team/db/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

func TestNonNil(t *testing.T) {
	assert.Equal(t, bson.M{}, nonNil(nil))
	assert.Equal(t, bson.M{"a": 1}, nonNil(bson.M{"a": 1}))
}

func TestStages(t *testing.T) {
	out := stages([]bson.M{{"$match": bson.M{"a": 1}}, {"$limit": int64(2)}})
	assert.Equal(t, mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"a": 1}}},
		bson.D{{Key: "$limit", Value: int64(2)}},
	}, out)
	assert.Empty(t, stages(nil))
}

func TestFindOptions(t *testing.T) {
	out := findOptions(&core.FindOptions{
		Projection: bson.M{"name": 1},
		Sort:       bson.D{{Key: "name", Value: -1}},
		Limit:      5,
		Skip:       10,
	})
	assert.Equal(t, bson.M{"name": 1}, out.Projection)
	assert.Equal(t, bson.D{{Key: "name", Value: -1}}, out.Sort)
	assert.EqualValues(t, 5, *out.Limit)
	assert.EqualValues(t, 10, *out.Skip)

	empty := findOptions(nil)
	assert.Nil(t, empty.Limit)
	assert.Nil(t, empty.Projection)

	one := findOneOptions(&core.FindOptions{Skip: 3})
	assert.EqualValues(t, 3, *one.Skip)
	assert.Nil(t, one.Projection)
}

func TestCountOptions(t *testing.T) {
	out := countOptions(&core.CountOptions{Limit: 1})
	assert.EqualValues(t, 1, *out.Limit)
	assert.Nil(t, out.Skip)
	assert.Nil(t, countOptions(nil).Limit)
}

func TestUpdateOptions(t *testing.T) {
	out := updateOptions(&core.UpdateOptions{Upsert: true, ArrayFilters: []any{bson.M{"x.a": 1}}})
	assert.True(t, *out.Upsert)
	assert.Equal(t, []any{bson.M{"x.a": 1}}, out.ArrayFilters.Filters)
	assert.Nil(t, updateOptions(nil).Upsert)
}

func TestInsertManyOptions(t *testing.T) {
	ordered := false
	assert.False(t, *insertManyOptions(&core.InsertOptions{Ordered: &ordered}).Ordered)
	assert.Nil(t, insertManyOptions(nil).Ordered)
}

func TestChangeStreamOptions(t *testing.T) {
	out := changeStreamOptions(&core.WatchOptions{FullDocument: "updateLookup", BatchSize: 10, MaxAwaitTime: time.Second})
	assert.Equal(t, mopt.UpdateLookup, *out.FullDocument)
	assert.EqualValues(t, 10, *out.BatchSize)
	assert.Equal(t, time.Second, *out.MaxAwaitTime)
}

func TestAggregateOptions(t *testing.T) {
	out := aggregateOptions(&core.AggregateOptions{AllowDiskUse: true})
	assert.True(t, *out.AllowDiskUse)
	assert.Nil(t, out.BatchSize)
}

func TestTransactionOptions(t *testing.T) {
	out := transactionOptions(&core.TransactionOptions{MaxCommitTime: time.Second})
	assert.Equal(t, time.Second, *out.MaxCommitTime)
	assert.Nil(t, transactionOptions(nil).MaxCommitTime)
}

func TestUpdateResult(t *testing.T) {
	res := updateResult(&mongo.UpdateResult{MatchedCount: 2, ModifiedCount: 1, UpsertedID: "x"})
	assert.Equal(t, &core.UpdateResult{MatchedCount: 2, ModifiedCount: 1, UpsertedID: "x"}, res)
}
