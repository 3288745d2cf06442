package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestLikePattern(t *testing.T) {
	cases := map[string]string{
		"%admin_": "^.*admin.$",
		"a.b%":    `^a\.b.*$`,
		"plain":   "^plain$",
		"(x)_%":   `^\(x\)..*$`,
	}
	for input, want := range cases {
		assert.Equal(t, want, likePattern(input), input)
	}
}

func TestConditionDocument(t *testing.T) {
	where := func(key string) *Condition { return &Condition{FieldName: key} }

	assert.Equal(t, Query{}, (*Condition)(nil).Document())
	assert.Equal(t, Query{"a": 1}, where("a").Eq(1).Document())
	assert.Equal(t, Query{"a": bson.M{"$ne": 1}}, where("a").Ne(1).Document())
	assert.Equal(t, Query{"a": bson.M{"$gt": 1}}, where("a").Gt(1).Document())
	assert.Equal(t, Query{"a": bson.M{"$gte": 1}}, where("a").Gte(1).Document())
	assert.Equal(t, Query{"a": bson.M{"$lt": 1}}, where("a").Lt(1).Document())
	assert.Equal(t, Query{"a": bson.M{"$lte": 1}}, where("a").Lte(1).Document())
	assert.Equal(t, Query{"a": bson.M{"$in": []any{1, 2}}}, where("a").In(1, 2).Document())
	assert.Equal(t, Query{"a": bson.M{"$nin": []any{1}}}, where("a").Nin(1).Document())
	assert.Equal(t, Query{"a": bson.M{"$eq": nil}}, where("a").Nil().Document())
	assert.Equal(t, Query{"a": bson.M{"$exists": false}}, where("a").Exists(false).Document())
	assert.Equal(t, Query{"a": primitive.Regex{Pattern: "^x.*$", Options: "i"}}, where("a").Like("x%").Document())

	assert.Equal(t, Query{"$or": []any{Query{"a": 1}, Query{"b": 2}}},
		where("a").Eq(1).Or(where("b").Eq(2)).Document())
	assert.Equal(t, Query{"$and": []any{Query{"a": 1}, Query{"b": 2}}},
		where("a").Eq(1).And(where("b").Eq(2)).Document())
	assert.Equal(t, Query{"$nor": []any{Query{"a": 1}}},
		where("a").Eq(1).Not().Document())
}

func TestQueryBuilderBuild(t *testing.T) {
	posts, err := NewModel[testPost](NewContext(newMemDriver()))
	require.NoError(t, err)

	query, opts := posts.Query().
		Filter(func(q Filter[testPost]) []*Condition {
			return []*Condition{
				q.Where(func(p *testPost) *string { return &p.ID }).Eq("x"),
				q.Where("meta.views").Gt(1),
				nil,
			}
		}).
		OrderBy(func(p *testPost) *time.Time { return &p.CreatedAt }, -1).
		OrderBy("title", 1).
		Select(func(p *testPost) *string { return &p.Title }, "author").
		Limit(10).
		Offset(20).
		Build()

	assert.Equal(t, Query{"$and": []any{
		Query{"id": "x"},
		Query{"meta.views": bson.M{"$gt": 1}},
	}}, query)
	assert.Equal(t, &FindOptions{
		Projection: Projection{"title": 1, "author": 1},
		Sort:       bson.D{{Key: "createdAt", Value: -1}, {Key: "title", Value: 1}},
		Limit:      10,
		Skip:       20,
	}, opts)

	// a single condition is not wrapped
	query, _ = posts.Query().Filter(func(q Filter[testPost]) []*Condition {
		return []*Condition{q.Where("title").Eq("Hi")}
	}).Build()
	assert.Equal(t, Query{"title": "Hi"}, query)

	assert.Panics(t, func() { posts.Query().Where(42) })
}

func TestQueryBuilderExec(t *testing.T) {
	driver := newMemDriver()
	posts, err := NewModel[testPost](NewContext(driver))
	require.NoError(t, err)

	author := primitive.NewObjectID()
	ns := posts.Definition().Namespace
	driver.seed(ns,
		bson.M{"_id": primitive.NewObjectID(), "title": "a", "author": author},
		bson.M{"_id": primitive.NewObjectID(), "title": "b", "author": primitive.NewObjectID()},
	)

	found, err := posts.Query().Filter(func(q Filter[testPost]) []*Condition {
		return []*Condition{q.Where(func(p *testPost) **testUser { return &p.Author }).Eq(&testUser{ID: author.Hex()})}
	}).Find(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].Title)
	assert.Equal(t, author.Hex(), found[0].Author.ID)

	one, err := posts.Query().Filter(func(q Filter[testPost]) []*Condition {
		return []*Condition{q.Where("title").Eq("b")}
	}).FindOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "b", one.Title)

	n, err := posts.Query().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestPipelineStages(t *testing.T) {
	driver := newMemDriver()
	posts, err := NewModel[testPost](NewContext(driver))
	require.NoError(t, err)
	author := primitive.NewObjectID()
	driver.seed(posts.Definition().Namespace,
		bson.M{"_id": primitive.NewObjectID(), "title": "a", "author": author},
		bson.M{"_id": primitive.NewObjectID(), "title": "b"},
	)

	pipeline := posts.Pipeline().
		Match(Query{"author": &testUser{ID: author.Hex()}}).
		Sort(bson.D{{Key: "title", Value: 1}}).
		Skip(0).
		Limit(5).
		Project(Projection{"title": 1}).
		Unwind("$tags").
		Lookup("users", "author", "_id", "authorDoc").
		Group(bson.M{"_id": "$author"})

	stages, err := pipeline.Stages()
	require.NoError(t, err)
	require.Len(t, stages, 8)
	assert.Equal(t, bson.M{"$match": Query{"author": author}}, stages[0])
	assert.Equal(t, bson.M{"$limit": int64(5)}, stages[3])
	assert.Equal(t, "users", stages[6]["$lookup"].(bson.M)["from"])

	docs, err := posts.Pipeline().Match(Query{"author": author.Hex()}).Exec(ctx, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0]["title"])
	require.Len(t, driver.pipelines, 1)

	_, err = posts.Pipeline().Match(Query{"author": "nope"}).Exec(ctx, nil)
	assert.ErrorAs(t, err, &InvalidIDError{})
}
