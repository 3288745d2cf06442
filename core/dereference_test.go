package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DereferenceTestSuite struct {
	suite.Suite
	driver *memDriver
	db     *Context
	posts  *Model[testPost]
	x, y   primitive.ObjectID
}

func (s *DereferenceTestSuite) SetupTest() {
	s.driver = newMemDriver()
	s.db = NewContext(s.driver)
	var err error
	s.posts, err = NewModel[testPost](s.db)
	s.Require().NoError(err)

	s.x, s.y = primitive.NewObjectID(), primitive.NewObjectID()
	s.driver.seed(mustDef[testUser]().Namespace,
		bson.M{"_id": s.x, "name": "X", "email": "x@example.com"},
		bson.M{"_id": s.y, "name": "Y", "email": "y@example.com"},
	)
}

func TestDereferenceTestSuite(t *testing.T) {
	suite.Run(t, new(DereferenceTestSuite))
}

func (s *DereferenceTestSuite) stub(id primitive.ObjectID) *testUser {
	return &testUser{ID: id.Hex()}
}

func (s *DereferenceTestSuite) userFinds() []findCall {
	var out []findCall
	for _, f := range s.driver.finds {
		if f.ns == mustDef[testUser]().Namespace {
			out = append(out, f)
		}
	}
	return out
}

// Three documents referencing x, y and x issue one $in lookup for [x, y] and
// the first and third documents resolve to x.
func (s *DereferenceTestSuite) TestDedupAndOrder() {
	docs := []*testPost{
		{Reviewers: []*testUser{s.stub(s.x)}},
		{Reviewers: []*testUser{s.stub(s.y)}},
		{Reviewers: []*testUser{s.stub(s.x)}},
	}
	err := s.posts.Dereference(ctx, docs, map[string]Projection{"reviewers": nil}, nil)
	s.Require().NoError(err)

	finds := s.userFinds()
	s.Require().Len(finds, 1)
	s.Equal(bson.M{"_id": bson.M{"$in": []any{s.x, s.y}}}, finds[0].filter)
	s.Nil(finds[0].opts)

	s.Equal("X", docs[0].Reviewers[0].Name)
	s.Equal("Y", docs[1].Reviewers[0].Name)
	s.Equal("X", docs[2].Reviewers[0].Name)
	s.Equal("x@example.com", docs[2].Reviewers[0].Email)
}

func (s *DereferenceTestSuite) TestArrayKeepsPositions() {
	post := &testPost{Reviewers: []*testUser{s.stub(s.y), s.stub(s.x), s.stub(s.y)}}
	err := s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"reviewers": {}}, nil)
	s.Require().NoError(err)

	s.Require().Len(post.Reviewers, 3)
	s.Equal([]string{"Y", "X", "Y"}, []string{post.Reviewers[0].Name, post.Reviewers[1].Name, post.Reviewers[2].Name})
	s.Equal(s.y.Hex(), post.Reviewers[0].ID)
}

// Both members target users: one lookup, projections merged.
func (s *DereferenceTestSuite) TestOneLookupPerTargetType() {
	post := &testPost{Author: s.stub(s.x), Reviewers: []*testUser{s.stub(s.y)}}
	err := s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{
		"author":    {"name": 1},
		"reviewers": {"email": 1},
	}, nil)
	s.Require().NoError(err)

	finds := s.userFinds()
	s.Require().Len(finds, 1)
	s.Equal(Projection{"name": 1, "email": 1}, finds[0].opts.Projection)
	s.Equal("X", post.Author.Name)
	s.Equal("x@example.com", post.Author.Email)
	s.Equal("Y", post.Reviewers[0].Name)
}

func (s *DereferenceTestSuite) TestProjection() {
	post := &testPost{Author: s.stub(s.x)}
	err := s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"author": {"name": 1}}, nil)
	s.Require().NoError(err)
	s.Equal(s.x.Hex(), post.Author.ID)
	s.Equal("X", post.Author.Name)
	s.Empty(post.Author.Email)
}

func (s *DereferenceTestSuite) TestMissingBecomesNil() {
	missing := primitive.NewObjectID()
	post := &testPost{
		Author:    s.stub(missing),
		Reviewers: []*testUser{s.stub(s.x), s.stub(missing)},
	}
	err := s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"author": nil, "reviewers": nil}, nil)
	s.Require().NoError(err)
	s.Nil(post.Author)
	s.Require().Len(post.Reviewers, 2)
	s.Equal("X", post.Reviewers[0].Name)
	s.Nil(post.Reviewers[1])
}

func (s *DereferenceTestSuite) TestMissingKeepsStub() {
	missing := primitive.NewObjectID()
	post := &testPost{Author: s.stub(missing)}
	keep := false
	err := s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"author": nil},
		&DereferenceOptions{AssignNullToMissingDocument: &keep})
	s.Require().NoError(err)
	s.Equal(s.stub(missing), post.Author)
}

func (s *DereferenceTestSuite) TestOnlySelectedReferences() {
	post := &testPost{Title: "Hi", Author: s.stub(s.x), Reviewers: []*testUser{s.stub(s.y)}}
	err := s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"author": nil, "title": nil, "unknown": nil}, nil)
	s.Require().NoError(err)
	s.Equal("X", post.Author.Name)
	s.Equal(s.stub(s.y), post.Reviewers[0])
}

func (s *DereferenceTestSuite) TestNothingToResolve() {
	post := &testPost{Title: "Hi"}
	s.Require().NoError(s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"author": nil}, nil))
	s.Require().NoError(s.posts.Dereference(ctx, nil, map[string]Projection{"author": nil}, nil))
	s.Require().NoError(s.posts.Dereference(ctx, []*testPost{post}, nil, nil))
	s.Empty(s.driver.finds)
}

func (s *DereferenceTestSuite) TestDocumentShapes() {
	post := testPost{Author: s.stub(s.x)}
	s.Require().NoError(s.db.Dereference(ctx, &post, map[string]Projection{"author": nil}, nil))
	s.Equal("X", post.Author.Name)

	values := []testPost{{Author: s.stub(s.y)}}
	s.Require().NoError(s.db.Dereference(ctx, values, map[string]Projection{"author": nil}, nil))
	s.Equal("Y", values[0].Author.Name)

	err := s.db.Dereference(ctx, 42, map[string]Projection{"author": nil}, nil)
	s.Error(err)

	err = s.db.Dereference(ctx, []testUndeclared{{}}, map[string]Projection{"author": nil}, nil)
	s.ErrorAs(err, &SchemaNotFoundError{})
}

func (s *DereferenceTestSuite) TestResolvedMembersAreClean() {
	post := &testPost{Author: s.stub(s.x)}
	post.MarkDirty("author", "title")
	s.Require().NoError(s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"author": nil}, nil))
	s.False(post.IsDirty("author"))
	s.True(post.IsDirty("title"))
}

// Lookups go through the Context, so hooks observe them.
func (s *DereferenceTestSuite) TestLookupRunsHooks() {
	var seen []string
	s.db.Hooks().On(OperationFind, func(_ context.Context, p *HookParams) error {
		seen = append(seen, p.Definition.Collection)
		return nil
	})
	post := &testPost{Author: s.stub(s.x)}
	s.Require().NoError(s.posts.Dereference(ctx, []*testPost{post}, map[string]Projection{"author": nil}, nil))
	s.Equal([]string{"users"}, seen)
}
