package core

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ctx = context.Background()

type testUser struct {
	Tracker `bson:"-"`
	ID      string `bson:"id"`
	Name    string `bson:"name"`
	Email   string `bson:"email,omitempty"`
}

type testMeta struct {
	Tracker `bson:"-"`
	Views   int       `bson:"views"`
	Source  string    `bson:"source"`
	Editor  *testUser `bson:"editor,omitempty"`
}

type testPost struct {
	Tracker   `bson:"-"`
	ID        string      `bson:"id"`
	Title     string      `bson:"title"`
	Author    *testUser   `bson:"author,omitempty"`
	Reviewers []*testUser `bson:"reviewers,omitempty"`
	Tags      []string    `bson:"tags,omitempty"`
	Meta      *testMeta   `bson:"meta,omitempty"`
	Notes     []testMeta  `bson:"notes,omitempty"`
	CreatedAt time.Time   `bson:"createdAt"`
	UpdatedAt time.Time   `bson:"updatedAt"`
}

type testArticle struct {
	Tracker `bson:"-"`
	ID      string   `bson:"id"`
	Title   string   `bson:"title"`
	Author  testUser `bson:"author"`
}

type testNative struct {
	ID    primitive.ObjectID `bson:"id"`
	Label string             `bson:"label"`
	Owner *testUser          `bson:"owner,omitempty"`
}

type testBadID struct {
	ID int `bson:"id"`
}

type testUndeclared struct {
	Value string
}

var (
	_ = Declare[testUser](
		Collection[testUser]("users"),
		OverrideField(func(u *testUser) *string { return &u.ID }, PrimaryKey()),
		OverrideField(func(u *testUser) *string { return &u.Email }, Unique()),
	)
	_ = Declare[testMeta]()
	_ = Declare[testPost](
		Collection[testPost]("posts"),
		OverrideField(func(p *testPost) *string { return &p.ID }, PrimaryKey()),
		OverrideField(func(p *testPost) *time.Time { return &p.CreatedAt }, CreatedAt()),
		OverrideField(func(p *testPost) *time.Time { return &p.UpdatedAt }, UpdatedAt()),
		Index[testPost](IndexDefinition{Fields: []IndexField{{Key: "title", Type: IndexText}}}),
	)
	_ = Declare[testArticle](
		Collection[testArticle]("articles"),
		OverrideField(func(a *testArticle) *string { return &a.ID }, PrimaryKey()),
	)
	_ = Declare[testNative](
		Collection[testNative]("natives"),
		Database[testNative]("other"),
		OverrideField(func(n *testNative) *primitive.ObjectID { return &n.ID }, PrimaryKey()),
	)
	_ = Declare[testBadID](
		Collection[testBadID]("bad"),
		OverrideField(func(b *testBadID) *int { return &b.ID }, PrimaryKey()),
	)
)

func mustDef[T any]() *Definition {
	def, err := DefinitionOf[T]()
	if err != nil {
		panic(err)
	}
	return def
}

//region memDriver

type findCall struct {
	ns     Namespace
	filter bson.M
	opts   *FindOptions
}

// memDriver is an in-memory Driver understanding the small subset of the
// query and update languages used by the tests.
type memDriver struct {
	mutex       sync.Mutex
	collections map[Namespace][]bson.M
	finds       []findCall
	findOnes    []findCall
	updates     []bson.M
	sessions    []*memSession
	events      []bson.M
	pipelines   [][]bson.M
	synced      map[Namespace][]IndexDefinition
}

var _ Driver = (*memDriver)(nil)

func newMemDriver() *memDriver {
	return &memDriver{
		collections: map[Namespace][]bson.M{},
		synced:      map[Namespace][]IndexDefinition{},
	}
}

func (d *memDriver) seed(ns Namespace, docs ...bson.M) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, doc := range docs {
		d.collections[ns] = append(d.collections[ns], cloneDoc(doc))
	}
}

func (d *memDriver) all(ns Namespace) []bson.M {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([]bson.M, len(d.collections[ns]))
	for i, doc := range d.collections[ns] {
		out[i] = cloneDoc(doc)
	}
	return out
}

func (d *memDriver) Connect(context.Context) error { return nil }
func (d *memDriver) Ping(context.Context) error    { return nil }
func (d *memDriver) Close(context.Context) error   { return nil }

func (d *memDriver) StartSession(context.Context, *TransactionOptions) (Session, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s := &memSession{}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *memDriver) Count(_ context.Context, ns Namespace, filter bson.M, _ *CountOptions) (int64, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	var n int64
	for _, doc := range d.collections[ns] {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (d *memDriver) FindOne(_ context.Context, ns Namespace, filter bson.M, opts *FindOptions) (bson.M, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.findOnes = append(d.findOnes, findCall{ns: ns, filter: cloneDoc(filter), opts: opts})
	for _, doc := range d.collections[ns] {
		if matches(doc, filter) {
			return project(doc, opts), nil
		}
	}
	return nil, nil
}

func (d *memDriver) Find(_ context.Context, ns Namespace, filter bson.M, opts *FindOptions) ([]bson.M, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.finds = append(d.finds, findCall{ns: ns, filter: cloneDoc(filter), opts: opts})
	out := []bson.M{}
	for _, doc := range d.collections[ns] {
		if matches(doc, filter) {
			out = append(out, project(doc, opts))
		}
	}
	return out, nil
}

func (d *memDriver) InsertOne(_ context.Context, ns Namespace, doc bson.M, _ *InsertOptions) (*InsertOneResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	stored := cloneDoc(doc)
	if _, ok := stored[StoreIDKey]; !ok {
		stored[StoreIDKey] = primitive.NewObjectID()
	}
	d.collections[ns] = append(d.collections[ns], stored)
	return &InsertOneResult{InsertedID: stored[StoreIDKey]}, nil
}

func (d *memDriver) InsertMany(c context.Context, ns Namespace, docs []bson.M, opts *InsertOptions) (*InsertManyResult, error) {
	out := &InsertManyResult{}
	for _, doc := range docs {
		res, err := d.InsertOne(c, ns, doc, opts)
		if err != nil {
			return nil, err
		}
		out.InsertedIDs = append(out.InsertedIDs, res.InsertedID)
	}
	return out, nil
}

func (d *memDriver) update(ns Namespace, filter, update bson.M, opts *UpdateOptions, many bool) (*UpdateResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.updates = append(d.updates, cloneDoc(update))
	res := &UpdateResult{}
	for _, doc := range d.collections[ns] {
		if !matches(doc, filter) {
			continue
		}
		res.MatchedCount++
		before := cloneDoc(doc)
		applyUpdate(doc, update)
		if !reflect.DeepEqual(before, doc) {
			res.ModifiedCount++
		}
		if !many {
			return res, nil
		}
	}
	if res.MatchedCount == 0 && opts != nil && opts.Upsert {
		doc := bson.M{}
		if id, ok := filter[StoreIDKey]; ok {
			doc[StoreIDKey] = id
		} else {
			doc[StoreIDKey] = primitive.NewObjectID()
		}
		applyUpdate(doc, update)
		d.collections[ns] = append(d.collections[ns], doc)
		res.UpsertedCount = 1
		res.UpsertedID = doc[StoreIDKey]
	}
	return res, nil
}

func (d *memDriver) UpdateOne(_ context.Context, ns Namespace, filter, update bson.M, opts *UpdateOptions) (*UpdateResult, error) {
	return d.update(ns, filter, update, opts, false)
}

func (d *memDriver) UpdateMany(_ context.Context, ns Namespace, filter, update bson.M, opts *UpdateOptions) (*UpdateResult, error) {
	return d.update(ns, filter, update, opts, true)
}

func (d *memDriver) DeleteOne(_ context.Context, ns Namespace, filter bson.M, _ *DeleteOptions) (bson.M, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	docs := d.collections[ns]
	for i, doc := range docs {
		if matches(doc, filter) {
			d.collections[ns] = append(docs[:i:i], docs[i+1:]...)
			return doc, nil
		}
	}
	return nil, nil
}

func (d *memDriver) DeleteMany(_ context.Context, ns Namespace, filter bson.M, _ *DeleteOptions) (*DeleteResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	kept := []bson.M{}
	res := &DeleteResult{}
	for _, doc := range d.collections[ns] {
		if matches(doc, filter) {
			res.DeletedCount++
			continue
		}
		kept = append(kept, doc)
	}
	d.collections[ns] = kept
	return res, nil
}

func (d *memDriver) Aggregate(_ context.Context, ns Namespace, pipeline []bson.M, _ *AggregateOptions) ([]bson.M, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.pipelines = append(d.pipelines, pipeline)
	out := []bson.M{}
	var filter bson.M
	if len(pipeline) > 0 {
		filter, _ = asDoc(pipeline[0]["$match"])
	}
	for _, doc := range d.collections[ns] {
		if matches(doc, filter) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

func (d *memDriver) Watch(context.Context, Namespace, []bson.M, *WatchOptions) (Cursor, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return &sliceCursor{docs: d.events, pos: -1}, nil
}

func (d *memDriver) SyncIndexes(_ context.Context, ns Namespace, indexes []IndexDefinition) ([]IndexSyncResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.synced[ns] = indexes
	out := make([]IndexSyncResult, len(indexes))
	for i, idx := range indexes {
		out[i] = IndexSyncResult{Name: idx.Name, Action: IndexCreated}
	}
	return out, nil
}

type memSession struct {
	commits, aborts, ends int
}

type memSessionKey struct{}

func (s *memSession) Context(c context.Context) context.Context {
	return context.WithValue(c, memSessionKey{}, s)
}
func (s *memSession) Commit(context.Context) error { s.commits++; return nil }
func (s *memSession) Abort(context.Context) error  { s.aborts++; return nil }
func (s *memSession) End(context.Context)          { s.ends++ }

type sliceCursor struct {
	docs []bson.M
	pos  int
}

func (c *sliceCursor) Next(context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}
func (c *sliceCursor) Current() bson.M             { return c.docs[c.pos] }
func (c *sliceCursor) Err() error                  { return nil }
func (c *sliceCursor) Close(context.Context) error { return nil }

func project(doc bson.M, opts *FindOptions) bson.M {
	if opts == nil || len(opts.Projection) == 0 {
		return cloneDoc(doc)
	}
	out := bson.M{StoreIDKey: doc[StoreIDKey]}
	for k := range opts.Projection {
		if v, ok := doc[k]; ok {
			out[k] = cloneValue(v)
		}
	}
	return out
}

func lookupPath(doc bson.M, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asDoc(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func matches(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$or", "$nor":
			branches, _ := asList(cond)
			any := false
			for _, b := range branches {
				if bm, ok := asDoc(b); ok && matches(doc, bm) {
					any = true
				}
			}
			if any == (key == "$nor") {
				return false
			}
			continue
		case "$and":
			branches, _ := asList(cond)
			for _, b := range branches {
				if bm, ok := asDoc(b); ok && !matches(doc, bm) {
					return false
				}
			}
			continue
		}
		value, present := lookupPath(doc, key)
		if !matchValue(value, present, cond) {
			return false
		}
	}
	return true
}

func matchValue(value any, present bool, cond any) bool {
	if ops, ok := asDoc(cond); ok && isOperatorDoc(ops) {
		for op, operand := range ops {
			switch op {
			case "$in", "$nin":
				list, _ := asList(operand)
				found := false
				for _, item := range list {
					if equalValue(value, item) {
						found = true
					}
				}
				if found != (op == "$in") {
					return false
				}
			case "$eq":
				if !equalValue(value, operand) {
					return false
				}
			case "$ne":
				if equalValue(value, operand) {
					return false
				}
			case "$exists":
				if present != operand.(bool) {
					return false
				}
			default:
				panic(fmt.Sprintf("memDriver: unsupported operator %s", op))
			}
		}
		return true
	}
	return equalValue(value, cond)
}

// equalValue compares like the store does: an array field matches when one
// of its elements does.
func equalValue(value, want any) bool {
	if reflect.DeepEqual(value, want) {
		return true
	}
	if isNil(value) && isNil(want) {
		return true
	}
	if list, ok := asList(value); ok {
		for _, item := range list {
			if reflect.DeepEqual(item, want) {
				return true
			}
		}
	}
	return false
}

func setPath(doc bson.M, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asDoc(cur[part])
		if !ok {
			next = bson.M{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = cloneValue(value)
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asDoc(cur[part])
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func applyUpdate(doc bson.M, update bson.M) {
	for op, operand := range update {
		fields, _ := asDoc(operand)
		for path, v := range fields {
			switch op {
			case "$set":
				setPath(doc, path, v)
			case "$unset":
				unsetPath(doc, path)
			case "$inc":
				cur, _ := lookupPath(doc, path)
				n, _ := cur.(int)
				setPath(doc, path, n+v.(int))
			case "$push", "$addToSet":
				cur, _ := lookupPath(doc, path)
				list, _ := asList(cur)
				list = append([]any(nil), list...)
				if each, ok := asDoc(v); ok {
					items, _ := asList(each["$each"])
					list = append(list, items...)
				} else {
					list = append(list, v)
				}
				setPath(doc, path, list)
			case "$pull":
				cur, _ := lookupPath(doc, path)
				list, _ := asList(cur)
				kept := []any{}
				for _, item := range list {
					if !matchValue(item, true, v) {
						kept = append(kept, item)
					}
				}
				setPath(doc, path, kept)
			default:
				panic(fmt.Sprintf("memDriver: unsupported update operator %s", op))
			}
		}
	}
}

//endregion

//region driverMock

type driverMock struct{ mock.Mock }

var _ Driver = (*driverMock)(nil)

func (m *driverMock) Connect(c context.Context) error { return m.Called(c).Error(0) }
func (m *driverMock) Ping(c context.Context) error    { return m.Called(c).Error(0) }
func (m *driverMock) Close(c context.Context) error   { return m.Called(c).Error(0) }

func (m *driverMock) StartSession(c context.Context, opts *TransactionOptions) (Session, error) {
	call := m.Called(c, opts)
	s, _ := call.Get(0).(Session)
	return s, call.Error(1)
}

func (m *driverMock) Count(c context.Context, ns Namespace, filter bson.M, opts *CountOptions) (int64, error) {
	call := m.Called(c, ns, filter, opts)
	return call.Get(0).(int64), call.Error(1)
}

func (m *driverMock) FindOne(c context.Context, ns Namespace, filter bson.M, opts *FindOptions) (bson.M, error) {
	call := m.Called(c, ns, filter, opts)
	doc, _ := call.Get(0).(bson.M)
	return doc, call.Error(1)
}

func (m *driverMock) Find(c context.Context, ns Namespace, filter bson.M, opts *FindOptions) ([]bson.M, error) {
	call := m.Called(c, ns, filter, opts)
	docs, _ := call.Get(0).([]bson.M)
	return docs, call.Error(1)
}

func (m *driverMock) InsertOne(c context.Context, ns Namespace, doc bson.M, opts *InsertOptions) (*InsertOneResult, error) {
	call := m.Called(c, ns, doc, opts)
	res, _ := call.Get(0).(*InsertOneResult)
	return res, call.Error(1)
}

func (m *driverMock) InsertMany(c context.Context, ns Namespace, docs []bson.M, opts *InsertOptions) (*InsertManyResult, error) {
	call := m.Called(c, ns, docs, opts)
	res, _ := call.Get(0).(*InsertManyResult)
	return res, call.Error(1)
}

func (m *driverMock) UpdateOne(c context.Context, ns Namespace, filter, update bson.M, opts *UpdateOptions) (*UpdateResult, error) {
	call := m.Called(c, ns, filter, update, opts)
	res, _ := call.Get(0).(*UpdateResult)
	return res, call.Error(1)
}

func (m *driverMock) UpdateMany(c context.Context, ns Namespace, filter, update bson.M, opts *UpdateOptions) (*UpdateResult, error) {
	call := m.Called(c, ns, filter, update, opts)
	res, _ := call.Get(0).(*UpdateResult)
	return res, call.Error(1)
}

func (m *driverMock) DeleteOne(c context.Context, ns Namespace, filter bson.M, opts *DeleteOptions) (bson.M, error) {
	call := m.Called(c, ns, filter, opts)
	doc, _ := call.Get(0).(bson.M)
	return doc, call.Error(1)
}

func (m *driverMock) DeleteMany(c context.Context, ns Namespace, filter bson.M, opts *DeleteOptions) (*DeleteResult, error) {
	call := m.Called(c, ns, filter, opts)
	res, _ := call.Get(0).(*DeleteResult)
	return res, call.Error(1)
}

func (m *driverMock) Aggregate(c context.Context, ns Namespace, pipeline []bson.M, opts *AggregateOptions) ([]bson.M, error) {
	call := m.Called(c, ns, pipeline, opts)
	docs, _ := call.Get(0).([]bson.M)
	return docs, call.Error(1)
}

func (m *driverMock) Watch(c context.Context, ns Namespace, pipeline []bson.M, opts *WatchOptions) (Cursor, error) {
	call := m.Called(c, ns, pipeline, opts)
	cur, _ := call.Get(0).(Cursor)
	return cur, call.Error(1)
}

func (m *driverMock) SyncIndexes(c context.Context, ns Namespace, indexes []IndexDefinition) ([]IndexSyncResult, error) {
	call := m.Called(c, ns, indexes)
	res, _ := call.Get(0).([]IndexSyncResult)
	return res, call.Error(1)
}

//endregion
