package audit

import (
	"context"

	"github.com/uon-team/db/core"
	"go.mongodb.org/mongo-driver/bson"
)

// DriverStore writes entries through a core.Driver. Hooks run with the
// context of the audited operation, so inside a transaction the entries are
// written in the same session.
type DriverStore struct {
	driver core.Driver
	ns     core.Namespace
}

var _ Store = (*DriverStore)(nil)

// NewDriverStore creates a store writing to ns. An empty collection name
// uses DefaultCollection.
func NewDriverStore(driver core.Driver, ns core.Namespace) *DriverStore {
	if ns.Collection == "" {
		ns.Collection = DefaultCollection
	}
	return &DriverStore{driver: driver, ns: ns}
}

// Write implements Store.
func (s *DriverStore) Write(ctx context.Context, entries ...Entry) error {
	docs := make([]bson.M, 0, len(entries))
	for _, e := range entries {
		data, err := bson.Marshal(e)
		if err != nil {
			return err
		}
		doc := bson.M{}
		if err := bson.Unmarshal(data, &doc); err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	_, err := s.driver.InsertMany(ctx, s.ns, docs, nil)
	return err
}

// List implements Store.
func (s *DriverStore) List(ctx context.Context, collection string, oid any) ([]Entry, error) {
	docs, err := s.driver.Find(ctx, s.ns, bson.M{"collection": collection, "oid": oid}, &core.FindOptions{
		Sort: bson.D{{Key: "createdOn", Value: 1}},
	})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		data, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := bson.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
