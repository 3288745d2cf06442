// Package driver provides the MongoDB implementation of core.Driver.
// This file implements index synchronization.
package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/uon-team/db/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// liveIndex is the part of a server index specification that is compared
// with a declared index.
type liveIndex struct {
	Name               string
	Keys               bson.D
	Unique             bool
	Sparse             bool
	ExpireAfterSeconds *int32
}

// SyncIndexes creates the collection if absent, then creates every declared
// index that does not exist and drops and recreates those whose definition
// changed. Indexes that are not declared are left alone.
func (driver *MongoDriver) SyncIndexes(ctx context.Context, ns core.Namespace, indexes []core.IndexDefinition) ([]core.IndexSyncResult, error) {
	db := driver.dbFor(ns)
	names, err := db.ListCollectionNames(ctx, bson.M{"name": ns.Collection})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if err := db.CreateCollection(ctx, ns.Collection); err != nil {
			return nil, err
		}
		driver.logger.Info().Str("collection", ns.Collection).Msg("collection created")
	}

	view := driver.coll(ns).Indexes()
	specs, err := view.ListSpecifications(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]liveIndex, len(specs))
	for _, spec := range specs {
		idx, err := liveIndexFrom(spec)
		if err != nil {
			return nil, err
		}
		live[idx.Name] = idx
	}

	results := make([]core.IndexSyncResult, 0, len(indexes))
	for _, declared := range indexes {
		name := indexName(declared)
		result := core.IndexSyncResult{Name: name, Action: core.IndexUnchanged}

		existing, ok := live[name]
		switch {
		case !ok:
			result.Action = core.IndexCreated
		case compareIndex(declared, existing):
			results = append(results, result)
			continue
		default:
			if _, err := view.DropOne(ctx, name); err != nil {
				return nil, fmt.Errorf("drop index %s: %w", name, err)
			}
			result.Action = core.IndexRecreated
		}

		model, err := indexModel(declared)
		if err != nil {
			return nil, err
		}
		if _, err := view.CreateOne(ctx, model); err != nil {
			return nil, fmt.Errorf("create index %s: %w", name, err)
		}
		driver.logger.Info().
			Str("collection", ns.Collection).
			Str("index", name).
			Str("action", string(result.Action)).
			Msg("index synced")
		results = append(results, result)
	}
	return results, nil
}

func liveIndexFrom(spec *mongo.IndexSpecification) (liveIndex, error) {
	idx := liveIndex{Name: spec.Name, ExpireAfterSeconds: spec.ExpireAfterSeconds}
	if err := bson.Unmarshal(spec.KeysDocument, &idx.Keys); err != nil {
		return liveIndex{}, err
	}
	if spec.Unique != nil {
		idx.Unique = *spec.Unique
	}
	if spec.Sparse != nil {
		idx.Sparse = *spec.Sparse
	}
	return idx, nil
}

// expectedKeys returns the key document the server reports for declared.
// Text fields collapse into the single _fts/_ftsx pair.
func expectedKeys(declared core.IndexDefinition) bson.D {
	keys := bson.D{}
	text := false
	for _, f := range declared.Fields {
		if f.Type == core.IndexText {
			if !text {
				keys = append(keys, bson.E{Key: "_fts", Value: "text"}, bson.E{Key: "_ftsx", Value: 1})
				text = true
			}
			continue
		}
		keys = append(keys, bson.E{Key: f.Key, Value: f.Type})
	}
	return keys
}

// compareIndex reports whether the live index matches the declaration on
// key shape, uniqueness, sparsity and expiry.
func compareIndex(declared core.IndexDefinition, live liveIndex) bool {
	keys := expectedKeys(declared)
	if len(keys) != len(live.Keys) {
		return false
	}
	for i, k := range keys {
		if live.Keys[i].Key != k.Key {
			return false
		}
		if cast.ToString(live.Keys[i].Value) != cast.ToString(k.Value) {
			return false
		}
	}
	if declared.Unique != live.Unique || declared.Sparse != live.Sparse {
		return false
	}
	switch {
	case declared.ExpireAfterSeconds == nil && live.ExpireAfterSeconds == nil:
		return true
	case declared.ExpireAfterSeconds == nil || live.ExpireAfterSeconds == nil:
		return false
	default:
		return *declared.ExpireAfterSeconds == *live.ExpireAfterSeconds
	}
}

// indexName returns the declared name, or the name the server would
// generate: every key and type joined with underscores.
func indexName(declared core.IndexDefinition) string {
	if declared.Name != "" {
		return declared.Name
	}
	parts := make([]string, 0, len(declared.Fields)*2)
	for _, f := range declared.Fields {
		parts = append(parts, f.Key, f.Type)
	}
	return strings.Join(parts, "_")
}

func indexKeyValue(t string) (any, error) {
	switch t {
	case core.IndexAsc, core.IndexDesc:
		return cast.ToInt32E(t)
	case core.IndexText, core.Index2DSphere, core.Index2D, core.IndexHashed:
		return t, nil
	}
	return nil, fmt.Errorf("unsupported index type %q", t)
}

func indexModel(declared core.IndexDefinition) (mongo.IndexModel, error) {
	keys := bson.D{}
	for _, f := range declared.Fields {
		v, err := indexKeyValue(f.Type)
		if err != nil {
			return mongo.IndexModel{}, err
		}
		keys = append(keys, bson.E{Key: f.Key, Value: v})
	}
	opts := mopt.Index().SetName(indexName(declared))
	if declared.Unique {
		opts.SetUnique(true)
	}
	if declared.Sparse {
		opts.SetSparse(true)
	}
	if declared.ExpireAfterSeconds != nil {
		opts.SetExpireAfterSeconds(*declared.ExpireAfterSeconds)
	}
	if declared.Collation != nil {
		opts.SetCollation(&mopt.Collation{Locale: declared.Collation.Locale, Strength: declared.Collation.Strength})
	}
	if declared.DefaultLanguage != "" {
		opts.SetDefaultLanguage(declared.DefaultLanguage)
	}
	if declared.LanguageOverride != "" {
		opts.SetLanguageOverride(declared.LanguageOverride)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}, nil
}
