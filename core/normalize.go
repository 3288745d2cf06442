package core

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Query is a filter document in model shape.
type Query = bson.M

// Update is an update operator document in model shape.
type Update = bson.M

// Projection selects the fields returned by a find.
type Projection = bson.M

var logicalOperators = []string{"$or", "$and", "$nor"}

// NormalizeQuery rewrites a model-shaped query into the stored form, in
// place, and returns it.
//
// A query holding a $or, $and or $nor array is treated as a pure logical
// node: each branch is normalized and sibling keys are left as they are.
// Otherwise the id field (or _id) is renamed to _id with its operand
// converted, reference operands are converted to store ids, and object
// operands of embedded members are normalized against the embedded
// definition. Every other key passes through untouched.
func NormalizeQuery(def *Definition, query Query) (Query, error) {
	if query == nil {
		return Query{}, nil
	}
	for _, op := range logicalOperators {
		branches, ok := asList(query[op])
		if !ok {
			continue
		}
		normalized := make([]any, len(branches))
		for i, branch := range branches {
			doc, ok := asDoc(branch)
			if !ok {
				normalized[i] = branch
				continue
			}
			out, err := NormalizeQuery(def, doc)
			if err != nil {
				return nil, err
			}
			normalized[i] = out
		}
		query[op] = normalized
		return query, nil
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	for _, key := range keys {
		value := query[key]
		if def.ID != nil && (key == def.ID.Key || key == StoreIDKey) {
			operand, err := FormatQueryOperand(value, def.ID)
			if err != nil {
				return nil, err
			}
			delete(query, key)
			query[StoreIDKey] = operand
			continue
		}

		m := def.Member(key)
		if m == nil || !m.IsModel {
			continue
		}
		target := m.Target()
		if target == nil {
			continue
		}
		if m.IsReference {
			operand, err := FormatQueryOperand(value, target.ID)
			if err != nil {
				return nil, err
			}
			query[key] = operand
			continue
		}
		if doc, ok := asDoc(value); ok {
			operand, err := NormalizeQuery(target, doc)
			if err != nil {
				return nil, err
			}
			query[key] = operand
		}
	}
	return query, nil
}

// normalizeFindOptions renames id keys in projection and sort.
func normalizeFindOptions(def *Definition, opts *FindOptions) *FindOptions {
	if opts == nil || def.ID == nil || def.ID.Key == StoreIDKey {
		return opts
	}
	out := *opts
	if opts.Projection != nil {
		out.Projection = make(Projection, len(opts.Projection))
		for k, v := range opts.Projection {
			if k == def.ID.Key {
				k = StoreIDKey
			}
			out.Projection[k] = v
		}
	}
	if opts.Sort != nil {
		out.Sort = make(bson.D, len(opts.Sort))
		for i, e := range opts.Sort {
			if e.Key == def.ID.Key {
				e.Key = StoreIDKey
			}
			out.Sort[i] = e
		}
	}
	return &out
}
