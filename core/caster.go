package core

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Inflate rewrites a stored document into its in-memory form: the store
// primary key is renamed to the model id field, reference ids become
// {id} stubs and embedded sub-documents are walked recursively. The
// document is modified in place and returned.
func Inflate(def *Definition, raw bson.M) (bson.M, error) {
	if raw == nil {
		return nil, nil
	}
	if def.ID != nil {
		if storeID, ok := raw[StoreIDKey]; ok && storeID != nil {
			id, err := ToModelID(storeID, def.ID)
			if err != nil {
				return nil, err
			}
			delete(raw, StoreIDKey)
			raw[def.ID.Key] = id
		}
	}

	for _, m := range def.Members {
		value, ok := raw[m.Key]
		if !ok || isNil(value) || !m.IsModel {
			continue
		}
		target := m.Target()
		if target == nil {
			continue
		}
		var (
			inflated any
			err      error
		)
		if m.IsReference {
			inflated, err = mapShape(value, func(item any) (any, error) {
				return stubOf(item, target.ID)
			})
		} else {
			inflated, err = mapShape(value, func(item any) (any, error) {
				doc, ok := asDoc(item)
				if !ok {
					return item, nil
				}
				return Inflate(target, doc)
			})
		}
		if err != nil {
			return nil, err
		}
		raw[m.Key] = inflated
	}
	return raw, nil
}

func stubOf(storeID any, meta *IDMeta) (any, error) {
	if isNil(storeID) {
		return storeID, nil
	}
	id, err := ToModelID(storeID, meta)
	if err != nil {
		return nil, err
	}
	return bson.M{meta.Key: id}, nil
}

// Flatten rewrites a document into its stored form: reference members are
// reduced to bare store ids and embedded members are walked recursively.
// $each modifiers are preserved. The document is modified in place.
func Flatten(def *Definition, doc bson.M) (bson.M, error) {
	for _, m := range def.Members {
		value, ok := doc[m.Key]
		if !ok || isNil(value) || !m.IsModel {
			continue
		}
		flat, err := FlattenMember(m, value)
		if err != nil {
			return nil, err
		}
		doc[m.Key] = flat
	}
	return doc, nil
}

// FlattenMember converts one member value into its stored form. A reference
// whose id is the zero value, such as an unset value-typed reference, is
// absent and flattens to nil.
func FlattenMember(m *Member, value any) (any, error) {
	if !m.IsModel || isNil(value) {
		return value, nil
	}
	target := m.Target()
	if target == nil {
		return value, nil
	}
	if m.IsReference {
		return mapShape(value, func(item any) (any, error) {
			if isZeroID(item, target.ID) {
				return nil, nil
			}
			return ToStoreID(item, target.ID)
		})
	}
	return mapShape(value, func(item any) (any, error) {
		if isNil(item) {
			return item, nil
		}
		doc, err := serialize(item)
		if err != nil {
			return nil, err
		}
		return Flatten(target, doc)
	})
}
