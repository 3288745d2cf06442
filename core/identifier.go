package core

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ToStoreID converts a model id into the store id type. Arrays are mapped
// element-wise; keyed objects (reference stubs, documents or model
// instances) have their id extracted first. Absent values pass through.
func ToStoreID(value any, meta *IDMeta) (any, error) {
	switch shapeOf(value) {
	case shapeAbsent:
		return value, nil
	case shapeArray:
		return mapShape(value, func(item any) (any, error) {
			return ToStoreID(item, meta)
		})
	}
	return boxID(extractID(value, meta))
}

func boxID(raw any) (primitive.ObjectID, error) {
	switch v := raw.(type) {
	case primitive.ObjectID:
		return v, nil
	case *primitive.ObjectID:
		if v != nil {
			return *v, nil
		}
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		if err == nil {
			return oid, nil
		}
	}
	return primitive.NilObjectID, InvalidIDError{Value: raw}
}

// extractID returns the id held by a keyed object, or value itself.
func extractID(value any, meta *IDMeta) any {
	if doc, ok := asDoc(value); ok {
		if id, ok := doc[meta.Key]; ok {
			return id
		}
		if id, ok := doc[StoreIDKey]; ok {
			return id
		}
		return value
	}
	if rv, ok := structValue(value); ok && meta.Owner != nil && rv.Type() == meta.Owner {
		return rv.FieldByIndex(meta.Index).Interface()
	}
	return value
}

// ToModelID converts a store id into the representation declared by meta.
func ToModelID(storeID any, meta *IDMeta) (any, error) {
	if meta.Kind != IDString && meta.Kind != IDNative {
		return nil, UnsupportedIDTypeError{Type: meta.Type}
	}
	oid, err := boxID(storeID)
	if err != nil {
		return nil, err
	}
	if meta.Kind == IDNative {
		return oid, nil
	}
	return oid.Hex(), nil
}

// FormatQueryOperand prepares a query operand that targets an id: $in,
// $nin, $eq and $ne operands are converted, other operators are left to the
// store. Any other operand is converted as a whole.
func FormatQueryOperand(value any, meta *IDMeta) (any, error) {
	doc, ok := asDoc(value)
	if !ok || !isOperatorDoc(doc) {
		return ToStoreID(value, meta)
	}
	for _, op := range []string{"$in", "$nin", "$eq", "$ne"} {
		operand, ok := doc[op]
		if !ok {
			continue
		}
		converted, err := ToStoreID(operand, meta)
		if err != nil {
			return nil, err
		}
		doc[op] = converted
	}
	return doc, nil
}

func isOperatorDoc(doc bson.M) bool {
	if len(doc) == 0 {
		return false
	}
	for k := range doc {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

// canonicalID returns the string form of the id held by a reference value.
func canonicalID(value any, meta *IDMeta) (string, bool) {
	if isNil(value) {
		return "", false
	}
	switch id := extractID(value, meta).(type) {
	case string:
		return id, id != ""
	case primitive.ObjectID:
		return id.Hex(), !id.IsZero()
	case *primitive.ObjectID:
		if id == nil || id.IsZero() {
			return "", false
		}
		return id.Hex(), true
	}
	return "", false
}

// isZeroID reports whether value is a keyed object or a raw id holding the
// zero id of its representation.
func isZeroID(value any, meta *IDMeta) bool {
	switch id := extractID(value, meta).(type) {
	case string:
		return id == ""
	case primitive.ObjectID:
		return id.IsZero()
	case *primitive.ObjectID:
		return id == nil || id.IsZero()
	}
	return false
}

// setModelID writes a store id back into the id field of instance.
func setModelID(instance any, meta *IDMeta, storeID any) error {
	id, err := ToModelID(storeID, meta)
	if err != nil {
		return err
	}
	rv, ok := structValue(instance)
	if !ok {
		return nil
	}
	field := rv.FieldByIndex(meta.Index)
	if field.CanSet() {
		field.Set(reflect.ValueOf(id).Convert(field.Type()))
	}
	return nil
}

// instanceID returns the id held by instance and whether it is populated.
func instanceID(instance any, meta *IDMeta) (any, bool) {
	rv, ok := structValue(instance)
	if !ok {
		return nil, false
	}
	id := rv.FieldByIndex(meta.Index).Interface()
	switch v := id.(type) {
	case string:
		return v, v != ""
	case primitive.ObjectID:
		return v, !v.IsZero()
	}
	return id, !isNil(id)
}
