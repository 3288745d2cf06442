package core

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	setOperator   = "$set"
	unsetOperator = "$unset"
	pullOperator  = "$pull"
)

// BuildSetUnset computes the minimal $set/$unset document for instance from
// its dirty-field tracker and accumulates it into out, which is returned.
//
// Dirty members holding nil are unset; references are written as store ids
// and embedded models in their flattened document form. A clean embedded
// member that holds a value is walked so that its own dirty fields are set
// by dotted path instead of rewriting the whole sub-document.
//
// An instance that does not embed a Tracker is treated as fully dirty.
func BuildSetUnset(def *Definition, instance any, out Update, keyPrefix string) (Update, error) {
	if out == nil {
		out = Update{}
	}
	rv, ok := structValue(instance)
	if !ok {
		return out, nil
	}
	return buildSetUnset(def, rv, out, keyPrefix, false)
}

func buildSetUnset(def *Definition, rv reflect.Value, out Update, keyPrefix string, nested bool) (Update, error) {
	tracker := trackerOf(rv)
	if tracker == nil && nested {
		return out, nil
	}
	isDirty := func(key string) bool {
		return tracker == nil || tracker.IsDirty(key)
	}

	for _, m := range def.Members {
		field := rv.FieldByIndex(m.Index)
		path := keyPrefix + m.Key

		if !isDirty(m.Key) {
			if !m.IsEmbedded() || m.IsArray {
				continue
			}
			sub, ok := embeddedValue(field)
			if !ok {
				continue
			}
			target := m.Target()
			if target == nil {
				continue
			}
			if _, err := buildSetUnset(target, sub, out, path+".", true); err != nil {
				return nil, err
			}
			continue
		}

		value := field.Interface()
		if isNil(value) {
			operandOf(out, unsetOperator)[path] = ""
			continue
		}
		flat, err := FlattenMember(m, value)
		if err != nil {
			return nil, err
		}
		if isNil(flat) {
			operandOf(out, unsetOperator)[path] = ""
			continue
		}
		operandOf(out, setOperator)[path] = flat
	}
	return out, nil
}

// embeddedValue returns the addressable struct held by an embedded member.
func embeddedValue(field reflect.Value) (reflect.Value, bool) {
	for field.Kind() == reflect.Pointer || field.Kind() == reflect.Interface {
		if field.IsNil() {
			return reflect.Value{}, false
		}
		field = field.Elem()
	}
	if field.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return field, true
}

func operandOf(update Update, op string) bson.M {
	if doc, ok := asDoc(update[op]); ok {
		if _, isD := update[op].(bson.D); isD {
			update[op] = doc
		}
		return doc
	}
	doc := bson.M{}
	update[op] = doc
	return doc
}

// valueOperators hold member values in their operand and are flattened.
// Other operators ($unset, $rename, $inc, $currentDate...) carry flags,
// numbers or field names and pass through unchanged.
var valueOperators = map[string]bool{
	setOperator:    true,
	"$setOnInsert": true,
	"$push":        true,
	"$addToSet":    true,
}

// NormalizeUpdate rewrites a model-shaped update operator document into its
// stored form, in place. Operands of value operators are flattened and the
// operand of $pull, a query, is normalized as such.
func NormalizeUpdate(def *Definition, update Update) (Update, error) {
	for op, operand := range update {
		doc, ok := asDoc(operand)
		if !ok {
			continue
		}
		var err error
		switch {
		case op == pullOperator:
			doc, err = NormalizeQuery(def, doc)
		case valueOperators[op]:
			doc, err = Flatten(def, doc)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		update[op] = doc
	}
	return update, nil
}

// MergeUpdate merges the operands of src into dst. Keys from src win.
func MergeUpdate(dst, src Update) Update {
	if dst == nil {
		dst = Update{}
	}
	for op, operand := range src {
		doc, ok := asDoc(operand)
		if !ok {
			dst[op] = operand
			continue
		}
		into := operandOf(dst, op)
		for k, v := range doc {
			into[k] = v
		}
	}
	return dst
}
