// Package core provides the fundamental building blocks of the uon db mapper.
// This file contains helper functions for reflection, field selection and
// conversions between Go values and bson documents.
package core

import (
	"reflect"
	"time"
	"unsafe"

	"go.mongodb.org/mongo-driver/bson"
)

// offsetOf returns the memory offset of a struct field selected by the given selector function.
//
// Example:
//
//	offset := offsetOf(func(u *User) *string { return &u.Name })
func offsetOf[T any, F any](selector func(*T) *F) uintptr {
	var zero T
	base := uintptr(unsafe.Pointer(&zero))
	ptr := selector(&zero)
	return uintptr(unsafe.Pointer(ptr)) - base
}

// fieldNameFromSelectorFor resolves the Go struct field name from a selector function.
//
// It takes a function of the form func(*T) *F (or func(*T) any returning a
// field pointer) and maps it back to the struct field name.
//
// Panics if the argument is not a function, or if the function does not return a field pointer.
func fieldNameFromSelectorFor[T any](selector any) string {
	if selector == nil {
		return ""
	}
	selectorValue := reflect.ValueOf(selector)
	if selectorValue.Kind() != reflect.Func {
		panic("selector must be a function")
	}

	typ := reflect.TypeOf((*T)(nil)).Elem()
	arg := reflect.New(typ) // *T

	out := selectorValue.Call([]reflect.Value{arg})
	if len(out) == 0 {
		panic("selector must return a pointer to a field")
	}
	ret := out[0]
	if ret.Kind() == reflect.Interface {
		ret = ret.Elem()
	}
	if ret.Kind() != reflect.Pointer {
		panic("selector must return a pointer to a field")
	}

	offset := ret.Pointer() - arg.Pointer()
	for _, sf := range reflect.VisibleFields(typ) {
		if len(sf.Index) == 1 && sf.Offset == offset {
			return sf.Name
		}
	}
	return "???"
}

// keyFromSelector maps a selector to the document key of the selected field.
func keyFromSelector[T any](def *Definition, selector any) string {
	name := fieldNameFromSelectorFor[T](selector)
	if def.ID != nil && def.ID.FieldName == name {
		return def.ID.Key
	}
	if m, ok := def.membersByField[name]; ok {
		return m.Key
	}
	return name
}

// asDoc views v as a document. Maps are returned as-is so that writes are
// visible to the caller; bson.D is copied into a new map.
func asDoc(v any) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return bson.M(d), true
	case bson.D:
		m := make(bson.M, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	default:
		return nil, false
	}
}

// asList views v as a list of values. []any is returned as-is; other slices
// are copied.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case bson.A:
		return []any(l), true
	case bson.D, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// isNil reports whether v is absent: a nil interface, pointer, map, slice,
// func or chan.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// serialize converts a model instance into its plain document form.
func serialize(v any) (bson.M, error) {
	if doc, ok := asDoc(v); ok {
		return doc, nil
	}
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := bson.M{}
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// deserialize decodes a plain document into out, which must be a pointer.
func deserialize(doc bson.M, out any) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, out)
}

// structValue returns the addressable struct behind v, if any.
func structValue(v any) (reflect.Value, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return rv, true
}

// setTimeField sets a time.Time value into a struct field, supporting both
// value and pointer kinds.
func setTimeField(field reflect.Value, t time.Time) {
	if !field.IsValid() || !field.CanSet() {
		return
	}
	timeType := reflect.TypeOf(time.Time{})

	switch field.Kind() {
	case reflect.Struct:
		if field.Type() == timeType {
			field.Set(reflect.ValueOf(t))
		}
	case reflect.Pointer:
		if field.Type().Elem() == timeType {
			if field.IsNil() {
				ptr := reflect.New(timeType)
				ptr.Elem().Set(reflect.ValueOf(t))
				field.Set(ptr)
			} else {
				field.Elem().Set(reflect.ValueOf(t))
			}
		}
	}
}
