package core

import (
	"reflect"
	"sort"
)

// Trackable is implemented by models that record which fields changed since
// they were loaded or last persisted.
type Trackable interface {
	MarkDirty(keys ...string)
	MakeClean(keys ...string)
	IsDirty(key string) bool
}

// Tracker is an embeddable dirty-field tracker. Embed it with a bson "-" tag
// so that it is never persisted:
//
//	type Post struct {
//	    core.Tracker `bson:"-"`
//	    ID    string `bson:"id"`
//	    Title string `bson:"title"`
//	}
type Tracker struct {
	dirty map[string]struct{}
}

// MarkDirty records keys as changed.
func (t *Tracker) MarkDirty(keys ...string) {
	if t.dirty == nil {
		t.dirty = make(map[string]struct{}, len(keys))
	}
	for _, k := range keys {
		t.dirty[k] = struct{}{}
	}
}

// MakeClean forgets the given keys, or every key when none is given.
func (t *Tracker) MakeClean(keys ...string) {
	if len(keys) == 0 {
		t.dirty = nil
		return
	}
	for _, k := range keys {
		delete(t.dirty, k)
	}
}

// IsDirty reports whether key changed.
func (t *Tracker) IsDirty(key string) bool {
	_, ok := t.dirty[key]
	return ok
}

// Mutations returns the changed keys in sorted order.
func (t *Tracker) Mutations() []string {
	keys := make([]string, 0, len(t.dirty))
	for k := range t.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// trackerOf returns the tracker of a struct value, when it has one.
func trackerOf(rv reflect.Value) Trackable {
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() != reflect.Pointer && rv.CanAddr() {
		rv = rv.Addr()
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	if t, ok := rv.Interface().(Trackable); ok {
		return t
	}
	return nil
}

// Assign sets the selected field of doc and marks it dirty.
//
// Example:
//
//	core.Assign(post, func(p *Post) *string { return &p.Title }, "Hello")
func Assign[T any, F any](doc *T, selector func(*T) *F, value F) error {
	def, err := DefinitionOf[T]()
	if err != nil {
		return err
	}
	*selector(doc) = value
	if t, ok := any(doc).(Trackable); ok {
		t.MarkDirty(keyFromSelector[T](def, selector))
	}
	return nil
}
