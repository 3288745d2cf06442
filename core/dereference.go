package core

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// DereferenceOptions controls Dereference.
type DereferenceOptions struct {
	// AssignNullToMissingDocument replaces a reference whose target does not
	// exist with nil (or the zero value). When false the stub is kept.
	// Defaults to true.
	AssignNullToMissingDocument *bool
}

func (o *DereferenceOptions) assignNull() bool {
	if o == nil || o.AssignNullToMissingDocument == nil {
		return true
	}
	return *o.AssignNullToMissingDocument
}

// refBatch gathers the ids referenced by the documents for one target type.
type refBatch struct {
	target     *Definition
	ids        []string
	seen       map[string]struct{}
	projection Projection
	fullDoc    bool
	resolved   map[string]reflect.Value
}

func (b *refBatch) add(id string) {
	if _, ok := b.seen[id]; ok {
		return
	}
	b.seen[id] = struct{}{}
	b.ids = append(b.ids, id)
}

// Dereference replaces the reference stubs held by documents with the
// documents they point to. documents is a slice of models (or pointers to
// models) or a single pointer to a model, and is modified in place.
//
// projections selects the reference members to resolve, keyed by member
// key, with the projection to apply to the target documents; an empty
// projection loads the whole document. Keys that are not reference members
// are ignored.
//
// One find is issued per referenced type, concurrently across types. Array
// references keep their order. A target that does not exist is replaced by
// nil unless opts disables it. Resolved members are marked clean.
func (c *Context) Dereference(ctx context.Context, documents any, projections map[string]Projection, opts *DereferenceOptions) error {
	docs, elemType, err := documentValues(documents)
	if err != nil || len(docs) == 0 {
		return err
	}
	def, err := Resolve(elemType)
	if err != nil {
		return err
	}

	var members []*Member
	for _, m := range def.Members {
		if _, ok := projections[m.Key]; ok && m.IsReference {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		return nil
	}

	batches := map[reflect.Type]*refBatch{}
	order := []*refBatch{}
	batchOf := func(m *Member) *refBatch {
		b, ok := batches[m.ValueType]
		if !ok {
			b = &refBatch{target: m.Target(), seen: map[string]struct{}{}}
			batches[m.ValueType] = b
			order = append(order, b)
		}
		return b
	}

	for _, m := range members {
		b := batchOf(m)
		if b.target == nil {
			return SchemaNotFoundError{Type: m.ValueType, Reason: "reference target"}
		}
		if p := projections[m.Key]; len(p) == 0 {
			b.fullDoc = true
		} else {
			if b.projection == nil {
				b.projection = Projection{}
			}
			for k, v := range p {
				b.projection[k] = v
			}
		}
		for _, doc := range docs {
			eachRef(doc.FieldByIndex(m.Index), m.IsArray, func(ref reflect.Value) {
				if id, ok := canonicalID(ref.Interface(), b.target.ID); ok {
					b.add(id)
				}
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range order {
		if len(b.ids) == 0 {
			continue
		}
		b := b
		g.Go(func() error {
			return c.resolveBatch(gctx, b)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	assignNull := opts.assignNull()
	for _, m := range members {
		b := batches[m.ValueType]
		for _, doc := range docs {
			eachRef(doc.FieldByIndex(m.Index), m.IsArray, func(ref reflect.Value) {
				id, ok := canonicalID(ref.Interface(), b.target.ID)
				if !ok {
					return
				}
				if found, ok := b.resolved[id]; ok {
					assignResolved(ref, found)
				} else if assignNull {
					ref.Set(reflect.Zero(ref.Type()))
				}
			})
			if t := trackerOf(doc); t != nil {
				t.MakeClean(m.Key)
			}
		}
	}
	return nil
}

// resolveBatch loads the documents of b with a single $in find.
func (c *Context) resolveBatch(ctx context.Context, b *refBatch) error {
	ids := make([]any, len(b.ids))
	for i, id := range b.ids {
		ids[i] = id
	}
	var findOpts *FindOptions
	if !b.fullDoc && b.projection != nil {
		findOpts = &FindOptions{Projection: b.projection}
	}
	found, err := c.Find(ctx, b.target, Query{StoreIDKey: bson.M{"$in": ids}}, findOpts)
	if err != nil {
		return err
	}
	b.resolved = make(map[string]reflect.Value, len(found))
	for _, doc := range found {
		id, ok := canonicalID(doc[b.target.ID.Key], b.target.ID)
		if !ok {
			continue
		}
		out := reflect.New(b.target.Type)
		if err := deserialize(doc, out.Interface()); err != nil {
			return err
		}
		b.resolved[id] = out
	}
	return nil
}

// documentValues returns the addressable struct values held by documents.
func documentValues(documents any) ([]reflect.Value, reflect.Type, error) {
	rv := reflect.ValueOf(documents)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil, nil
		}
		if rv.Elem().Kind() == reflect.Struct {
			return []reflect.Value{rv.Elem()}, rv.Elem().Type(), nil
		}
		if rv.Elem().Kind() == reflect.Slice {
			return documentValues(rv.Elem().Interface())
		}
	case reflect.Slice:
		elemType := indirectType(rv.Type().Elem())
		if elemType.Kind() != reflect.Struct {
			break
		}
		out := make([]reflect.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if v, ok := embeddedValue(rv.Index(i)); ok {
				out = append(out, v)
			}
		}
		return out, elemType, nil
	}
	return nil, nil, fmt.Errorf("dereference: unsupported documents type %T", documents)
}

// eachRef calls fn with every settable reference slot of field.
func eachRef(field reflect.Value, isArray bool, fn func(reflect.Value)) {
	if !isArray {
		fn(field)
		return
	}
	for field.Kind() == reflect.Pointer {
		if field.IsNil() {
			return
		}
		field = field.Elem()
	}
	if field.Kind() != reflect.Slice {
		return
	}
	for i := 0; i < field.Len(); i++ {
		fn(field.Index(i))
	}
}

// assignResolved stores the resolved *Target into slot, which holds either a
// pointer to the target or the target value.
func assignResolved(slot, resolved reflect.Value) {
	switch {
	case resolved.Type().AssignableTo(slot.Type()):
		slot.Set(resolved)
	case resolved.Elem().Type().AssignableTo(slot.Type()):
		slot.Set(resolved.Elem())
	case slot.Kind() == reflect.Interface:
		slot.Set(resolved)
	}
}
