// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines the schema system, which maps Go structs to collections,
// describes their members and references, and resolves definitions lazily.
package core

import (
	"reflect"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDKind is the in-memory representation of a model primary key.
type IDKind int

const (
	// IDUnsupported marks a primary key field whose Go type cannot hold an id.
	IDUnsupported IDKind = iota
	// IDString holds the id as its canonical hex string.
	IDString
	// IDNative holds the id as a primitive.ObjectID.
	IDNative
)

// StoreIDKey is the name of the primary key field in stored documents.
const StoreIDKey = "_id"

var (
	objectIDType = reflect.TypeOf(primitive.ObjectID{})
	stringType   = reflect.TypeOf("")
	trackerType  = reflect.TypeOf(Tracker{})
)

// Field represents a struct field as declared to the schema builder.
type Field struct {
	StructFieldName string       // Name of the field in the Go struct
	Key             string       // Name of the field in stored documents
	Type            reflect.Type // Go type of the field
	Index           []int        // reflect index path
	MemoryOffset    uintptr      // Memory offset within the struct
	IsPrimaryKey    bool
	IsUnique        bool

	// Special timestamp markers
	IsCreatedAt bool
	IsUpdatedAt bool
}

// FieldOption is a function used to configure a Field.
type FieldOption func(*Field)

// PrimaryKey marks the field as the model primary key.
func PrimaryKey() FieldOption {
	return func(f *Field) { f.IsPrimaryKey = true }
}

// Unique declares a single-field unique index on the field.
func Unique() FieldOption {
	return func(f *Field) { f.IsUnique = true }
}

// CreatedAt marks the field as the createdAt timestamp.
func CreatedAt() FieldOption {
	return func(f *Field) { f.IsCreatedAt = true }
}

// UpdatedAt marks the field as the updatedAt timestamp.
func UpdatedAt() FieldOption {
	return func(f *Field) { f.IsUpdatedAt = true }
}

// Namespace locates a collection in the store.
type Namespace struct {
	Database   string
	Collection string
}

// Declaration is the schema attached to a Go type by Declare.
type Declaration struct {
	Type      reflect.Type
	Namespace Namespace
	Fields    []*Field
	Indexes   []IndexDefinition

	primaryKey *Field
	createdAt  *Field
	updatedAt  *Field
}

// SchemaBuilder collects field metadata using reflection and applies
// customization through SchemaOptions.
type SchemaBuilder[T any] struct {
	namespace      Namespace
	structType     reflect.Type
	fields         []*Field
	fieldsByOffset map[uintptr]*Field
	indexes        []IndexDefinition
}

// SchemaOption represents a function that customizes the schema builder.
type SchemaOption[T any] func(*SchemaBuilder[T])

// Collection sets the collection name for the schema.
func Collection[T any](name string) SchemaOption[T] {
	return func(schemaBuilder *SchemaBuilder[T]) { schemaBuilder.namespace.Collection = name }
}

// Database sets the database name for the schema. Empty means the driver
// default.
func Database[T any](name string) SchemaOption[T] {
	return func(schemaBuilder *SchemaBuilder[T]) { schemaBuilder.namespace.Database = name }
}

// Index declares an index on the collection.
func Index[T any](index IndexDefinition) SchemaOption[T] {
	return func(schemaBuilder *SchemaBuilder[T]) {
		if schemaBuilder.fields == nil {
			return
		}
		schemaBuilder.indexes = append(schemaBuilder.indexes, index)
	}
}

// OverrideField allows modifying the metadata of a specific field
// (e.g., making it the primary key).
func OverrideField[T any, F any](selector func(*T) *F, opts ...FieldOption) SchemaOption[T] {
	return func(schemaBuilder *SchemaBuilder[T]) {
		if schemaBuilder.fields == nil {
			return
		}
		offset := offsetOf(selector)
		field, ok := schemaBuilder.fieldsByOffset[offset]
		if !ok {
			panic("core: OverrideField: field not found by selector")
		}
		for _, opt := range opts {
			opt(field)
		}
	}
}

var declarations sync.Map // reflect.Type -> *Declaration

// Declare attaches a schema to T. Schemas are immutable once declared and
// must be declared before the first resolution of any type that uses T.
//
// Example:
//
//	var _ = core.Declare[User](
//	    core.Collection[User]("users"),
//	    core.OverrideField(func(u *User) *string { return &u.ID }, core.PrimaryKey()),
//	)
func Declare[T any](options ...SchemaOption[T]) *Declaration {
	var zero T
	structType := reflect.TypeOf(zero)
	if structType == nil || structType.Kind() == reflect.Pointer {
		panic("core: Declare: type parameter must be a struct type")
	}
	if structType.Kind() != reflect.Struct {
		panic("core: Declare: type parameter must be a struct type")
	}

	builder := &SchemaBuilder[T]{structType: structType}

	// first pass picks up namespace options; field options need fields
	for _, option := range options {
		option(builder)
	}

	builder.fieldsByOffset = make(map[uintptr]*Field)
	builder.fields = []*Field{}
	for _, sf := range reflect.VisibleFields(structType) {
		if len(sf.Index) > 1 || !sf.IsExported() || sf.Type == trackerType {
			continue
		}
		key, skip := bsonKey(sf)
		if skip {
			continue
		}
		field := &Field{
			StructFieldName: sf.Name,
			Key:             key,
			Type:            sf.Type,
			Index:           sf.Index,
			MemoryOffset:    sf.Offset,
		}
		builder.fields = append(builder.fields, field)
		builder.fieldsByOffset[sf.Offset] = field
	}

	// re-apply options so that OverrideField and Index work now that fields exist
	for _, option := range options {
		option(builder)
	}

	declaration := &Declaration{
		Type:      structType,
		Namespace: builder.namespace,
		Fields:    builder.fields,
		Indexes:   builder.indexes,
	}
	for _, f := range builder.fields {
		if f.IsPrimaryKey {
			declaration.primaryKey = f
		}
		if f.IsCreatedAt {
			declaration.createdAt = f
		}
		if f.IsUpdatedAt {
			declaration.updatedAt = f
		}
		if f.IsUnique {
			declaration.Indexes = append(declaration.Indexes, IndexDefinition{
				Name:   f.Key + "_1",
				Fields: []IndexField{{Key: f.Key, Type: IndexAsc}},
				Unique: true,
			})
		}
	}
	if declaration.primaryKey != nil && declaration.Namespace.Collection == "" {
		panic("core: Declare: a model with a primary key requires a collection (see Collection)")
	}

	declarations.Store(structType, declaration)
	return declaration
}

// bsonKey returns the document key the bson codec uses for the field.
func bsonKey(sf reflect.StructField) (string, bool) {
	tag, ok := sf.Tag.Lookup("bson")
	if !ok {
		return strings.ToLower(sf.Name), false
	}
	name := strings.Split(tag, ",")[0]
	if name == "-" {
		return "", true
	}
	if name == "" {
		return strings.ToLower(sf.Name), false
	}
	return name, false
}

func lookupDeclaration(t reflect.Type) *Declaration {
	if v, ok := declarations.Load(t); ok {
		return v.(*Declaration)
	}
	return nil
}

// IDMeta describes the primary key of a model.
type IDMeta struct {
	Key       string       // key in the in-memory document form
	FieldName string       // Go struct field name
	Index     []int        // reflect index path
	Type      reflect.Type // Go type of the field
	Kind      IDKind
	Owner     reflect.Type // model type owning the id
}

// Member is a declared field of a model.
type Member struct {
	Key       string
	FieldName string
	Index     []int
	Type      reflect.Type // declared Go type
	ValueType reflect.Type // element type with pointers and slices stripped
	IsArray   bool

	// IsModel is set when ValueType has a declared schema.
	IsModel bool
	// IsReference is set when ValueType has a declared primary key.
	IsReference bool
}

// IsEmbedded reports whether the member is an inlined sub-model.
func (m *Member) IsEmbedded() bool {
	return m.IsModel && !m.IsReference
}

// Target resolves the definition of the member value type. It returns nil
// for plain members.
func (m *Member) Target() *Definition {
	if !m.IsModel {
		return nil
	}
	def, _ := ResolveLenient(m.ValueType)
	return def
}

// Definition is the resolved, cached description of a model type.
type Definition struct {
	Namespace
	Type    reflect.Type
	ID      *IDMeta
	Members []*Member
	Indexes []IndexDefinition

	membersByKey   map[string]*Member
	membersByField map[string]*Member
	createdAt      *Member
	updatedAt      *Member
}

// Member returns the member stored under key, or nil.
func (d *Definition) Member(key string) *Member {
	return d.membersByKey[key]
}

// References returns the members holding foreign keys.
func (d *Definition) References() []*Member {
	refs := []*Member{}
	for _, m := range d.Members {
		if m.IsReference {
			refs = append(refs, m)
		}
	}
	return refs
}

// IsPersistable reports whether the model can be a collection root.
func (d *Definition) IsPersistable() bool {
	return d.ID != nil && d.Collection != ""
}

var definitions sync.Map // reflect.Type -> *Definition

// Resolve returns the definition for t, building and caching it on first
// use. It fails with SchemaNotFoundError when t has no declared schema.
func Resolve(t reflect.Type) (*Definition, error) {
	t = indirectType(t)
	def, err := ResolveLenient(t)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, SchemaNotFoundError{Type: t}
	}
	return def, nil
}

// ResolveLenient is Resolve for types met only as field values: a missing
// schema yields a nil definition rather than an error.
func ResolveLenient(t reflect.Type) (*Definition, error) {
	t = indirectType(t)
	if v, ok := definitions.Load(t); ok {
		return v.(*Definition), nil
	}
	declaration := lookupDeclaration(t)
	if declaration == nil {
		return nil, nil
	}
	def := buildDefinition(declaration)
	actual, _ := definitions.LoadOrStore(t, def)
	return actual.(*Definition), nil
}

// DefinitionOf resolves the definition of T.
func DefinitionOf[T any]() (*Definition, error) {
	return Resolve(reflect.TypeOf((*T)(nil)).Elem())
}

func buildDefinition(declaration *Declaration) *Definition {
	def := &Definition{
		Namespace:      declaration.Namespace,
		Type:           declaration.Type,
		Indexes:        declaration.Indexes,
		membersByKey:   make(map[string]*Member),
		membersByField: make(map[string]*Member),
	}

	if pk := declaration.primaryKey; pk != nil {
		def.ID = &IDMeta{
			Key:       pk.Key,
			FieldName: pk.StructFieldName,
			Index:     pk.Index,
			Type:      pk.Type,
			Kind:      idKindOf(pk.Type),
			Owner:     declaration.Type,
		}
	}

	for _, f := range declaration.Fields {
		if f.IsPrimaryKey {
			continue
		}
		valueType, isArray := elementType(f.Type)
		member := &Member{
			Key:       f.Key,
			FieldName: f.StructFieldName,
			Index:     f.Index,
			Type:      f.Type,
			ValueType: valueType,
			IsArray:   isArray,
		}
		if target := lookupDeclaration(valueType); target != nil {
			member.IsModel = true
			member.IsReference = target.primaryKey != nil
		}
		def.Members = append(def.Members, member)
		def.membersByKey[member.Key] = member
		def.membersByField[member.FieldName] = member
		if f.IsCreatedAt {
			def.createdAt = member
		}
		if f.IsUpdatedAt {
			def.updatedAt = member
		}
	}
	return def
}

func idKindOf(t reflect.Type) IDKind {
	switch t {
	case stringType:
		return IDString
	case objectIDType:
		return IDNative
	default:
		return IDUnsupported
	}
}

// elementType strips pointers and one level of slice from t.
func elementType(t reflect.Type) (reflect.Type, bool) {
	t = indirectType(t)
	isArray := false
	if t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8 {
		isArray = true
		t = indirectType(t.Elem())
	}
	return t, isArray
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
