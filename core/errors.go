package core

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrSessionActive is returned when a transaction is started on a Context
	// that already owns a session.
	ErrSessionActive = errors.New("session already started")
	// ErrNoSession is returned when ending a transaction that has no session.
	ErrNoSession = errors.New("no active session started")
	// ErrNotPersistable is returned when a model without a primary key is used
	// as a collection root.
	ErrNotPersistable = errors.New("model has no primary key and cannot be persisted on its own")
)

// SchemaNotFoundError is returned when a type has no declared schema where
// one is required.
type SchemaNotFoundError struct {
	Type   reflect.Type
	Reason string
}

func (e SchemaNotFoundError) Error() string {
	name := "<nil>"
	if e.Type != nil {
		name = e.Type.String()
	}
	if e.Reason == "" {
		return fmt.Sprintf("no schema declared for type %s", name)
	}
	return fmt.Sprintf("no schema declared for type %s: %s", name, e.Reason)
}

// InvalidIDError is returned when a value cannot be parsed into a store id.
type InvalidIDError struct {
	Value any
}

func (e InvalidIDError) Error() string {
	return fmt.Sprintf("invalid id %#v", e.Value)
}

// UnsupportedIDTypeError is returned when a primary key field is neither a
// string nor a primitive.ObjectID.
type UnsupportedIDTypeError struct {
	Type reflect.Type
}

func (e UnsupportedIDTypeError) Error() string {
	return fmt.Sprintf("unsupported id type %v", e.Type)
}

// MissingIdentifierError is returned when an instance-based operation is
// attempted on an instance whose id is not populated.
type MissingIdentifierError struct {
	Type      reflect.Type
	Operation Operation
}

func (e MissingIdentifierError) Error() string {
	return fmt.Sprintf("cannot %s %v without an id", e.Operation, e.Type)
}
