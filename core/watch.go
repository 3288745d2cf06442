package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// ChangeEvent is one decoded change stream event.
type ChangeEvent[T any] struct {
	OperationType string
	// DocumentID is the id of the changed document in model representation.
	DocumentID any
	// FullDocument is set for inserts, replaces and, with the updateLookup
	// mode, updates.
	FullDocument *T
	// UpdatedFields and RemovedFields describe an update.
	UpdatedFields bson.M
	RemovedFields []string
	Raw           bson.M
}

// ChangeStream yields the change events of a model collection.
//
// Example:
//
//	stream, _ := posts.Watch(ctx, nil, &core.WatchOptions{FullDocument: "updateLookup"})
//	defer stream.Close(ctx)
//	for stream.Next(ctx) {
//	    event, err := stream.Event()
//	    ...
//	}
type ChangeStream[T any] struct {
	cursor Cursor
	def    *Definition
}

// Next waits for the next event. It returns false when the stream is closed
// or failed; check Err.
func (s *ChangeStream[T]) Next(ctx context.Context) bool {
	return s.cursor.Next(ctx)
}

// Event decodes the current event.
func (s *ChangeStream[T]) Event() (*ChangeEvent[T], error) {
	raw := s.cursor.Current()
	event := &ChangeEvent[T]{Raw: raw}
	event.OperationType, _ = raw["operationType"].(string)

	if key, ok := asDoc(raw["documentKey"]); ok {
		if storeID, ok := key[StoreIDKey]; ok && storeID != nil {
			id, err := ToModelID(storeID, s.def.ID)
			if err != nil {
				return nil, err
			}
			event.DocumentID = id
		}
	}

	if full, ok := asDoc(raw["fullDocument"]); ok {
		doc, err := Inflate(s.def, cloneDoc(full))
		if err != nil {
			return nil, err
		}
		out := new(T)
		if err := deserialize(doc, out); err != nil {
			return nil, err
		}
		event.FullDocument = out
	}

	if desc, ok := asDoc(raw["updateDescription"]); ok {
		if updated, ok := asDoc(desc["updatedFields"]); ok {
			event.UpdatedFields = updated
		}
		if removed, ok := asList(desc["removedFields"]); ok {
			for _, r := range removed {
				if key, ok := r.(string); ok {
					event.RemovedFields = append(event.RemovedFields, key)
				}
			}
		}
	}
	return event, nil
}

// Err returns the error that stopped the stream, if any.
func (s *ChangeStream[T]) Err() error {
	return s.cursor.Err()
}

// Close closes the stream.
func (s *ChangeStream[T]) Close(ctx context.Context) error {
	return s.cursor.Close(ctx)
}
