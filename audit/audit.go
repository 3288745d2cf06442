// Package audit records insert, update and delete operations performed
// through a core.Context into an audit log.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uon-team/db/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Op is the kind of change recorded by an Entry.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// DefaultCollection is the collection audit entries are written to.
const DefaultCollection = "audit_logs"

// Entry is one audit log record.
type Entry struct {
	TraceID    string             `bson:"traceId" json:"traceId"`
	UserID     primitive.ObjectID `bson:"userId" json:"userId"`
	Metadata   map[string]any     `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Collection string             `bson:"collection" json:"collection"`
	OID        any                `bson:"oid" json:"oid"`
	Op         Op                 `bson:"op" json:"op"`
	OpData     any                `bson:"opData" json:"opData"`
	Options    any                `bson:"options,omitempty" json:"options,omitempty"`
	CreatedOn  time.Time          `bson:"createdOn" json:"createdOn"`
	ExpiresOn  *time.Time         `bson:"expiresOn,omitempty" json:"expiresOn,omitempty"`
}

// Store persists audit entries.
type Store interface {
	Write(ctx context.Context, entries ...Entry) error
	// List returns the entries recorded for one document, oldest first.
	List(ctx context.Context, collection string, oid any) ([]Entry, error)
}

// Hook is a core.Hook writing an Entry for every document inserted, updated
// or deleted by a Context.
type Hook struct {
	userID   primitive.ObjectID
	metadata map[string]any
	store    Store
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

var _ core.Hook = (*Hook)(nil)

// Option configures a Hook.
type Option func(*Hook)

// WithMetadata attaches metadata to every entry.
func WithMetadata(metadata map[string]any) Option {
	return func(h *Hook) { h.metadata = metadata }
}

// WithTTL sets the expiry of entries.
func WithTTL(ttl time.Duration) Option {
	return func(h *Hook) { h.ttl = ttl }
}

// WithLogger sets the logger of the hook.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hook) { h.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hook) { h.now = now }
}

// NewHook creates a Hook recording changes made on behalf of userID, which
// must be a valid hex object id.
func NewHook(userID string, store Store, opts ...Option) (*Hook, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, core.InvalidIDError{Value: userID}
	}
	h := &Hook{
		userID: oid,
		store:  store,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Hooks implements core.Hook.
func (h *Hook) Hooks() map[core.Operation]core.HookFunc {
	return map[core.Operation]core.HookFunc{
		core.OperationInsertOne:  h.insertOne,
		core.OperationInsertMany: h.insertMany,
		core.OperationUpdateOne:  h.updateOne,
		core.OperationUpdateMany: h.updateMany,
		core.OperationDeleteOne:  h.deleteOne,
		core.OperationDeleteMany: h.deleteMany,
	}
}

func (h *Hook) entry(params *core.HookParams, op Op, oid any, data any) Entry {
	now := h.now()
	e := Entry{
		TraceID:    uuid.NewString(),
		UserID:     h.userID,
		Metadata:   h.metadata,
		Collection: params.Definition.Collection,
		OID:        oid,
		Op:         op,
		OpData:     data,
		Options:    params.Options,
		CreatedOn:  now,
	}
	if h.ttl > 0 {
		expires := now.Add(h.ttl)
		e.ExpiresOn = &expires
	}
	return e
}

func (h *Hook) write(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := h.store.Write(ctx, entries...); err != nil {
		h.logger.Error().Err(err).Int("entries", len(entries)).Msg("audit write failed")
		return err
	}
	return nil
}

func (h *Hook) insertOne(ctx context.Context, params *core.HookParams) error {
	result, ok := params.Result.(*core.InsertOneResult)
	if !ok || result.InsertedID == nil || len(params.Data) == 0 {
		return nil
	}
	return h.write(ctx, h.entry(params, OpInsert, result.InsertedID, params.Data[0]))
}

func (h *Hook) insertMany(ctx context.Context, params *core.HookParams) error {
	result, ok := params.Result.(*core.InsertManyResult)
	if !ok || len(result.InsertedIDs) < 1 {
		return nil
	}
	entries := make([]Entry, 0, len(params.Data))
	for i, d := range params.Data {
		if i >= len(result.InsertedIDs) {
			break
		}
		entries = append(entries, h.entry(params, OpInsert, result.InsertedIDs[i], d))
	}
	return h.write(ctx, entries...)
}

func (h *Hook) updateOne(ctx context.Context, params *core.HookParams) error {
	result, ok := params.Result.(*core.UpdateResult)
	if !ok || result.ModifiedCount < 1 {
		return nil
	}
	op, err := json.Marshal(params.Update)
	if err != nil {
		return err
	}
	var prev any
	if len(params.Previous) > 0 {
		prev = params.Previous[0]
	}
	data := bson.M{"_op": string(op), "prev": prev}
	return h.write(ctx, h.entry(params, OpUpdate, params.Query[core.StoreIDKey], data))
}

func (h *Hook) updateMany(ctx context.Context, params *core.HookParams) error {
	result, ok := params.Result.(*core.UpdateResult)
	if !ok || result.ModifiedCount < 1 {
		return nil
	}
	op, err := json.Marshal(params.Update)
	if err != nil {
		return err
	}
	entries := make([]Entry, 0, len(params.Previous))
	for _, d := range params.Previous {
		data := bson.M{"_op": string(op), "prev": d}
		entries = append(entries, h.entry(params, OpUpdate, storeID(d), data))
	}
	return h.write(ctx, entries...)
}

func (h *Hook) deleteOne(ctx context.Context, params *core.HookParams) error {
	if len(params.Previous) == 0 {
		return nil
	}
	d := params.Previous[0]
	return h.write(ctx, h.entry(params, OpDelete, storeID(d), d))
}

func (h *Hook) deleteMany(ctx context.Context, params *core.HookParams) error {
	result, ok := params.Result.(*core.DeleteResult)
	if !ok || result.DeletedCount < 1 {
		return nil
	}
	entries := make([]Entry, 0, len(params.Previous))
	for _, d := range params.Previous {
		entries = append(entries, h.entry(params, OpDelete, storeID(d), d))
	}
	return h.write(ctx, entries...)
}

func storeID(doc any) any {
	if m, ok := doc.(bson.M); ok {
		return m[core.StoreIDKey]
	}
	return nil
}
