// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines operation hooks: callbacks invoked after a storage
// primitive completes, keyed by operation name.
package core

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// HookParams is the payload handed to hooks. Only the fields relevant to the
// operation are populated.
type HookParams struct {
	Operation  Operation
	Definition *Definition
	// Options is the options struct given to the operation, e.g. *FindOptions.
	Options any
	// Query is the normalized filter.
	Query Query
	// Update is the normalized update operator document.
	Update Update
	// Pipeline is the stage list of an aggregate or watch.
	Pipeline []bson.M
	// Data holds the inserted documents in stored form.
	Data []any
	// Target is the instance an instance-based operation was called with.
	Target any
	// Previous holds the documents matched before an update or delete, in
	// stored form. It is only fetched when a hook is registered.
	Previous []any
	// Result is the driver result, or the inflated documents of a read.
	Result any
}

// HookFunc is called after an operation with its parameters.
type HookFunc func(ctx context.Context, params *HookParams) error

// Hook is implemented by hook types that handle several operations. Hooks
// returns the callbacks it implements, keyed by operation.
type Hook interface {
	Hooks() map[Operation]HookFunc
}

// HookRegistry holds the hooks of a Context.
type HookRegistry struct {
	mutex    sync.RWMutex
	handlers map[Operation][]HookFunc
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{handlers: make(map[Operation][]HookFunc)}
}

// On registers fn for op.
//
// Example:
//
//	hooks.On(core.OperationInsertOne, func(ctx context.Context, p *core.HookParams) error {
//	    log.Printf("inserted into %s", p.Definition.Collection)
//	    return nil
//	})
func (r *HookRegistry) On(op Operation, fn HookFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers[op] = append(r.handlers[op], fn)
}

// Register adds every callback implemented by hook.
func (r *HookRegistry) Register(hook Hook) {
	for op, fn := range hook.Hooks() {
		if fn != nil {
			r.On(op, fn)
		}
	}
}

// Has reports whether at least one hook is registered for op.
func (r *HookRegistry) Has(op Operation) bool {
	if r == nil {
		return false
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.handlers[op]) > 0
}

// invoke runs the hooks registered for params.Operation concurrently and
// waits for all of them. The first error is returned.
func (r *HookRegistry) invoke(ctx context.Context, params *HookParams) error {
	if r == nil {
		return nil
	}
	r.mutex.RLock()
	handlers := append([]HookFunc(nil), r.handlers[params.Operation]...)
	r.mutex.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			return h(gctx, params)
		})
	}
	return g.Wait()
}
