// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines the middleware system, which allows cross-cutting concerns
// (logging, metrics, tracing) to be applied to facade operations.
package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Operation names a facade operation. Hooks and middlewares are keyed by it.
type Operation string

const (
	OperationCount      Operation = "count"
	OperationFindOne    Operation = "findOne"
	OperationFind       Operation = "find"
	OperationInsertOne  Operation = "insertOne"
	OperationInsertMany Operation = "insertMany"
	OperationUpdateOne  Operation = "updateOne"
	OperationUpdateMany Operation = "updateMany"
	OperationDeleteOne  Operation = "deleteOne"
	OperationDeleteMany Operation = "deleteMany"
	OperationAggregate  Operation = "aggregate"
	OperationWatch      Operation = "watch"
)

// Handler is the function signature executed by the operation pipeline.
//
// It receives a context, the operation and the definition of the model it
// targets. Handlers are composed by middlewares to add cross-cutting logic.
type Handler func(ctx context.Context, op Operation, def *Definition) error

// Middleware is a function that wraps a Handler with additional logic.
// They follow the decorator pattern.
type Middleware func(next Handler) Handler

// chain applies middlewares to the final handler. Middlewares run in
// registration order, the first one being the outermost.
func chain(middlewares []Middleware, final Handler) Handler {
	h := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// LoggerMiddleware logs all operations passing through a Context.
//
// It measures execution time and logs success at debug level and failures
// at error level.
//
// Example:
//
//	ctx := core.NewContext(driver, core.WithMiddleware(core.LoggerMiddleware(log.Logger)))
func LoggerMiddleware(logger zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, def *Definition) error {
			start := time.Now()
			err := next(ctx, op, def)
			event := logger.Debug()
			if err != nil {
				event = logger.Error().Err(err)
			}
			event.
				Str("op", string(op)).
				Str("collection", def.Collection).
				Dur("took", time.Since(start)).
				Msg("db operation")
			return err
		}
	}
}
