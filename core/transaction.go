// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines transaction management: a session carried in a
// context.Context, a Context bound to one session and an ergonomic callback
// helper.
package core

import "context"

// sessionKey is an unexported type used as the key for storing a Session in
// a context.Context.
type sessionKey struct{}

// WithSession injects s into ctx and binds ctx to it, so that every driver
// call made with the returned context joins the session's transaction.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(s.Context(ctx), sessionKey{}, s)
}

// SessionFrom extracts the Session from ctx, if any.
func SessionFrom(ctx context.Context) Session {
	if v, ok := ctx.Value(sessionKey{}).(Session); ok {
		return v
	}
	return nil
}

// Transaction is a Context bound to a session. Operations run through it
// join the transaction; hooks and middlewares of the parent are inherited.
type Transaction struct {
	*Context
}

// StartTransaction opens a session on the driver and returns a Context
// bound to it. It fails with ErrSessionActive when c is already bound.
func (c *Context) StartTransaction(ctx context.Context, opts *TransactionOptions) (*Transaction, error) {
	if c.session != nil {
		return nil, ErrSessionActive
	}
	s, err := c.driver.StartSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	clone := *c
	clone.session = s
	c.logger.Debug().Str("context", c.id.String()).Msg("transaction started")
	return &Transaction{Context: &clone}, nil
}

// Commit commits the transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.session == nil {
		return ErrNoSession
	}
	return t.session.Commit(ctx)
}

// Abort aborts the transaction.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.session == nil {
		return ErrNoSession
	}
	return t.session.Abort(ctx)
}

// End releases the session. It must be called once the transaction is
// committed or aborted; the Transaction cannot be used afterwards.
func (t *Transaction) End(ctx context.Context) error {
	if t.session == nil {
		return ErrNoSession
	}
	t.session.End(ctx)
	t.session = nil
	return nil
}

// TransactionFunc is the callback signature used for ergonomic transactions.
//
// If the function returns an error, the transaction is aborted.
// If it returns nil, the transaction is committed.
type TransactionFunc func(ctx context.Context, tx *Transaction) error

// RunTransaction executes fn inside a transaction, handling commit and abort
// automatically. The session is ended on every path.
//
// Example:
//
//	err := core.RunTransaction(ctx, db, nil, func(ctx context.Context, tx *core.Transaction) error {
//	    if _, err := users.With(tx.Context).InsertOne(ctx, &user, nil); err != nil {
//	        return err
//	    }
//	    _, err := posts.With(tx.Context).InsertOne(ctx, &post, nil)
//	    return err
//	})
func RunTransaction(ctx context.Context, c *Context, opts *TransactionOptions, fn TransactionFunc) (err error) {
	tx, err := c.StartTransaction(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.End(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	return tx.Commit(ctx)
}
