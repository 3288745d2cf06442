// Package driver provides the MongoDB implementation of core.Driver.
// This file defines the mongoSession type, which adapts MongoDB sessions
// to the core.Session interface used by the mapper.
package driver

import (
	"context"

	"github.com/uon-team/db/core"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// mongoSession wraps a MongoDB session carrying one transaction.
type mongoSession struct {
	session mongo.Session
}

// Context binds ctx to the session so that collection calls join the
// transaction.
func (s *mongoSession) Context(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.session)
}

// Commit makes all changes performed during the session permanent.
func (s *mongoSession) Commit(ctx context.Context) error {
	return s.session.CommitTransaction(ctx)
}

// Abort discards all changes performed during the session.
func (s *mongoSession) Abort(ctx context.Context) error {
	return s.session.AbortTransaction(ctx)
}

// End releases the session. An uncommitted transaction is aborted.
func (s *mongoSession) End(ctx context.Context) {
	s.session.EndSession(ctx)
}

func transactionOptions(opts *core.TransactionOptions) *mopt.TransactionOptions {
	out := mopt.Transaction()
	if opts != nil && opts.MaxCommitTime > 0 {
		d := opts.MaxCommitTime
		out.SetMaxCommitTime(&d)
	}
	return out
}
