package database

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrNoTransaction is returned by Commit and Rollback outside Begin.
var ErrNoTransaction = errors.New("no transaction in context")

type txKey struct{}

// txScope is the transaction carried by a context. Only the scope that began
// the transaction owns it; nested scopes commit and roll back as no-ops.
type txScope struct {
	tx    Transaction
	owner bool
}

func scopeFrom(ctx context.Context) (txScope, bool) {
	s, ok := ctx.Value(txKey{}).(txScope)
	return s, ok && s.tx != nil
}

// InTransaction reports whether ctx carries a transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := scopeFrom(ctx)
	return ok
}

// ExecutorFromContext returns the context's transaction, or conn outside one.
// Repositories call it so a sync record and its outbox message share a commit.
func ExecutorFromContext(ctx context.Context, conn Connection) Executor {
	if s, ok := scopeFrom(ctx); ok {
		return s.tx
	}
	return conn
}

// UnitOfWork scopes a transaction to a context.
type UnitOfWork struct {
	conn Connection
}

// NewUnitOfWork creates a unit of work over conn.
func NewUnitOfWork(conn Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn}
}

// Begin starts a transaction, or joins the one already in ctx.
func (u *UnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	if s, ok := scopeFrom(ctx); ok {
		return context.WithValue(ctx, txKey{}, txScope{tx: s.tx}), nil
	}

	tx, err := u.conn.BeginTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return context.WithValue(ctx, txKey{}, txScope{tx: tx, owner: true}), nil
}

// Commit commits the transaction if this scope began it.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	s, ok := scopeFrom(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !s.owner {
		return nil
	}
	return s.tx.Commit(ctx)
}

// Rollback rolls back the transaction if this scope began it.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	s, ok := scopeFrom(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !s.owner {
		return nil
	}
	return s.tx.Rollback(ctx)
}
