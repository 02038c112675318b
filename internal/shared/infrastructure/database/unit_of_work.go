package database

import (
	"context"
	"errors"
)

// ErrNoTransaction is returned when Commit or Rollback run outside Begin.
var ErrNoTransaction = errors.New("no transaction in context")

// UnitOfWork opens one transaction per logical operation. A Begin inside an
// existing unit joins the outer transaction; only the outermost unit commits.
type UnitOfWork struct {
	conn Connection
}

// NewUnitOfWork creates a unit of work over conn.
func NewUnitOfWork(conn Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn}
}

// Begin starts or joins a transaction.
func (u *UnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	if scope, ok := scopeFromContext(ctx); ok {
		return WithTx(ctx, scope.tx, false), nil
	}

	tx, err := u.conn.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return WithTx(ctx, tx, true), nil
}

// Commit commits when this unit opened the transaction.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !scope.owner {
		return nil
	}
	return scope.tx.Commit(ctx)
}

// Rollback rolls back when this unit opened the transaction. A nested unit
// returning an error still aborts the whole operation because the outer
// unit sees the error and rolls back.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !scope.owner {
		return nil
	}
	return scope.tx.Rollback(ctx)
}
