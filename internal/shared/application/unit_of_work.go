package application

import (
	"context"
	"errors"
)

// UnitOfWork scopes a group of repository calls to one transaction.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWorkFunc runs inside a unit of work with the transactional context.
type UnitOfWorkFunc func(ctx context.Context) error

// WithUnitOfWork runs fn in a transaction, committing on success and rolling
// back on any error returned by fn.
func WithUnitOfWork(ctx context.Context, uow UnitOfWork, fn UnitOfWorkFunc) error {
	txCtx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(txCtx); err != nil {
		_ = uow.Rollback(txCtx)
		return err
	}

	return uow.Commit(txCtx)
}

// ErrAttemptsExhausted is returned by WithUnitOfWorkRetry when every attempt
// failed with a retryable error.
var ErrAttemptsExhausted = errors.New("unit of work attempts exhausted")

// WithUnitOfWorkRetry reruns the whole unit of work while fn fails with an
// error accepted by retryable. Each attempt gets a fresh transaction, so a
// constraint violation that aborted the previous one does not leak into the next.
func WithUnitOfWorkRetry(ctx context.Context, uow UnitOfWork, attempts int, retryable func(error) bool, fn UnitOfWorkFunc) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = WithUnitOfWork(ctx, uow, fn)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return errors.Join(ErrAttemptsExhausted, lastErr)
}
