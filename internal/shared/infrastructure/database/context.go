package database

import "context"

type txKey struct{}

// txScope is the transaction carried in a context. owner is false for
// nested units that joined an outer transaction.
type txScope struct {
	tx    Transaction
	owner bool
}

// WithTx returns a context carrying tx.
func WithTx(ctx context.Context, tx Transaction, owner bool) context.Context {
	return context.WithValue(ctx, txKey{}, txScope{tx: tx, owner: owner})
}

func scopeFromContext(ctx context.Context) (txScope, bool) {
	scope, ok := ctx.Value(txKey{}).(txScope)
	if !ok || scope.tx == nil {
		return txScope{}, false
	}
	return scope, true
}

// TxFromContext returns the transaction in ctx, or nil.
func TxFromContext(ctx context.Context) Transaction {
	scope, _ := scopeFromContext(ctx)
	return scope.tx
}

// ExecutorFromContext returns the active transaction if there is one,
// otherwise the pooled connection.
func ExecutorFromContext(ctx context.Context, conn Connection) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return conn
}
