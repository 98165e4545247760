package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// WithTx runs fn in a read-committed transaction and puts the transaction on
// the context handed to fn. When ctx already carries a transaction, fn runs in
// a savepoint of it instead, so writes made from inside a locking callback
// share the connection that holds the lock.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	run := func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx), tx)
	}

	if outer, ok := txFromContext(ctx); ok {
		return pgx.BeginFunc(ctx, outer, run)
	}
	if pool == nil {
		return errors.New("postgres pool is nil")
	}
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, run)
}

func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}
