// Package dbx holds the pgx plumbing shared by the Postgres stores: a minimal
// query interface and context-scoped transactions.
//
// A transaction started with WithTx travels in the context. Stores resolve
// their handle with Conn, so a store call made inside WithTx joins the
// caller's transaction and a call made outside runs on the pool.
package dbx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx used by the stores.
// *pgxpool.Pool and pgx.Tx both satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// TxFrom returns the transaction carried by ctx, if any.
func TxFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// Conn returns the transaction carried by ctx, or pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return pool
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
//
// If ctx already carries a transaction, a savepoint is used instead, so
// nested calls compose. Panics roll back and are rethrown.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) (err error) {
	var tx pgx.Tx
	if outer, ok := TxFrom(ctx); ok {
		tx, err = outer.Begin(ctx)
	} else {
		tx, err = pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.ReadCommitted,
			AccessMode: pgx.ReadWrite,
		})
	}
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

// Transactor runs units of work on a pgx pool.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor bound to pool.
func NewTransactor(pool *pgxpool.Pool) Transactor {
	return Transactor{pool: pool}
}

// WithinTx implements the facade's unit-of-work contract.
func (t Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, t.pool, fn)
}
