package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type (
	readOnlyKey struct{}
	snapshotKey struct{}
)

// WithReadOnly marks ctx so Tx opens a READ ONLY transaction
func WithReadOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, true)
}

// IsReadOnly reports whether ctx asks for a READ ONLY transaction
func IsReadOnly(ctx context.Context) bool {
	b, _ := ctx.Value(readOnlyKey{}).(bool)
	return b
}

func isSnapshot(ctx context.Context) bool {
	b, _ := ctx.Value(snapshotKey{}).(bool)
	return b
}

// RunReadOnly calls fn in a READ ONLY transaction. Lookups that must not
// assign surrogates or mappings run this way
func RunReadOnly(ctx context.Context, tx TxRunner, fn func(ctx context.Context, q RowQuerier) error) error {
	ctx = WithReadOnly(ctx)
	return tx.Tx(ctx, func(q RowQuerier) error { return fn(ctx, q) })
}

// RunSnapshot calls fn in a READ ONLY REPEATABLE READ transaction so audits
// and progress reports see one consistent view across statements
func RunSnapshot(ctx context.Context, tx TxRunner, fn func(ctx context.Context, q RowQuerier) error) error {
	ctx = context.WithValue(WithReadOnly(ctx), snapshotKey{}, true)
	return tx.Tx(ctx, func(q RowQuerier) error { return fn(ctx, q) })
}

func txOptions(ctx context.Context) pgx.TxOptions {
	var o pgx.TxOptions
	if IsReadOnly(ctx) {
		o.AccessMode = pgx.ReadOnly
	}
	if isSnapshot(ctx) {
		o.IsoLevel = pgx.RepeatableRead
	}
	return o
}
