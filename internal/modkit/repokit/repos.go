// Package repokit holds the pieces every SQL repo in the ETL shares: the
// store aliases, repo binding, transaction hooks and identifier helpers
package repokit

import "clinicaletl/internal/platform/store"

type (
	// Queryer runs statements, either on the pool or inside a tx
	Queryer = store.RowQuerier
	// TxRunner opens transactions
	TxRunner = store.TxRunner
	// Rows is a query result set
	Rows = store.Rows
	// Row is a single-row result
	Row = store.Row
	// CommandTag reports affected rows
	CommandTag = store.CommandTag
)

// Binder produces a repo bound to one Queryer, so a service can run the
// same repo on the pool or on the tx of a window
type Binder[T any] interface {
	Bind(q Queryer) T
}

// BindFunc adapts a constructor to Binder
type BindFunc[T any] func(Queryer) T

// Bind implements Binder
func (f BindFunc[T]) Bind(q Queryer) T { return f(q) }
