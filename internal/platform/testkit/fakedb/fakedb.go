// Package fakedb is an in-memory stand-in for store.TxRunner. It carries no SQL
// engine: fake repos bound to its Queryer stage their writes with OnCommit so a
// failing transaction leaves their state untouched
package fakedb

import (
	"context"
	"errors"
	"sync"

	"clinicaletl/internal/platform/store"
)

// ErrNoSQL is returned when code under test issues raw SQL against the fake
var ErrNoSQL = errors.New("fakedb: raw sql is not supported, bind a fake repo")

// TxRunner runs transactions one at a time and records their outcome
type TxRunner struct {
	mu sync.Mutex // serializes transactions

	statsMu   sync.Mutex
	commits   int
	rollbacks int
	readOnly  int
	failures  []error
}

var _ store.TxRunner = (*TxRunner)(nil)

// New returns an empty runner
func New() *TxRunner { return &TxRunner{} }

// FailNext makes the next len(errs) transactions fail with errs in order
// before fn runs
func (r *TxRunner) FailNext(errs ...error) {
	r.statsMu.Lock()
	r.failures = append(r.failures, errs...)
	r.statsMu.Unlock()
}

// Tx runs fn in a staged transaction. Commit hooks fire only when fn returns nil
func (r *TxRunner) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	r.statsMu.Lock()
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		r.rollbacks++
		r.statsMu.Unlock()
		return err
	}
	if store.IsReadOnly(ctx) {
		r.readOnly++
	}
	r.statsMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &Tx{readOnly: store.IsReadOnly(ctx)}
	err := fn(tx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	if err != nil {
		for _, h := range tx.onRollback {
			h()
		}
		r.rollbacks++
		return err
	}
	for _, h := range tx.onCommit {
		h()
	}
	r.commits++
	return nil
}

// Exec implements store.RowQuerier outside a transaction
func (r *TxRunner) Exec(context.Context, string, ...any) (store.CommandTag, error) {
	return nil, ErrNoSQL
}

// Query implements store.RowQuerier outside a transaction
func (r *TxRunner) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, ErrNoSQL
}

// QueryRow implements store.RowQuerier outside a transaction
func (r *TxRunner) QueryRow(context.Context, string, ...any) store.Row {
	return errRow{}
}

// Commits returns the number of committed transactions
func (r *TxRunner) Commits() int {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.commits
}

// Rollbacks returns the number of rolled back transactions
func (r *TxRunner) Rollbacks() int {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.rollbacks
}

// ReadOnly returns the number of transactions opened read only
func (r *TxRunner) ReadOnly() int {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.readOnly
}

// Tx is the Queryer handed to fn inside TxRunner.Tx
type Tx struct {
	readOnly   bool
	onCommit   []func()
	onRollback []func()
}

// Exec implements store.RowQuerier
func (*Tx) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, ErrNoSQL }

// Query implements store.RowQuerier
func (*Tx) Query(context.Context, string, ...any) (store.Rows, error) { return nil, ErrNoSQL }

// QueryRow implements store.RowQuerier
func (*Tx) QueryRow(context.Context, string, ...any) store.Row { return errRow{} }

// IsReadOnly reports whether the transaction was opened read only
func (t *Tx) IsReadOnly() bool { return t.readOnly }

// OnCommit registers f to run when the transaction behind q commits. Outside
// a fake transaction f runs immediately (autocommit)
func OnCommit(q store.RowQuerier, f func()) {
	if tx, ok := q.(*Tx); ok {
		tx.onCommit = append(tx.onCommit, f)
		return
	}
	f()
}

// OnRollback registers f to run when the transaction behind q rolls back
func OnRollback(q store.RowQuerier, f func()) {
	if tx, ok := q.(*Tx); ok {
		tx.onRollback = append(tx.onRollback, f)
	}
}

// ReadOnlyTx reports whether q is a fake transaction opened read only
func ReadOnlyTx(q store.RowQuerier) bool {
	tx, ok := q.(*Tx)
	return ok && tx.readOnly
}

type errRow struct{}

func (errRow) Scan(...any) error { return ErrNoSQL }
