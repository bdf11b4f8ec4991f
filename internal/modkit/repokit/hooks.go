package repokit

import (
	"context"
	"fmt"
	"time"
)

// BeginHook runs first inside every transaction, on the tx Queryer
type BeginHook func(ctx context.Context, q Queryer) error

// WithBeginHooks returns inner with hooks run at the start of each Tx.
// Statements outside a Tx pass straight through
func WithBeginHooks(inner TxRunner, hooks ...BeginHook) TxRunner {
	if len(hooks) == 0 {
		return inner
	}
	return hooked{TxRunner: inner, hooks: hooks}
}

type hooked struct {
	TxRunner
	hooks []BeginHook
}

func (h hooked) Tx(ctx context.Context, fn func(Queryer) error) error {
	return h.TxRunner.Tx(ctx, func(q Queryer) error {
		for _, hook := range h.hooks {
			if err := hook(ctx, q); err != nil {
				return err
			}
		}
		return fn(q)
	})
}

// SetLocal sets a server parameter for the rest of the transaction
func SetLocal(name, value string) BeginHook {
	return func(ctx context.Context, q Queryer) error {
		_, err := q.Exec(ctx, `SELECT set_config($1, $2, true)`, name, value)
		return err
	}
}

// LockTimeout caps row lock waits at d. An expired wait fails with
// SQLSTATE 55P03, which is classed as transient and retried
func LockTimeout(d time.Duration) BeginHook {
	return SetLocal("lock_timeout", fmt.Sprintf("%dms", d.Milliseconds()))
}
