// Package guardrails keeps a single orchestrator running against a database
package guardrails

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/services/orchestrator/domain"

	"github.com/google/uuid"
)

// Lease claims a named row in etl_run_leases. An expired lease is reclaimed
// by the next caller; a held one is renewed by a heartbeat until released
type Lease struct {
	db    repokit.TxRunner
	name  string
	owner string
	ttl   time.Duration
}

var _ domain.Locker = (*Lease)(nil)

// NewLease returns a lease on name. ttl <= 0 defaults to 2 minutes
func NewLease(db repokit.TxRunner, name string, ttl time.Duration) *Lease {
	if db == nil {
		panic("guardrails.Lease requires a non-nil TxRunner")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	host, _ := os.Hostname()
	return &Lease{
		db:    db,
		name:  name,
		owner: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()),
		ttl:   ttl,
	}
}

// Owner returns the owner string written to the lease row
func (l *Lease) Owner() string { return l.owner }

// Acquire claims the lease or returns domain.ErrRunInProgress
func (l *Lease) Acquire(ctx context.Context) (func(), error) {
	ok, err := l.claim(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrRunInProgress
	}

	hb, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go l.heartbeat(hb, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			err := l.db.Tx(context.WithoutCancel(ctx), func(q repokit.Queryer) error {
				_, err := q.Exec(ctx, `DELETE FROM etl_run_leases WHERE name = $1 AND owner = $2`, l.name, l.owner)
				return err
			})
			if err != nil {
				logger.C(ctx).Warn().Err(err).Str("lease", l.name).Msg("guardrails: lease release failed")
			}
		})
	}, nil
}

func (l *Lease) heartbeat(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(max(l.ttl/3, time.Second))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := l.claim(ctx)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				logger.C(ctx).Warn().Err(err).Str("lease", l.name).Msg("guardrails: lease renewal failed")
			case !ok:
				logger.C(ctx).Error().Str("lease", l.name).Msg("guardrails: lease lost to another owner")
			}
		}
	}
}

// claim inserts or renews the lease row. It succeeds when the row is free,
// expired or already ours
func (l *Lease) claim(ctx context.Context) (bool, error) {
	var claimed bool
	err := l.db.Tx(ctx, func(q repokit.Queryer) error {
		rows, err := q.Query(ctx, `
			INSERT INTO etl_run_leases AS l (name, owner, claimed_at, expires_at)
			VALUES ($1, $2, now(), now() + ($3)::interval)
			ON CONFLICT (name) DO UPDATE
			   SET owner      = EXCLUDED.owner,
			       claimed_at = CASE WHEN l.owner = EXCLUDED.owner THEN l.claimed_at ELSE now() END,
			       expires_at = EXCLUDED.expires_at
			 WHERE l.expires_at <= now() OR l.owner = EXCLUDED.owner
			RETURNING true`, l.name, l.owner, fmt.Sprintf("%d seconds", int64(l.ttl/time.Second)))
		if err != nil {
			return perr.FromPostgres(err, "claim run lease")
		}
		defer rows.Close()
		for rows.Next() {
			if err := rows.Scan(&claimed); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	return claimed, err
}

// Local is an in-process Locker for single binary use and tests
type Local struct {
	mu   sync.Mutex
	held bool
}

var _ domain.Locker = (*Local)(nil)

// Acquire implements domain.Locker
func (l *Local) Acquire(context.Context) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrRunInProgress
	}
	l.held = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
	}, nil
}
