package store

import (
	"cmp"
	"context"
	"time"

	"clinicaletl/internal/platform/backoff"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store/pg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxQuerier is the statement surface shared by the pool and a transaction
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// traced runs statements on q and reports each one to tr
type traced struct {
	q  pgxQuerier
	tr pg.QueryTracer
}

func (t traced) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	start := time.Now()
	ct, err := t.q.Exec(ctx, sql, args...)
	t.report(ctx, sql, args, start, err)
	return ct, err
}

func (t traced) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	start := time.Now()
	rs, err := t.q.Query(ctx, sql, args...)
	t.report(ctx, sql, args, start, err)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (t traced) QueryRow(ctx context.Context, sql string, args ...any) Row {
	start := time.Now()
	return tracedRow{row: t.q.QueryRow(ctx, sql, args...), done: func(err error) {
		t.report(ctx, sql, args, start, err)
	}}
}

func (t traced) report(ctx context.Context, sql string, args []any, start time.Time, err error) {
	if t.tr == nil {
		return
	}
	t.tr.OnQuery(ctx, pg.QueryEvent{SQL: sql, Args: args, Elapsed: time.Since(start), Err: err})
}

// tracedRow reports once Scan has run, since pgx defers the round trip until then
type tracedRow struct {
	row  pgx.Row
	done func(error)
}

func (r tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	r.done(err)
	return err
}

// pgDB is the pool-backed TxRunner
type pgDB struct {
	traced
	pg *pg.PG
}

func (d *pgDB) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	return pgx.BeginTxFunc(ctx, d.pg.Pool, txOptions(ctx), func(tx pgx.Tx) error {
		return fn(traced{q: tx, tr: d.tr})
	})
}

func (d *pgDB) Ping(ctx context.Context) error { return d.pg.Ping(ctx) }

func (d *pgDB) Close() error {
	d.pg.Close()
	return nil
}

// ping is swapped in tests
var ping = func(ctx context.Context, p *pg.PG) error { return p.Ping(ctx) }

// openPG builds the pool and waits for the server. Connection errors are
// retried; an answer from the server (bad password, unknown database) is not
func openPG(ctx context.Context, cfg Config, log logger.Logger) (*pgDB, error) {
	var tr pg.QueryTracer
	if cfg.PG.LogSQL {
		tr = pg.Tracer(log, cfg.PG.SlowQuery)
	}
	p, err := pg.Open(ctx, pg.Config{
		URL:              cfg.PG.URL,
		MaxConns:         cfg.PG.MaxConns,
		AppName:          cfg.AppName,
		StatementTimeout: cfg.PG.StatementTimeout,
	}, tr)
	if err != nil {
		return nil, perr.WithField(perr.Wrap(err, perr.ErrorCodeInvalidArgument, "store: bad postgres url"), "SERVICE_PGSQL_DBURL")
	}

	policy := backoff.Policy{Attempts: cmp.Or(cfg.PG.ConnectRetries, 20), Base: 150 * time.Millisecond, Cap: 2 * time.Second}
	timeout := cmp.Or(cfg.PG.PingTimeout, 3*time.Second)
	err = backoff.Retry(ctx, policy,
		func(err error) bool {
			_, answered := perr.ExtractPgError(err)
			return !answered
		},
		func(attempt int, err error, wait time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("store: postgres not ready")
		},
		func(ctx context.Context) error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return ping(pctx, p)
		})
	if err != nil {
		p.Close()
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "store: postgres unreachable")
	}
	return &pgDB{traced: traced{q: p.Pool, tr: tr}, pg: p}, nil
}
