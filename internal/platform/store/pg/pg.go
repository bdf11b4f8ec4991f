// Package pg builds the pgx pool behind source reads, staging writes and the
// bookkeeping tables
package pg

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config describes one pool
type Config struct {
	URL      string
	MaxConns int32
	// AppName shows up as application_name in pg_stat_activity
	AppName string
	// StatementTimeout caps every statement; 0 keeps the server default
	StatementTimeout time.Duration
}

// session returns the runtime parameters every pooled connection starts with
func (c Config) session() map[string]string {
	s := map[string]string{}
	if c.AppName != "" {
		s["application_name"] = c.AppName
	}
	if ms := c.StatementTimeout.Milliseconds(); ms > 0 {
		s["statement_timeout"] = strconv.FormatInt(ms, 10)
	}
	return s
}

// PG is an open pool plus the tracer its statements report to
type PG struct {
	Pool   *pgxpool.Pool
	Tracer QueryTracer
}

var newPool = pgxpool.NewWithConfig

// Open builds the pool for cfg. Connections are made lazily
func Open(ctx context.Context, cfg Config, tracer QueryTracer) (*PG, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	for k, v := range cfg.session() {
		pc.ConnConfig.RuntimeParams[k] = v
	}
	pool, err := newPool(ctx, pc)
	if err != nil {
		return nil, err
	}
	return &PG{Pool: pool, Tracer: tracer}, nil
}

// Ping round-trips to the server
func (p *PG) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }

// Close releases the pool; a nil PG is a no-op
func (p *PG) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}
