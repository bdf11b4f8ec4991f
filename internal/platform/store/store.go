// Package store opens the database seams the ETL runs on: the Postgres pool
// holding source, staging and bookkeeping tables, and the optional ClickHouse
// sink that receives run events
package store

import (
	"context"
	"errors"
	"fmt"

	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store/ch"

	"github.com/rs/zerolog"
)

// Store holds the open seams. Events is nil when no sink is configured
type Store struct {
	Log    logger.Logger
	PG     TxRunner
	Events EventSink
}

// The statement surface mirrors pgx; the pool and a transaction satisfy it
// as they are
type (
	Row        interface{ Scan(dest ...any) error }
	CommandTag interface{ RowsAffected() int64 }
	Rows       interface {
		Row
		Next() bool
		Err() error
		Close()
	}
)

// RowQuerier is the statement surface repos are bound to
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner runs fn in one transaction; fn's error rolls it back
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// EventSink is the append-only columnar store for run events
type EventSink interface {
	Append(ctx context.Context, table string, rows [][]any) error
	Exec(ctx context.Context, sql string, args ...any) error
	Close() error
}

// Pinger is a seam that can report readiness
type Pinger interface{ Ping(context.Context) error }

// Option adjusts Open
type Option func(*Store)

// WithLogger routes pool and tracer logs to log
func WithLogger(log logger.Logger) Option {
	return func(s *Store) { s.Log = log }
}

// Open connects Postgres, waiting for it to accept connections, and the event
// sink when one is configured
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{Log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	if cfg.PG.URL == "" {
		return nil, errors.New("store: postgres url is required")
	}
	db, err := openPG(ctx, cfg, s.Log)
	if err != nil {
		return nil, err
	}
	s.PG = db

	if cfg.Events.URL != "" {
		sink, err := ch.Open(ctx, ch.Config{URL: cfg.Events.URL, Role: cfg.Events.Role})
		if err != nil {
			db.Close()
			return nil, err
		}
		s.Events = sink
	}
	return s, nil
}

type seam struct {
	name string
	dep  any
}

// seams lists what is open, event sink first so it is released before the pool
func (s *Store) seams() []seam {
	out := make([]seam, 0, 2)
	if s.Events != nil {
		out = append(out, seam{"events", s.Events})
	}
	if s.PG != nil {
		out = append(out, seam{"pg", s.PG})
	}
	return out
}

// Guard pings every open seam and joins the failures
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("store: nil store")
	}
	var errs []error
	for _, sm := range s.seams() {
		p, ok := sm.dep.(Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sm.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the sink, then the pool
func (s *Store) Close(context.Context) error {
	var errs []error
	for _, sm := range s.seams() {
		c, ok := sm.dep.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sm.name, err))
		}
	}
	return errors.Join(errs...)
}
