// Package repo writes run events to ClickHouse
package repo

import (
	"context"
	"fmt"

	"clinicaletl/internal/platform/store"
	"clinicaletl/internal/services/events/domain"
)

type chRepo struct {
	ch    store.EventSink
	table string
}

// NewCH returns a ClickHouse backed repo writing to table
func NewCH(ch store.EventSink, table string) domain.Repo {
	if table == "" {
		table = "etl_events"
	}
	return &chRepo{ch: ch, table: table}
}

func (r *chRepo) EnsureTable(ctx context.Context) error {
	return r.ch.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			at          DateTime64(3, 'UTC'),
			run_id      String,
			kind        LowCardinality(String),
			stage       LowCardinality(String),
			scope       LowCardinality(String),
			status      LowCardinality(String),
			window_id   Int64,
			min_key     Int64,
			max_key     Int64,
			read        Int64,
			inserted    Int64,
			existing    Int64,
			errors      Int64,
			gaps        Int64,
			duration_ms Int64,
			message     String
		) ENGINE = MergeTree
		ORDER BY (run_id, stage, at)`, r.table))
}

func (r *chRepo) Insert(ctx context.Context, es []domain.Event) error {
	if len(es) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(es))
	for _, e := range es {
		rows = append(rows, []any{
			e.At.UTC(), e.RunID, string(e.Kind), e.Stage, e.Scope, e.Status,
			e.WindowID, e.Range.Min, e.Range.Max,
			e.Counts.Read, e.Counts.Inserted, e.Counts.Existing, e.Counts.Errors, e.Counts.Gaps,
			e.Duration.Milliseconds(), e.Message,
		})
	}
	return r.ch.Append(ctx, r.table, rows)
}
