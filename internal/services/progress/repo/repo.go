// Package repo provides Postgres bindings for progress aggregates
package repo

import (
	"context"

	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/services/progress/domain"
)

type (
	// PG is a Postgres binder for domain.Repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

var _ domain.Repo = (*queries)(nil)

// NewPG returns a Postgres binder for Repo
func NewPG() repokit.Binder[domain.Repo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.Repo { return &queries{q: q} }

const scopesSQL = `
SELECT t.stage, t.scope, t.expected_total, t.snapshot_at,
       coalesce(sum(w.read_count) FILTER (WHERE w.processed), 0)::bigint,
       coalesce(sum(w.inserted_count) FILTER (WHERE w.processed), 0)::bigint,
       coalesce(sum(w.error_count) FILTER (WHERE w.processed), 0)::bigint,
       coalesce(sum(w.gap_count) FILTER (WHERE w.processed), 0)::bigint,
       count(w.id) FILTER (WHERE w.processed),
       count(w.id),
       count(w.id) FILTER (WHERE w.verified),
       count(w.id) FILTER (WHERE w.deleted),
       count(w.id) FILTER (WHERE w.unverified)
FROM etl_stage_totals t
LEFT JOIN etl_batch_windows w ON w.stage = t.stage AND w.scope = t.scope
GROUP BY t.stage, t.scope, t.expected_total, t.snapshot_at
ORDER BY t.stage, t.scope`

func (r *queries) Scopes(ctx context.Context) ([]domain.ScopeProgress, error) {
	rows, err := r.q.Query(ctx, scopesSQL)
	if err != nil {
		return nil, perr.FromPostgres(err, "progress scopes")
	}
	defer rows.Close()

	var out []domain.ScopeProgress
	for rows.Next() {
		var s domain.ScopeProgress
		if err := rows.Scan(
			&s.Stage, &s.Scope, &s.ExpectedTotal, &s.SnapshotAt,
			&s.Processed, &s.Inserted, &s.Errors, &s.Gaps,
			&s.WindowsDone, &s.WindowsTotal, &s.Verified, &s.Deleted, &s.Unverified,
		); err != nil {
			return nil, perr.FromPostgres(err, "scan progress scope")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.FromPostgres(err, "progress scopes")
	}
	return out, nil
}

func (r *queries) RowErrors(ctx context.Context) ([]domain.ErrorCount, error) {
	rows, err := r.q.Query(ctx, `SELECT stage, count(*) FROM etl_row_errors GROUP BY stage ORDER BY stage`)
	if err != nil {
		return nil, perr.FromPostgres(err, "row error counts")
	}
	defer rows.Close()

	var out []domain.ErrorCount
	for rows.Next() {
		var c domain.ErrorCount
		if err := rows.Scan(&c.Stage, &c.Count); err != nil {
			return nil, perr.FromPostgres(err, "scan row error count")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.FromPostgres(err, "row error counts")
	}
	return out, nil
}
