// Package repo provides Postgres bindings for checkpoints and windows
package repo

import (
	"context"
	"time"

	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/services/checkpoint/domain"
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

const checkpointCols = `stage, status, started_at, completed_at, rows_processed, error_message,
	attempts, last_window_id, run_id, updated_at`

func scanCheckpoint(row repokit.Row) (domain.Checkpoint, error) {
	var c domain.Checkpoint
	var status string
	err := row.Scan(&c.Stage, &status, &c.StartedAt, &c.CompletedAt, &c.RowsProcessed,
		&c.ErrorMessage, &c.Attempts, &c.LastWindowID, &c.RunID, &c.UpdatedAt)
	c.Status = domain.Status(status)
	return c, err
}

func (r *queries) Get(ctx context.Context, stage string) (domain.Checkpoint, bool, error) {
	rows, err := r.q.Query(ctx, `SELECT `+checkpointCols+` FROM etl_stage_checkpoints WHERE stage = $1`, stage)
	if err != nil {
		return domain.Checkpoint{}, false, perr.FromPostgres(err, "checkpoint get")
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.Checkpoint{}, false, perr.FromPostgres(rows.Err(), "checkpoint get rows")
	}
	c, err := scanCheckpoint(rows)
	if err != nil {
		return c, false, perr.FromPostgres(err, "checkpoint get scan")
	}
	return c, true, nil
}

func (r *queries) List(ctx context.Context) ([]domain.Checkpoint, error) {
	rows, err := r.q.Query(ctx, `SELECT `+checkpointCols+` FROM etl_stage_checkpoints ORDER BY stage`)
	if err != nil {
		return nil, perr.FromPostgres(err, "checkpoint list")
	}
	defer rows.Close()
	var out []domain.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, perr.FromPostgres(err, "checkpoint list scan")
		}
		out = append(out, c)
	}
	return out, perr.FromPostgres(rows.Err(), "checkpoint list rows")
}

func (r *queries) Seed(ctx context.Context, stage string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO etl_stage_checkpoints (stage, status, completed_at, updated_at)
		VALUES ($1, 'completed', $2, $2)
		ON CONFLICT (stage) DO NOTHING
	`, stage, at)
	return perr.FromPostgres(err, "checkpoint seed")
}

func (r *queries) Start(ctx context.Context, stage, runID string, at time.Time) (domain.Checkpoint, error) {
	c, err := scanCheckpoint(r.q.QueryRow(ctx, `
		INSERT INTO etl_stage_checkpoints (stage, status, started_at, attempts, run_id, updated_at)
		VALUES ($1, 'in_progress', $3, 1, $2, $3)
		ON CONFLICT (stage) DO UPDATE SET
		    status        = 'in_progress',
		    started_at    = EXCLUDED.started_at,
		    completed_at  = NULL,
		    error_message = NULL,
		    attempts      = etl_stage_checkpoints.attempts + 1,
		    run_id        = EXCLUDED.run_id,
		    updated_at    = EXCLUDED.updated_at
		RETURNING `+checkpointCols, stage, runID, at))
	return c, perr.FromPostgres(err, "checkpoint start")
}

func (r *queries) Complete(ctx context.Context, stage string, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE etl_stage_checkpoints
		   SET status = 'completed', completed_at = $2, error_message = NULL, updated_at = $2
		 WHERE stage = $1
	`, stage, at)
	if err != nil {
		return perr.FromPostgres(err, "checkpoint complete")
	}
	if tag.RowsAffected() == 0 {
		return perr.NotFoundf("checkpoint %s not started", stage)
	}
	return nil
}

func (r *queries) Fail(ctx context.Context, stage, msg string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO etl_stage_checkpoints (stage, status, error_message, updated_at)
		VALUES ($1, 'failed', $2, $3)
		ON CONFLICT (stage) DO UPDATE SET
		    status = 'failed', error_message = EXCLUDED.error_message, updated_at = EXCLUDED.updated_at
	`, stage, msg, at)
	return perr.FromPostgres(err, "checkpoint fail")
}

func (r *queries) Total(ctx context.Context, stage, scope string) (domain.Total, bool, error) {
	rows, err := r.q.Query(ctx, `
		SELECT stage, scope, min_key, max_key, expected_total, snapshot_at
		FROM etl_stage_totals WHERE stage = $1 AND scope = $2
	`, stage, scope)
	if err != nil {
		return domain.Total{}, false, perr.FromPostgres(err, "checkpoint total")
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.Total{}, false, perr.FromPostgres(rows.Err(), "checkpoint total rows")
	}
	var t domain.Total
	if err := rows.Scan(&t.Stage, &t.Scope, &t.Min, &t.Max, &t.Extent.Total, &t.SnapshotAt); err != nil {
		return t, false, perr.FromPostgres(err, "checkpoint total scan")
	}
	return t, true, nil
}

func (r *queries) SnapshotTotal(ctx context.Context, t domain.Total) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO etl_stage_totals (stage, scope, expected_total, min_key, max_key, snapshot_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stage, scope) DO NOTHING
	`, t.Stage, t.Scope, t.Extent.Total, t.Min, t.Max, t.SnapshotAt)
	return perr.FromPostgres(err, "checkpoint snapshot total")
}

func (r *queries) CreateWindows(ctx context.Context, stage, scope string, rs []window.Range) (int64, error) {
	if len(rs) == 0 {
		return 0, nil
	}
	mins := make([]int64, len(rs))
	maxs := make([]int64, len(rs))
	for i, w := range rs {
		mins[i], maxs[i] = w.Min, w.Max
	}
	tag, err := r.q.Exec(ctx, `
		INSERT INTO etl_batch_windows (stage, scope, min_key, max_key)
		SELECT $1, $2, lo, hi FROM unnest($3::bigint[], $4::bigint[]) AS t(lo, hi)
		ON CONFLICT (stage, scope, min_key) DO NOTHING
	`, stage, scope, mins, maxs)
	if err != nil {
		return 0, perr.FromPostgres(err, "checkpoint create windows")
	}
	return tag.RowsAffected(), nil
}

const windowCols = `id, stage, scope, min_key, max_key, processed, verified, deleted, unverified,
	read_count, inserted_count, error_count, gap_count,
	COALESCE(migrated_count, 0), COALESCE(verified_count, 0), deleted_count`

func scanWindow(row repokit.Row) (window.Window, error) {
	var w window.Window
	err := row.Scan(&w.ID, &w.Stage, &w.Scope, &w.Min, &w.Max,
		&w.Processed, &w.Verified, &w.Deleted, &w.Unverified,
		&w.Read, &w.Inserted, &w.Errors, &w.Gaps,
		&w.Migrated, &w.VerifiedCount, &w.DeletedCount)
	if w.Migrated > w.Inserted {
		w.Existing = w.Migrated - w.Inserted
	}
	return w, err
}

func (r *queries) Windows(ctx context.Context, stage, scope string) ([]window.Window, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+windowCols+` FROM etl_batch_windows
		WHERE stage = $1 AND scope = $2
		ORDER BY min_key
	`, stage, scope)
	if err != nil {
		return nil, perr.FromPostgres(err, "checkpoint windows")
	}
	defer rows.Close()
	var out []window.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, perr.FromPostgres(err, "checkpoint windows scan")
		}
		out = append(out, w)
	}
	return out, perr.FromPostgres(rows.Err(), "checkpoint windows rows")
}

func (r *queries) Window(ctx context.Context, id int64) (window.Window, error) {
	w, err := scanWindow(r.q.QueryRow(ctx, `SELECT `+windowCols+` FROM etl_batch_windows WHERE id = $1`, id))
	if err != nil {
		return w, perr.FromPostgresf(err, "checkpoint window %d", id)
	}
	return w, nil
}

func (r *queries) MarkProcessed(ctx context.Context, w window.Window, c window.Counts) error {
	if _, err := r.q.Exec(ctx, `
		UPDATE etl_batch_windows
		   SET processed = true, read_count = $2, inserted_count = $3, error_count = $4,
		       gap_count = $5, migrated_count = $6, processed_at = now()
		 WHERE id = $1
	`, w.ID, c.Read, c.Inserted, c.Errors, c.Gaps, c.Landed()); err != nil {
		return perr.FromPostgres(err, "checkpoint mark processed")
	}
	_, err := r.q.Exec(ctx, `
		UPDATE etl_stage_checkpoints
		   SET last_window_id = $2, rows_processed = rows_processed + $3, updated_at = now()
		 WHERE stage = $1
	`, w.Stage, w.ID, c.Read)
	return perr.FromPostgres(err, "checkpoint advance")
}

func (r *queries) RecordVerified(ctx context.Context, id, verified int64) (window.Window, error) {
	w, err := scanWindow(r.q.QueryRow(ctx, `
		UPDATE etl_batch_windows
		   SET verified_count = $2,
		       verified = ($2 = COALESCE(migrated_count, -1)),
		       unverified = false
		 WHERE id = $1
		RETURNING `+windowCols, id, verified))
	if err != nil {
		return w, perr.FromPostgres(err, "checkpoint record verified")
	}
	return w, nil
}

func (r *queries) MarkDeleted(ctx context.Context, id, deleted int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE etl_batch_windows SET deleted = true, deleted_count = $2 WHERE id = $1
	`, id, deleted)
	return perr.FromPostgres(err, "checkpoint mark deleted")
}

func (r *queries) MarkUnverified(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `UPDATE etl_batch_windows SET unverified = true WHERE id = $1`, id)
	return perr.FromPostgres(err, "checkpoint mark unverified")
}

func (r *queries) ClearWindows(ctx context.Context, stage string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM etl_batch_windows WHERE stage = $1`, stage); err != nil {
		return perr.FromPostgres(err, "checkpoint clear windows")
	}
	_, err := r.q.Exec(ctx, `DELETE FROM etl_stage_totals WHERE stage = $1`, stage)
	return perr.FromPostgres(err, "checkpoint clear totals")
}

func (r *queries) ResetStage(ctx context.Context, stage string) error {
	if err := r.ClearWindows(ctx, stage); err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM etl_row_errors WHERE stage = $1`, stage); err != nil {
		return perr.FromPostgres(err, "checkpoint reset row errors")
	}
	_, err := r.q.Exec(ctx, `DELETE FROM etl_stage_checkpoints WHERE stage = $1`, stage)
	return perr.FromPostgres(err, "checkpoint reset stage")
}

func (r *queries) ResetAll(ctx context.Context) error {
	_, err := r.q.Exec(ctx, `
		TRUNCATE etl_stage_checkpoints, etl_batch_windows, etl_stage_totals, etl_row_errors,
		         surrogate_keys, surrogate_counters, concept_map
		RESTART IDENTITY
	`)
	return perr.FromPostgres(err, "checkpoint reset all")
}
