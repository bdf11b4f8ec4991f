// Package repo provides Postgres bindings for the batch transformer
package repo

import (
	"context"
	"fmt"
	"strings"

	"clinicaletl/internal/core/derive"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/services/transform/domain"
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

// indexName derives a stable index name from a possibly qualified table
func indexName(table, suffix string) string {
	name := strings.ReplaceAll(table, ".", "_") + "_" + suffix
	if len(name) > 63 {
		name = name[len(name)-63:]
	}
	return repokit.Ident(name)
}

func (r *queries) EnsureTarget(ctx context.Context, t domain.Target) error {
	spec := t.Spec
	if schema, _, ok := strings.Cut(spec.Target, "."); ok {
		if _, err := r.q.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+repokit.Ident(schema)); err != nil {
			return perr.FromPostgresf(err, "transform create schema %s", schema)
		}
	}

	cols := []string{
		"id bigserial PRIMARY KEY",
		"source_key text NOT NULL",
		"subject_key bigint NOT NULL",
		"event_time " + spec.TimeKind().SQLType() + " NOT NULL",
		"source_code text NOT NULL",
		"concept_id bigint NOT NULL DEFAULT 0",
	}
	for _, ref := range spec.References {
		cols = append(cols, repokit.Ident(ref.ReferenceColumn())+" bigint")
	}
	for _, f := range spec.Fields {
		cols = append(cols, repokit.Ident(f.Name)+" "+f.Type.SQLType())
	}
	target := repokit.Ident(spec.Target)
	ddl := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", target, strings.Join(cols, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (subject_key, event_time, source_code)",
			indexName(spec.Target, "exists_idx"), target),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (source_key)",
			indexName(spec.Target, "source_key_idx"), target),
	}
	for _, stmt := range ddl {
		if _, err := r.q.Exec(ctx, stmt); err != nil {
			return perr.FromPostgresf(err, "transform ensure target %s", spec.Target)
		}
	}
	return nil
}

func (r *queries) Extent(ctx context.Context, src pipeline.Source) (window.Extent, error) {
	lo, hi, n, err := repokit.KeyExtent(ctx, r.q, src.Table, src.KeyColumn)
	if err != nil {
		return window.Extent{}, perr.FromPostgresf(err, "transform extent %s", src.Table)
	}
	return window.Extent{Min: lo, Max: hi, Total: n}, nil
}

func (r *queries) Page(ctx context.Context, t domain.Target, w window.Range, limit int) ([]domain.SourceRow, error) {
	cols := t.SourceColumns()
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = repokit.Ident(c) + "::text"
	}
	key := repokit.Ident(t.Spec.Source.KeyColumn)
	sql := fmt.Sprintf(`
		SELECT %[1]s::bigint, %[2]s
		FROM %[3]s
		WHERE %[1]s >= $1 AND %[1]s < $2
		ORDER BY %[1]s
		LIMIT $3`, key, strings.Join(exprs, ", "), repokit.Ident(t.Spec.Source.Table))

	rows, err := r.q.Query(ctx, sql, w.Min, w.Max, limit)
	if err != nil {
		return nil, perr.FromPostgresf(err, "transform page %s", t.Spec.Source.Table)
	}
	defer rows.Close()

	var out []domain.SourceRow
	for rows.Next() {
		vals := make([]*string, len(cols))
		dest := make([]any, 0, len(cols)+1)
		row := domain.SourceRow{Values: make(map[string]*string, len(cols))}
		dest = append(dest, &row.Key)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, perr.FromPostgres(err, "transform page scan")
		}
		for i, c := range cols {
			row.Values[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, perr.FromPostgres(rows.Err(), "transform page rows")
}

func (r *queries) Insert(ctx context.Context, t domain.Target, recs []domain.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	spec := t.Spec
	n := len(recs)

	sourceKeys := make([]string, n)
	subjects := make([]int64, n)
	times := make([]string, n)
	codes := make([]string, n)
	concepts := make([]int64, n)
	for i, rec := range recs {
		sourceKeys[i] = rec.SourceKey
		subjects[i] = rec.SubjectKey
		times[i] = rec.EventTime.Text.String
		codes[i] = rec.SourceCode
		concepts[i] = rec.ConceptID
	}
	args := []any{sourceKeys, subjects, times, codes, concepts}
	names := []string{"source_key", "subject_key", "event_time", "source_code", "concept_id"}
	casts := []string{"text[]", "bigint[]", "text[]", "text[]", "bigint[]"}
	timeType := spec.TimeKind().SQLType()
	selects := []string{"v.c1", "v.c2", "v.c3::" + timeType, "v.c4", "v.c5"}

	add := func(col, cast, sel string, arr any) {
		args = append(args, arr)
		i := len(args)
		names = append(names, repokit.Ident(col))
		casts = append(casts, cast)
		selects = append(selects, fmt.Sprintf(sel, fmt.Sprintf("v.c%d", i)))
	}
	for _, ref := range spec.References {
		col := ref.ReferenceColumn()
		arr := make([]*int64, n)
		for i, rec := range recs {
			arr[i] = rec.Refs[col].Ptr()
		}
		add(col, "bigint[]", "%s", arr)
	}
	for _, f := range spec.Fields {
		arr := make([]*string, n)
		for i, rec := range recs {
			arr[i] = rec.Fields[f.Name].Ptr()
		}
		sel := "%s"
		if f.Type != derive.KindText {
			sel = "%s::" + f.Type.SQLType()
		}
		add(f.Name, "text[]", sel, arr)
	}

	params := make([]string, len(args))
	aliases := make([]string, len(args))
	for i := range args {
		params[i] = fmt.Sprintf("$%d::%s", i+1, casts[i])
		aliases[i] = fmt.Sprintf("c%d", i+1)
	}
	target := repokit.Ident(spec.Target)
	sql := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		SELECT %[3]s
		FROM unnest(%[4]s) AS v(%[5]s)
		WHERE NOT EXISTS (
			SELECT 1 FROM %[1]s t
			WHERE t.subject_key = v.c2 AND t.event_time = v.c3::%[6]s AND t.source_code = v.c4
		)`,
		target, strings.Join(names, ", "), strings.Join(selects, ", "),
		strings.Join(params, ", "), strings.Join(aliases, ", "), timeType)

	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, perr.FromPostgresf(err, "transform insert %s", spec.Target)
	}
	return tag.RowsAffected(), nil
}

func (r *queries) RecordErrors(ctx context.Context, errs []domain.RowError) error {
	if len(errs) == 0 {
		return nil
	}
	n := len(errs)
	stages := make([]string, n)
	scopes := make([]string, n)
	keys := make([]string, n)
	windows := make([]*int64, n)
	kinds := make([]string, n)
	columns := make([]string, n)
	raws := make([]*string, n)
	msgs := make([]string, n)
	for i, e := range errs {
		stages[i], scopes[i], keys[i] = e.Stage, e.Scope, e.NaturalKey
		windows[i] = e.WindowID.Ptr()
		kinds[i], columns[i] = string(e.Kind), e.Column
		raws[i] = e.Raw.Ptr()
		msgs[i] = e.Message
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO etl_row_errors (stage, scope, natural_key, window_id, kind, column_name, raw_value, message)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::bigint[], $5::text[], $6::text[], $7::text[], $8::text[])
		ON CONFLICT (stage, scope, natural_key, kind, column_name) DO NOTHING
	`, stages, scopes, keys, windows, kinds, columns, raws, msgs)
	return perr.FromPostgres(err, "transform record errors")
}

func (r *queries) Errors(ctx context.Context, stage string, limit int) ([]domain.RowError, error) {
	rows, err := r.q.Query(ctx, `
		SELECT stage, scope, natural_key, window_id, kind, column_name, raw_value, message
		FROM etl_row_errors
		WHERE stage = $1
		ORDER BY id
		LIMIT $2
	`, stage, limit)
	if err != nil {
		return nil, perr.FromPostgres(err, "transform errors")
	}
	defer rows.Close()
	var out []domain.RowError
	for rows.Next() {
		var e domain.RowError
		var kind string
		if err := rows.Scan(&e.Stage, &e.Scope, &e.NaturalKey, &e.WindowID, &kind, &e.Column, &e.Raw, &e.Message); err != nil {
			return nil, perr.FromPostgres(err, "transform errors scan")
		}
		e.Kind = domain.ErrorKind(kind)
		out = append(out, e)
	}
	return out, perr.FromPostgres(rows.Err(), "transform errors rows")
}
