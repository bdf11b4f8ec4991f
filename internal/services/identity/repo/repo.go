// Package repo provides Postgres bindings for the identity mapper
package repo

import (
	"context"
	"fmt"
	"strings"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/services/identity/domain"
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

func (r *queries) Lookup(ctx context.Context, entityType string, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT natural_key, surrogate_key
		FROM surrogate_keys
		WHERE entity_type = $1 AND natural_key = ANY($2::text[])
	`, entityType, keys)
	if err != nil {
		return nil, perr.FromPostgres(err, "identity lookup")
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, perr.FromPostgres(err, "identity lookup scan")
		}
		out[k] = v
	}
	return out, perr.FromPostgres(rows.Err(), "identity lookup rows")
}

func (r *queries) LockCounter(ctx context.Context, entityType string) (int64, error) {
	if _, err := r.q.Exec(ctx, `
		INSERT INTO surrogate_counters (entity_type, last_value)
		VALUES ($1, 0)
		ON CONFLICT (entity_type) DO NOTHING
	`, entityType); err != nil {
		return 0, perr.FromPostgres(err, "identity counter seed")
	}
	var last int64
	if err := r.q.QueryRow(ctx, `
		SELECT last_value FROM surrogate_counters WHERE entity_type = $1 FOR UPDATE
	`, entityType).Scan(&last); err != nil {
		return 0, perr.FromPostgres(err, "identity counter lock")
	}
	return last, nil
}

func (r *queries) Insert(ctx context.Context, entityType string, keys []string, first int64) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx, `
		INSERT INTO surrogate_keys (entity_type, natural_key, surrogate_key)
		SELECT $1, t.k, $3::bigint + t.o - 1
		FROM unnest($2::text[]) WITH ORDINALITY AS t(k, o)
		ON CONFLICT (entity_type, natural_key) DO NOTHING
	`, entityType, keys, first)
	if err != nil {
		return 0, perr.FromPostgres(err, "identity insert")
	}
	return tag.RowsAffected(), nil
}

func (r *queries) AdvanceCounter(ctx context.Context, entityType string, last int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE surrogate_counters SET last_value = $2
		WHERE entity_type = $1 AND last_value < $2
	`, entityType, last)
	return perr.FromPostgres(err, "identity counter advance")
}

func (r *queries) WindowKeys(ctx context.Context, src pipeline.IdentitySource, w window.Range) ([]string, error) {
	key := repokit.Ident(src.KeyColumn)
	nk := repokit.Ident(src.NaturalKey)
	sql := fmt.Sprintf(`
		SELECT nk FROM (
			SELECT %[2]s::text AS nk, MIN(%[1]s) AS first_key
			FROM %[3]s
			WHERE %[1]s >= $1 AND %[1]s < $2 AND %[2]s IS NOT NULL
			GROUP BY 1
		) s
		WHERE btrim(nk) <> ''
		ORDER BY first_key, nk
	`, key, nk, repokit.Ident(src.Table))

	rows, err := r.q.Query(ctx, sql, w.Min, w.Max)
	if err != nil {
		return nil, perr.FromPostgresf(err, "identity window keys %s", src.Table)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, perr.FromPostgres(err, "identity window keys scan")
		}
		out = append(out, k)
	}
	return out, perr.FromPostgres(rows.Err(), "identity window keys rows")
}

func (r *queries) Extent(ctx context.Context, src pipeline.Source) (window.Extent, error) {
	lo, hi, n, err := repokit.KeyExtent(ctx, r.q, src.Table, src.KeyColumn)
	if err != nil {
		return window.Extent{}, perr.FromPostgresf(err, "extent %s", src.Table)
	}
	return window.Extent{Min: lo, Max: hi, Total: n}, nil
}

// observedSQL unions the natural key columns of every source
func observedSQL(sources []pipeline.IdentitySource) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, fmt.Sprintf("SELECT %s::text AS nk FROM %s",
			repokit.Ident(s.NaturalKey), repokit.Ident(s.Table)))
	}
	return fmt.Sprintf(`SELECT DISTINCT nk FROM (%s) u WHERE nk IS NOT NULL AND btrim(nk) <> ''`,
		strings.Join(parts, " UNION ALL "))
}

func (r *queries) Audit(ctx context.Context, entityType string, sources []pipeline.IdentitySource) (domain.Audit, error) {
	a := domain.Audit{EntityType: entityType}
	if len(sources) > 0 {
		sql := fmt.Sprintf(`
			WITH observed AS (%s)
			SELECT COUNT(*)::bigint,
			       COUNT(*) FILTER (WHERE NOT EXISTS (
			           SELECT 1 FROM surrogate_keys m
			           WHERE m.entity_type = $1 AND m.natural_key = observed.nk
			       ))::bigint
			FROM observed
		`, observedSQL(sources))
		if err := r.q.QueryRow(ctx, sql, entityType).Scan(&a.ObservedKeys, &a.MissingKeys); err != nil {
			return a, perr.FromPostgres(err, "identity audit observed")
		}
	}
	if err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(MAX(surrogate_key), 0)::bigint,
		       COALESCE((SELECT last_value FROM surrogate_counters WHERE entity_type = $1), 0)::bigint
		FROM surrogate_keys WHERE entity_type = $1
	`, entityType).Scan(&a.MappedKeys, &a.MaxSurrogate, &a.Counter); err != nil {
		return a, perr.FromPostgres(err, "identity audit mappings")
	}
	return a, nil
}
