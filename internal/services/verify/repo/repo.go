// Package repo provides Postgres bindings for verify and safe-delete
package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"clinicaletl/internal/core/derive"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	transformdomain "clinicaletl/internal/services/transform/domain"
	"clinicaletl/internal/services/verify/domain"
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

func (r *queries) Targets(
	ctx context.Context, t transformdomain.Target, sourceKeys []string, cols map[string]derive.Kind,
) (map[string]map[string]*string, error) {
	out := make(map[string]map[string]*string, len(sourceKeys))
	if len(sourceKeys) == 0 {
		return out, nil
	}
	names := make([]string, 0, len(cols))
	for c := range cols {
		names = append(names, c)
	}
	sort.Strings(names)
	exprs := make([]string, len(names))
	for i, c := range names {
		exprs[i] = derive.SelectExpr(cols[c], repokit.Ident(c))
	}
	sql := fmt.Sprintf(`
		SELECT source_key, %s
		FROM %s
		WHERE source_key = ANY($1::text[])
		ORDER BY id`, strings.Join(exprs, ", "), repokit.Ident(t.Spec.Target))

	rows, err := r.q.Query(ctx, sql, sourceKeys)
	if err != nil {
		return nil, perr.FromPostgresf(err, "verify targets %s", t.Spec.Target)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		vals := make([]*string, len(names))
		dest := make([]any, 0, len(names)+1)
		dest = append(dest, &key)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, perr.FromPostgres(err, "verify targets scan")
		}
		if _, dup := out[key]; dup {
			continue
		}
		m := make(map[string]*string, len(names))
		for i, c := range names {
			m[c] = vals[i]
		}
		out[key] = m
	}
	return out, perr.FromPostgres(rows.Err(), "verify targets rows")
}

func (r *queries) DeleteSource(ctx context.Context, src pipeline.Source, keys []int64) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE %s = ANY($1::bigint[])`,
		repokit.Ident(src.Table), repokit.Ident(src.KeyColumn))
	tag, err := r.q.Exec(ctx, sql, keys)
	if err != nil {
		return 0, perr.FromPostgresf(err, "verify delete source %s", src.Table)
	}
	return tag.RowsAffected(), nil
}
