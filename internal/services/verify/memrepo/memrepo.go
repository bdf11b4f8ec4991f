// Package memrepo reads relocate targets and deletes source rows held by a
// transform memrepo store
package memrepo

import (
	"context"

	"clinicaletl/internal/core/derive"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/modkit/repokit"
	transformdomain "clinicaletl/internal/services/transform/domain"
	transformmem "clinicaletl/internal/services/transform/memrepo"
	"clinicaletl/internal/services/verify/domain"
)

// Binder binds the verify repo over tables in st
func Binder(st *transformmem.Store) repokit.Binder[domain.Repo] {
	return repokit.BindFunc[domain.Repo](func(q repokit.Queryer) domain.Repo { return &repo{st: st, q: q} })
}

type repo struct {
	st *transformmem.Store
	q  repokit.Queryer
}

var _ domain.Repo = (*repo)(nil)

func (r *repo) Targets(_ context.Context, t transformdomain.Target, sourceKeys []string, cols map[string]derive.Kind) (map[string]map[string]*string, error) {
	want := make(map[string]bool, len(sourceKeys))
	for _, k := range sourceKeys {
		want[k] = true
	}
	out := map[string]map[string]*string{}
	for _, row := range r.st.Rows(t.Spec.Target) {
		sk := row.Text(transformdomain.ColSourceKey)
		if !want[sk] {
			continue
		}
		if _, seen := out[sk]; seen {
			continue
		}
		vals := make(map[string]*string, len(cols))
		for c := range cols {
			vals[c] = row.Values[c]
		}
		out[sk] = vals
	}
	return out, nil
}

func (r *repo) DeleteSource(_ context.Context, src pipeline.Source, keys []int64) (int64, error) {
	return r.st.Delete(r.q, src.Table, src.KeyColumn, keys), nil
}
