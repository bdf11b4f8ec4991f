// Package repo provides Postgres bindings for the concept mapper
package repo

import (
	"context"
	"fmt"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/services/concept/domain"
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

func split(keys []domain.Key) (codes, vocabs, domains []string) {
	codes = make([]string, len(keys))
	vocabs = make([]string, len(keys))
	domains = make([]string, len(keys))
	for i, k := range keys {
		codes[i], vocabs[i], domains[i] = k.Code, k.Vocabulary, k.Domain
	}
	return codes, vocabs, domains
}

func (r *queries) Mapped(ctx context.Context, keys []domain.Key) (map[domain.Key]int64, error) {
	out := make(map[domain.Key]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	codes, vocabs, domains := split(keys)
	rows, err := r.q.Query(ctx, `
		SELECT m.source_code, m.source_vocabulary, m.domain, m.target_concept_id
		FROM unnest($1::text[], $2::text[], $3::text[]) AS k(code, vocab, dom)
		JOIN concept_map m
		  ON m.source_code = k.code AND m.source_vocabulary = k.vocab AND m.domain = k.dom
	`, codes, vocabs, domains)
	if err != nil {
		return nil, perr.FromPostgres(err, "concept mapped")
	}
	defer rows.Close()
	for rows.Next() {
		var k domain.Key
		var id int64
		if err := rows.Scan(&k.Code, &k.Vocabulary, &k.Domain, &id); err != nil {
			return nil, perr.FromPostgres(err, "concept mapped scan")
		}
		out[k] = id
	}
	return out, perr.FromPostgres(rows.Err(), "concept mapped rows")
}

// valueExpr reads a column or binds constant as the next positional arg
func valueExpr(column, constant string, args *[]any) string {
	if column != "" {
		return repokit.Ident(column) + "::text"
	}
	*args = append(*args, constant)
	return fmt.Sprintf("$%d::text", len(*args))
}

func (r *queries) WindowCodes(ctx context.Context, src pipeline.CodeSource, w window.Range) ([]domain.Key, error) {
	key := repokit.Ident(src.KeyColumn)
	code := repokit.Ident(src.Code.Column)
	args := []any{w.Min, w.Max}
	vocab := valueExpr(src.Code.VocabularyColumn, src.Code.Vocabulary, &args)
	dom := valueExpr(src.Code.DomainColumn, src.Code.Domain, &args)
	sql := fmt.Sprintf(`
		SELECT DISTINCT %[2]s::text, COALESCE(%[3]s, ''), COALESCE(%[4]s, '')
		FROM %[5]s
		WHERE %[1]s >= $1 AND %[1]s < $2 AND %[2]s IS NOT NULL
	`, key, code, vocab, dom, repokit.Ident(src.Table))

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, perr.FromPostgresf(err, "concept window codes %s", src.Table)
	}
	defer rows.Close()
	var out []domain.Key
	for rows.Next() {
		var k domain.Key
		if err := rows.Scan(&k.Code, &k.Vocabulary, &k.Domain); err != nil {
			return nil, perr.FromPostgres(err, "concept window codes scan")
		}
		out = append(out, k)
	}
	return out, perr.FromPostgres(rows.Err(), "concept window codes rows")
}

func (r *queries) Candidates(ctx context.Context, vocabulary string, codes []string) ([]domain.Candidate, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT concept_id, concept_code, vocabulary_id, COALESCE(domain_id, ''),
		       COALESCE(standard_concept, ''), COALESCE(invalid_reason, ''),
		       valid_start_date, valid_end_date
		FROM vocab_concepts
		WHERE upper(vocabulary_id) = upper($1) AND concept_code = ANY($2::text[])
		ORDER BY concept_code, concept_id
	`, vocabulary, codes)
	if err != nil {
		return nil, perr.FromPostgres(err, "concept candidates")
	}
	defer rows.Close()
	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.ConceptID, &c.Code, &c.Vocabulary, &c.Domain,
			&c.Standard, &c.InvalidReason, &c.ValidStart, &c.ValidEnd); err != nil {
			return nil, perr.FromPostgres(err, "concept candidates scan")
		}
		out = append(out, c)
	}
	return out, perr.FromPostgres(rows.Err(), "concept candidates rows")
}

func (r *queries) Insert(ctx context.Context, ms []domain.Mapping) (int64, error) {
	if len(ms) == 0 {
		return 0, nil
	}
	codes := make([]string, len(ms))
	vocabs := make([]string, len(ms))
	domains := make([]string, len(ms))
	ids := make([]int64, len(ms))
	targets := make([]*string, len(ms))
	starts := make([]*string, len(ms))
	ends := make([]*string, len(ms))
	for i, m := range ms {
		codes[i], vocabs[i], domains[i], ids[i] = m.Code, m.Vocabulary, m.Domain, m.ConceptID
		targets[i] = m.TargetVocabulary.Ptr()
		if m.ValidStart.Valid {
			s := m.ValidStart.Time.Format("2006-01-02")
			starts[i] = &s
		}
		if m.ValidEnd.Valid {
			s := m.ValidEnd.Time.Format("2006-01-02")
			ends[i] = &s
		}
	}
	tag, err := r.q.Exec(ctx, `
		INSERT INTO concept_map
		    (source_code, source_vocabulary, domain, target_concept_id, target_vocabulary, valid_start, valid_end)
		SELECT code, vocab, dom, cid, tv, vs::date, ve::date
		FROM unnest($1::text[], $2::text[], $3::text[], $4::bigint[], $5::text[], $6::text[], $7::text[])
		     AS t(code, vocab, dom, cid, tv, vs, ve)
		ON CONFLICT (source_code, source_vocabulary, domain) DO NOTHING
	`, codes, vocabs, domains, ids, targets, starts, ends)
	if err != nil {
		return 0, perr.FromPostgres(err, "concept insert")
	}
	return tag.RowsAffected(), nil
}

func (r *queries) Unmapped(ctx context.Context) ([]domain.UnmappedCount, error) {
	rows, err := r.q.Query(ctx, `
		SELECT source_vocabulary, domain, COUNT(*)::bigint
		FROM concept_map
		WHERE target_concept_id = 0
		GROUP BY source_vocabulary, domain
		ORDER BY source_vocabulary, domain
	`)
	if err != nil {
		return nil, perr.FromPostgres(err, "concept unmapped")
	}
	defer rows.Close()
	var out []domain.UnmappedCount
	for rows.Next() {
		var u domain.UnmappedCount
		if err := rows.Scan(&u.Vocabulary, &u.Domain, &u.Codes); err != nil {
			return nil, perr.FromPostgres(err, "concept unmapped scan")
		}
		out = append(out, u)
	}
	return out, perr.FromPostgres(rows.Err(), "concept unmapped rows")
}

func (r *queries) Extent(ctx context.Context, src pipeline.Source) (window.Extent, error) {
	lo, hi, n, err := repokit.KeyExtent(ctx, r.q, src.Table, src.KeyColumn)
	if err != nil {
		return window.Extent{}, perr.FromPostgresf(err, "extent %s", src.Table)
	}
	return window.Extent{Min: lo, Max: hi, Total: n}, nil
}
