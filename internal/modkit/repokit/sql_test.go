package repokit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"clinicaletl/internal/platform/store"
)

func TestIdent(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"patients":      `"patients"`,
		"src.patients":  `"src"."patients"`,
		`odd"name`:      `"odd""name"`,
		"Mixed.CaseTbl": `"Mixed"."CaseTbl"`,
	}
	for in, want := range cases {
		if got := Ident(in); got != want {
			t.Fatalf("Ident(%q) = %s want %s", in, got, want)
		}
	}
}

type extentRow struct {
	vals []int64
	err  error
}

func (r extentRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*int64)) = r.vals[i]
	}
	return nil
}

type extentQ struct {
	recQ
	sql string
	row extentRow
}

func (q *extentQ) QueryRow(_ context.Context, sql string, _ ...any) store.Row {
	q.sql = sql
	return q.row
}

func TestKeyExtent(t *testing.T) {
	t.Parallel()

	q := &extentQ{row: extentRow{vals: []int64{1, 101, 100}}}
	lo, hi, n, err := KeyExtent(context.Background(), q, "src.obs", "row_id")
	if err != nil || lo != 1 || hi != 101 || n != 100 {
		t.Fatalf("got %d %d %d %v", lo, hi, n, err)
	}
	if !strings.Contains(q.sql, `FROM "src"."obs"`) || !strings.Contains(q.sql, `MAX("row_id") + 1`) {
		t.Fatalf("sql %s", q.sql)
	}

	boom := errors.New("boom")
	q = &extentQ{row: extentRow{err: boom}}
	if _, _, _, err := KeyExtent(context.Background(), q, "t", "id"); !errors.Is(err, boom) {
		t.Fatalf("err %v", err)
	}
}
