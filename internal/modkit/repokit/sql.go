package repokit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Ident quotes a possibly schema-qualified identifier for interpolation into SQL
func Ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// KeyExtent returns min, max+1 and count of an integer key column. All three
// are zero for an empty table
func KeyExtent(ctx context.Context, q Queryer, table, keyCol string) (lo, hi, n int64, err error) {
	k := Ident(keyCol)
	sql := fmt.Sprintf(`
		SELECT COALESCE(MIN(%[1]s), 0)::bigint,
		       COALESCE(MAX(%[1]s) + 1, 0)::bigint,
		       COUNT(*)::bigint
		FROM %[2]s`, k, Ident(table))
	err = q.QueryRow(ctx, sql).Scan(&lo, &hi, &n)
	return lo, hi, n, err
}
