package derive

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SelectExpr is the SQL expression that renders column col of kind k in the
// text form Equal understands
func SelectExpr(k Kind, col string) string {
	switch k {
	case KindDate:
		return "to_char(" + col + ", 'YYYY-MM-DD')"
	case KindDateTime:
		return `to_char(` + col + ` AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`
	default:
		return col + "::text"
	}
}

// Equal reports whether a stored value (as rendered by SelectExpr, nil for
// NULL) matches the derived value v
func Equal(v Value, stored *string) bool {
	if v.IsNull() || stored == nil {
		return v.IsNull() && stored == nil
	}
	s := strings.TrimSpace(*stored)
	switch v.Kind {
	case KindNumeric:
		n, err := decimal.NewFromString(s)
		return err == nil && v.Num.Valid && n.Equal(v.Num.Decimal)
	case KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		return err == nil && n == v.Int.Int64
	case KindBoolean:
		b, ok := parseBool(s)
		return ok && b == v.Bool.Bool
	case KindDate:
		return s == v.Text.String
	case KindDateTime:
		t, err := time.Parse(time.RFC3339Nano, s)
		// Postgres rounds to microseconds on store
		return err == nil && t.Equal(v.Time.Time.Round(time.Microsecond))
	default:
		return s == v.Text.String
	}
}
