package derive

import (
	"testing"
	"time"

	perr "clinicaletl/internal/platform/errors"
)

func sp(s string) *string { return &s }

func TestCoerce_Kinds(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	cases := []struct {
		name string
		f    Field
		raw  *string
		want string
	}{
		{"numeric", Field{Name: "v", Column: "v", Kind: KindNumeric}, sp(" 12.50 "), "12.5"},
		{"numeric thousands", Field{Name: "v", Column: "v", Kind: KindNumeric}, sp("1,234.5"), "1234.5"},
		{"numeric grouped", Field{Name: "v", Column: "v", Kind: KindNumeric}, sp("-1,234,567.25"), "-1234567.25"},
		{"numeric exact past float", Field{Name: "v", Column: "v", Kind: KindNumeric}, sp("12345678901234567.89"), "12345678901234567.89"},
		{"numeric exponent", Field{Name: "v", Column: "v", Kind: KindNumeric}, sp("1.5e3"), "1500"},
		{"numeric leading point", Field{Name: "v", Column: "v", Kind: KindNumeric}, sp(".25"), "0.25"},
		{"integer", Field{Name: "n", Column: "n", Kind: KindInteger}, sp("42"), "42"},
		{"integer from whole float", Field{Name: "n", Column: "n", Kind: KindInteger}, sp("42.0"), "42"},
		{"integer grouped", Field{Name: "n", Column: "n", Kind: KindInteger}, sp("9,007,199,254,740,993"), "9007199254740993"},
		{"boolean yes", Field{Name: "b", Column: "b", Kind: KindBoolean}, sp("Yes"), "true"},
		{"boolean 0", Field{Name: "b", Column: "b", Kind: KindBoolean}, sp("0"), "false"},
		{"date iso", Field{Name: "d", Column: "d", Kind: KindDate}, sp("2021-03-04"), "2021-03-04"},
		{"date slashes", Field{Name: "d", Column: "d", Kind: KindDate}, sp("03/04/2021"), "2021-03-04"},
		{"datetime", Field{Name: "ts", Column: "ts", Kind: KindDateTime}, sp("2021-03-04 05:06:07"), "2021-03-04T05:06:07Z"},
		{"text collapses", Field{Name: "s", Column: "s", Kind: KindText}, sp(" a  b "), "a b"},
		{"default applied", Field{Name: "u", Column: "u", Kind: KindText, Default: "mg"}, sp("   "), "mg"},
	}
	for _, tc := range cases {
		v, err := d.Coerce(tc.f, tc.raw)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if v.IsNull() || *v.Ptr() != tc.want {
			t.Fatalf("%s: got %v, want %q", tc.name, v.Ptr(), tc.want)
		}
	}
}

func TestCoerce_MissingOptionalIsNull(t *testing.T) {
	t.Parallel()

	v, err := New(Options{}).Coerce(Field{Name: "v", Column: "v", Kind: KindNumeric}, nil)
	if err != nil || !v.IsNull() || v.Ptr() != nil {
		t.Fatalf("want NULL, got %+v err=%v", v, err)
	}
}

func TestCoerce_FailuresAreDataQuality(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	bad := []struct {
		f   Field
		raw *string
	}{
		{Field{Name: "v", Column: "value_raw", Kind: KindNumeric}, sp("12,5mg")},
		{Field{Name: "v", Column: "value_raw", Kind: KindNumeric}, sp("NaN")},
		{Field{Name: "v", Column: "value_raw", Kind: KindNumeric}, sp("1,5")},
		{Field{Name: "v", Column: "value_raw", Kind: KindNumeric}, sp("12,34.5")},
		{Field{Name: "v", Column: "value_raw", Kind: KindNumeric}, sp("1.2.3")},
		{Field{Name: "v", Column: "value_raw", Kind: KindNumeric}, sp("Inf")},
		{Field{Name: "v", Column: "value_raw", Kind: KindNumeric}, sp("1e99999")},
		{Field{Name: "n", Column: "n", Kind: KindInteger}, sp("99999999999999999999")},
		{Field{Name: "n", Column: "n", Kind: KindInteger}, sp("4.5")},
		{Field{Name: "b", Column: "b", Kind: KindBoolean}, sp("maybe")},
		{Field{Name: "d", Column: "d", Kind: KindDate}, sp("not a date")},
		{Field{Name: "r", Column: "r", Kind: KindText, Required: true}, nil},
		{Field{Name: "s", Column: "s", Kind: KindText, MaxLen: 3}, sp("abcd")},
	}
	for _, tc := range bad {
		_, err := d.Coerce(tc.f, tc.raw)
		if !perr.IsCode(err, perr.ErrorCodeDataQuality) {
			t.Fatalf("%s(%v): want data quality error, got %v", tc.f.Kind, tc.raw, err)
		}
		fe, ok := AsFieldError(err)
		if !ok || fe.Column != tc.f.Column {
			t.Fatalf("missing field error detail: %v", err)
		}
	}
}

func TestCoerce_LocationAppliesToNaiveTimestamps(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	v, err := New(Options{Location: loc}).Coerce(Field{Name: "ts", Column: "ts", Kind: KindDateTime}, sp("2021-03-04 05:06:07"))
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	if *v.Ptr() != "2021-03-04T10:06:07Z" {
		t.Fatalf("got %s", *v.Ptr())
	}
}

func TestRow_ReportsEveryFailingColumn(t *testing.T) {
	t.Parallel()

	fields := []Field{
		{Name: "a", Column: "a", Kind: KindNumeric},
		{Name: "b", Column: "b", Kind: KindInteger},
		{Name: "c", Column: "c", Kind: KindText},
	}
	vals, errs := New(Options{}).Row(fields, map[string]*string{"a": sp("x"), "b": sp("y"), "c": sp("ok")})
	if len(errs) != 2 {
		t.Fatalf("want 2 errors, got %d", len(errs))
	}
	if vals["c"].Text.String != "ok" {
		t.Fatalf("valid column lost: %+v", vals)
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	num, _ := d.Coerce(Field{Kind: KindNumeric}, sp("12.50"))
	ts, _ := d.Coerce(Field{Kind: KindDateTime}, sp("2021-03-04T05:06:07.123456Z"))
	fine, _ := d.Coerce(Field{Kind: KindDateTime}, sp("2021-03-04T05:06:07.1234567Z"))
	big, _ := d.Coerce(Field{Kind: KindNumeric}, sp("12345678901234567.89"))
	day, _ := d.Coerce(Field{Kind: KindDate}, sp("2021-03-04"))
	flag, _ := d.Coerce(Field{Kind: KindBoolean}, sp("t"))
	missing := Value{Kind: KindNumeric}

	cases := []struct {
		v      Value
		stored *string
		want   bool
	}{
		{num, sp("12.5000"), true},
		{num, sp("12.51"), false},
		{ts, sp("2021-03-04T05:06:07.123456Z"), true},
		{ts, sp("2021-03-04T05:06:08.123456Z"), false},
		// stored value is rounded, not truncated
		{fine, sp("2021-03-04T05:06:07.123457Z"), true},
		{fine, sp("2021-03-04T05:06:07.123456Z"), false},
		{big, sp("12345678901234567.890"), true},
		{big, sp("12345678901234567.88"), false},
		{day, sp("2021-03-04"), true},
		{flag, sp("true"), true},
		{missing, nil, true},
		{missing, sp("1"), false},
		{num, nil, false},
	}
	for i, c := range cases {
		if got := Equal(c.v, c.stored); got != c.want {
			t.Fatalf("case %d: Equal = %v, want %v", i, got, c.want)
		}
	}
}

func TestSelectExpr(t *testing.T) {
	t.Parallel()

	if got := SelectExpr(KindNumeric, "t.value"); got != "t.value::text" {
		t.Fatalf("numeric expr %q", got)
	}
	if got := SelectExpr(KindDate, "t.d"); got != "to_char(t.d, 'YYYY-MM-DD')" {
		t.Fatalf("date expr %q", got)
	}
}
