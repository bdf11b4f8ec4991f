// Package derive turns raw source text into typed target values: numeric and
// boolean coercion, date and datetime normalization, defaults for missing
// optional fields. Failures are DataQuality errors naming the column
package derive

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"clinicaletl/internal/core/codes"
	perr "clinicaletl/internal/platform/errors"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v3"
)

// Kind is the target type of a derived field
type Kind string

// Supported kinds
const (
	KindText     Kind = "text"
	KindNumeric  Kind = "numeric"
	KindInteger  Kind = "integer"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindNumeric, KindInteger, KindBoolean, KindDate, KindDateTime:
		return true
	}
	return false
}

// SQLType is the Postgres column type used for k
func (k Kind) SQLType() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindInteger:
		return "bigint"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindDateTime:
		return "timestamptz"
	default:
		return "text"
	}
}

// Field declares how one target column is derived from one source column
type Field struct {
	Name     string // target column
	Column   string // source column
	Kind     Kind
	Required bool
	Default  string // used when the source value is missing
	MaxLen   int    // text only; 0 = unbounded
}

// Value is a derived value. Text holds the canonical text form handed to SQL;
// it is invalid when the value is NULL
type Value struct {
	Kind Kind
	Text null.String
	Num  decimal.NullDecimal
	Int  null.Int
	Bool null.Bool
	Time null.Time
}

// IsNull reports whether the value is SQL NULL
func (v Value) IsNull() bool { return !v.Text.Valid }

// Ptr returns the canonical text or nil for NULL
func (v Value) Ptr() *string { return v.Text.Ptr() }

// Options tune coercion
type Options struct {
	// Location interprets timestamps without an explicit zone; nil = UTC
	Location *time.Location
}

// Deriver coerces raw values under fixed Options
type Deriver struct {
	loc *time.Location
}

// New returns a Deriver
func New(opt Options) *Deriver {
	loc := opt.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Deriver{loc: loc}
}

// Coerce derives f from raw (nil = SQL NULL in the source)
func (d *Deriver) Coerce(f Field, raw *string) (Value, error) {
	s := ""
	if raw != nil {
		s = strings.TrimSpace(*raw)
	}
	if s == "" {
		switch {
		case f.Default != "":
			s = f.Default
		case f.Required:
			return Value{}, fieldErr(f, raw, "missing required value")
		default:
			return Value{Kind: f.Kind}, nil
		}
	}

	v := Value{Kind: f.Kind}
	switch f.Kind {
	case KindNumeric:
		n, ok := parseDecimal(s)
		if !ok {
			return Value{}, fieldErr(f, raw, "not a number")
		}
		v.Num = decimal.NewNullDecimal(n)
		v.Text = null.StringFrom(n.String())

	case KindInteger:
		n, ok := parseDecimal(s)
		if !ok || !n.IsInteger() || !n.BigInt().IsInt64() {
			return Value{}, fieldErr(f, raw, "not an integer")
		}
		v.Int = null.IntFrom(n.IntPart())
		v.Text = null.StringFrom(strconv.FormatInt(v.Int.Int64, 10))

	case KindBoolean:
		b, ok := parseBool(s)
		if !ok {
			return Value{}, fieldErr(f, raw, "not a boolean")
		}
		v.Bool = null.BoolFrom(b)
		v.Text = null.StringFrom(strconv.FormatBool(b))

	case KindDate:
		t, err := dateparse.ParseIn(s, d.loc)
		if err != nil {
			return Value{}, fieldErr(f, raw, "not a date")
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		v.Time = null.TimeFrom(day)
		v.Text = null.StringFrom(day.Format(time.DateOnly))

	case KindDateTime:
		t, err := dateparse.ParseIn(s, d.loc)
		if err != nil {
			return Value{}, fieldErr(f, raw, "not a timestamp")
		}
		t = t.UTC()
		v.Time = null.TimeFrom(t)
		v.Text = null.StringFrom(t.Format(time.RFC3339Nano))

	default:
		txt := codes.Text(s)
		if f.MaxLen > 0 && len([]rune(txt)) > f.MaxLen {
			return Value{}, fieldErr(f, raw, fmt.Sprintf("longer than %d characters", f.MaxLen))
		}
		v.Kind = KindText
		v.Text = null.StringFrom(txt)
	}
	return v, nil
}

// Row derives every field; all failing columns are reported, not just the first
func (d *Deriver) Row(fields []Field, raw map[string]*string) (map[string]Value, []error) {
	out := make(map[string]Value, len(fields))
	var errs []error
	for _, f := range fields {
		v, err := d.Coerce(f, raw[f.Column])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[f.Name] = v
	}
	return out, errs
}

// decimalText accepts plain and exponent notation. Thousands separators are
// allowed only in groups of three before the point
var decimalText = regexp.MustCompile(`^[+-]?(?:(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d{1,3})?$`)

// parseDecimal parses s exactly; no float rounding happens on the way to
// a numeric column
func parseDecimal(s string) (decimal.Decimal, bool) {
	if !decimalText.MatchString(s) {
		return decimal.Decimal{}, false
	}
	n, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return n, true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "y", "yes":
		return true, true
	case "0", "f", "false", "n", "no":
		return false, true
	}
	return false, false
}

// FieldError carries the offending column and raw text of a DataQuality failure
type FieldError struct {
	Column string
	Raw    *string
	Reason string
}

func (e *FieldError) Error() string { return e.Column + ": " + e.Reason }

func fieldErr(f Field, raw *string, reason string) error {
	fe := &FieldError{Column: f.Column, Raw: raw, Reason: reason}
	return perr.WithField(perr.Wrap(fe, perr.ErrorCodeDataQuality, "derive "+f.Name), f.Column)
}

// AsFieldError extracts the FieldError behind a Coerce failure
func AsFieldError(err error) (*FieldError, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
