package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErr(code string) error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "server says no"})
}

func TestDBErrorCode(t *testing.T) {
	for state, want := range map[string]ErrorCode{
		"23505": ErrorCodeDuplicateKey,
		"23503": ErrorCodeIntegrity,
		"23502": ErrorCodeValidation,
		"22P02": ErrorCodeDataQuality,
		"22008": ErrorCodeDataQuality,
		"40P01": ErrorCodeTransientIO,
		"55P03": ErrorCodeTransientIO,
		"08006": ErrorCodeTransientIO,
		"25006": ErrorCodeUnavailable,
		"42P01": ErrorCodeDB,
	} {
		got, ok := DBErrorCode(pgErr(state))
		if !ok || got != want {
			t.Fatalf("DBErrorCode(%s) = %v,%v want %v", state, got, ok, want)
		}
	}
	if _, ok := DBErrorCode(stderrs.New("dial tcp: refused")); ok {
		t.Fatalf("non-server error should not classify")
	}
}

func TestFromPostgres(t *testing.T) {
	if FromPostgres(nil, "x") != nil || FromPostgresf(nil, "x %d", 1) != nil {
		t.Fatalf("nil must stay nil")
	}
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{pgErr("23503"), ErrorCodeIntegrity},
		{io.ErrUnexpectedEOF, ErrorCodeTransientIO},
		{stderrs.New("syntax is wrong"), ErrorCodeDB},
	}
	for _, c := range cases {
		err := FromPostgresf(c.err, "insert %s", "measurement")
		if !IsCode(err, c.want) || !stderrs.Is(err, c.err) {
			t.Fatalf("FromPostgres(%v) = %v", c.err, err)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":                {nil, false},
		"cancelled":          {fmt.Errorf("window: %w", context.Canceled), false},
		"serialization":      {pgErr("40001"), true},
		"lock timeout":       {pgErr("55P03"), true},
		"admin shutdown":     {pgErr("57P01"), false},
		"unique":             {pgErr("23505"), false},
		"commit rolled back": {stderrs.New("commit unexpectedly resulted in rollback"), true},
	}
	for name, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Fatalf("%s: IsRetryable = %v", name, got)
		}
	}
}

func TestIsTransientAndClassify(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":            {nil, false},
		"deadline":       {context.DeadlineExceeded, false},
		"admin shutdown": {pgErr("57P01"), true},
		"conn class":     {pgErr("08003"), true},
		"eof":            {io.ErrUnexpectedEOF, true},
		"reset text":     {stderrs.New("read tcp: connection reset by peer"), true},
		"not null":       {pgErr("23502"), false},
	}
	for name, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Fatalf("%s: IsTransient = %v", name, got)
		}
	}

	if !IsCode(Classify(io.EOF, "read window"), ErrorCodeTransientIO) {
		t.Fatalf("Classify(eof) should be transient")
	}
	if !IsCode(Classify(pgErr("23502"), "insert"), ErrorCodeValidation) {
		t.Fatalf("Classify should fall back to the SQLSTATE")
	}
	tagged := Integrityf("missing subject")
	if Classify(tagged, "x") != tagged || Classify(nil, "x") != nil {
		t.Fatalf("Classify must keep tagged and nil errors")
	}
}
