package middleware

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	perr "clinicaletl/internal/platform/errors"
)

func TestParseOperators(t *testing.T) {
	ops, bad := ParseOperators([]string{"alice=t-1", " bob = t-2 ", "carol", "=t-3", "dave="})
	if len(ops) != 2 || ops["t-1"] != "alice" || ops["t-2"] != "bob" {
		t.Fatalf("ops = %v", ops)
	}
	if !slices.Equal(bad, []string{"carol", "", "dave"}) {
		t.Fatalf("bad = %q", bad)
	}
	if name, ok := ops.Resolve("t-2"); !ok || name != "bob" {
		t.Fatalf("Resolve = %q %v", name, ok)
	}
	if _, ok := ops.Resolve("t-"); ok {
		t.Fatalf("prefix must not resolve")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer t-1":  true,
		"bearer  t-1": true,
		"Basic t-1":   false,
		"Bearer":      false,
		"":            false,
		"Bearert-1":   false,
	}
	for header, ok := range cases {
		req := httptest.NewRequest(http.MethodPost, "/runs", nil)
		req.Header.Set("Authorization", header)
		tok, err := BearerToken(req)
		if ok != (err == nil) || (ok && tok != "t-1") {
			t.Fatalf("%q: tok=%q err=%v", header, tok, err)
		}
		if err != nil && !perr.IsCode(err, perr.ErrorCodeUnauthorized) {
			t.Fatalf("%q: code %v", header, perr.CodeOf(err))
		}
	}
}

func TestRequireOperator(t *testing.T) {
	var who string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { who = Operator(r.Context()) })

	open := RequireOperator(nil)(next)
	serve(open, httptest.NewRequest(http.MethodPost, "/runs", nil))
	if who != "anonymous" {
		t.Fatalf("open route operator = %q", who)
	}

	guarded := RequireOperator(Operators{"t-1": "alice"})(next)
	for header, want := range map[string]int{"": 401, "Bearer nope": 401, "Bearer t-1": 200} {
		who = ""
		req := httptest.NewRequest(http.MethodPost, "/runs", nil)
		req.Header.Set("Authorization", header)
		rec := serve(guarded, req)
		if rec.Code != want {
			t.Fatalf("%q: status %d", header, rec.Code)
		}
		if want == 401 {
			if env := envelope(t, rec); env.Code != perr.ErrorCodeUnauthorized || who != "" {
				t.Fatalf("%q: env=%+v who=%q", header, env, who)
			}
		} else if who != "alice" {
			t.Fatalf("operator = %q", who)
		}
	}
}
