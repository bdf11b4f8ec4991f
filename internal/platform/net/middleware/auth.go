package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	perr "clinicaletl/internal/platform/errors"
	phttp "clinicaletl/internal/platform/net/http"
)

// Operators maps bearer token to operator name
type Operators map[string]string

// ParseOperators reads operator=token pairs. Malformed entries are returned
// separately so the caller can report them
func ParseOperators(pairs []string) (ops Operators, bad []string) {
	ops = Operators{}
	for _, p := range pairs {
		name, tok, ok := strings.Cut(p, "=")
		name, tok = strings.TrimSpace(name), strings.TrimSpace(tok)
		if !ok || name == "" || tok == "" {
			bad = append(bad, name)
			continue
		}
		ops[tok] = name
	}
	return ops, bad
}

// Resolve returns the operator holding token. Every entry is compared in
// constant time
func (o Operators) Resolve(token string) (string, bool) {
	found := ""
	for known, name := range o {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			found = name
		}
	}
	return found, found != ""
}

// BearerToken returns the token from an Authorization: Bearer header
func BearerToken(r *http.Request) (string, error) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	tok = strings.TrimSpace(tok)
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", perr.Unauthorizedf("missing bearer token")
	}
	return tok, nil
}

type operatorKey struct{}

// Operator returns who sent the request, or "anonymous" on an open route
func Operator(ctx context.Context) string {
	if s, _ := ctx.Value(operatorKey{}).(string); s != "" {
		return s
	}
	return "anonymous"
}

// RequireOperator admits only requests with a known bearer token. With no
// operators configured every request passes as anonymous
func RequireOperator(ops Operators) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(ops) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := BearerToken(r)
			if err != nil {
				phttp.Write(w, r, phttp.Error(err))
				return
			}
			name, ok := ops.Resolve(tok)
			if !ok {
				phttp.Write(w, r, phttp.Error(perr.Unauthorizedf("unknown operator token")))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, name)))
		})
	}
}
