package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	perr "clinicaletl/internal/platform/errors"
	phttp "clinicaletl/internal/platform/net/http"
	"clinicaletl/internal/platform/net/middleware"
	"clinicaletl/internal/services/progress/domain"
)

type fakePorts struct {
	running bool
	got     domain.RunRequest
}

func (f *fakePorts) Report(context.Context) (domain.Report, error) {
	return domain.Report{Percent: 42, Stages: []domain.StageProgress{{Stage: "person_ids"}}}, nil
}

func (f *fakePorts) Stages(context.Context) ([]domain.StageProgress, error) {
	return []domain.StageProgress{{Stage: "person_ids", Percent: 100}}, nil
}

func (f *fakePorts) Unmapped(context.Context) ([]domain.UnmappedCount, error) {
	return []domain.UnmappedCount{{Vocabulary: "V1", Domain: "Condition", Codes: 1}}, nil
}

func (f *fakePorts) Trigger(_ context.Context, in domain.RunRequest) (string, error) {
	if f.running {
		return "", perr.Conflictf("run already in progress")
	}
	f.got = in
	return "run-1", nil
}

func serve(t *testing.T, p domain.Ports, method, path, body string) (int, phttp.Envelope) {
	t.Helper()
	return serveAuth(t, p, nil, method, path, body, "")
}

func serveAuth(t *testing.T, p domain.Ports, ops middleware.Operators, method, path, body, token string) (int, phttp.Envelope) {
	t.Helper()
	r := phttp.NewRouter()
	r.Route("/api/v1", func(api phttp.Router) { Register(api, p, middleware.RequireOperator(ops)) })

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env phttp.Envelope
	if rec.Code != stdhttp.StatusNoContent {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func TestReadEndpoints(t *testing.T) {
	t.Parallel()

	p := &fakePorts{}
	for _, path := range []string{"/api/v1/progress", "/api/v1/progress/stages", "/api/v1/progress/unmapped"} {
		code, env := serve(t, p, stdhttp.MethodGet, path, "")
		if code != stdhttp.StatusOK || env.Data == nil {
			t.Fatalf("%s: %d %+v", path, code, env)
		}
	}
	_, env := serve(t, p, stdhttp.MethodGet, "/api/v1/progress/unmapped", "")
	rows, _ := json.Marshal(env.Data)
	if !strings.Contains(string(rows), `"domain":"Condition"`) {
		t.Fatalf("unmapped body %s", rows)
	}
}

func TestTrigger_AcceptedConflictAndValidation(t *testing.T) {
	t.Parallel()

	p := &fakePorts{}
	code, env := serve(t, p, stdhttp.MethodPost, "/api/v1/runs", `{"steps":["observations"],"force":true,"parallelism":2}`)
	if code != stdhttp.StatusAccepted {
		t.Fatalf("status %d %+v", code, env)
	}
	if !p.got.Force || p.got.Parallelism != 2 || p.got.Steps[0] != "observations" {
		t.Fatalf("request %+v", p.got)
	}

	if code, _ := serve(t, p, stdhttp.MethodPost, "/api/v1/runs", ""); code != stdhttp.StatusAccepted {
		t.Fatalf("empty body %d", code)
	}

	code, env = serve(t, p, stdhttp.MethodPost, "/api/v1/runs", `{"parallelism":-1}`)
	if code != stdhttp.StatusBadRequest || env.Code != perr.ErrorCodeValidation {
		t.Fatalf("invalid %d %+v", code, env)
	}
	if code, _ := serve(t, p, stdhttp.MethodPost, "/api/v1/runs", `{"bogus":1}`); code != stdhttp.StatusBadRequest {
		t.Fatalf("unknown field %d", code)
	}
	code, env = serve(t, p, stdhttp.MethodPost, "/api/v1/runs", `{"steps":["Person IDs"]}`)
	if code != stdhttp.StatusBadRequest || env.Field != "steps[0]" {
		t.Fatalf("bad step name %d %+v", code, env)
	}

	p.running = true
	code, env = serve(t, p, stdhttp.MethodPost, "/api/v1/runs", `{}`)
	if code != stdhttp.StatusConflict || env.Code != perr.ErrorCodeConflict {
		t.Fatalf("conflict %d %+v", code, env)
	}
}

func TestTrigger_OperatorToken(t *testing.T) {
	t.Parallel()

	p := &fakePorts{}
	auth := middleware.Operators{"s3cret": "ops"}

	code, env := serveAuth(t, p, auth, stdhttp.MethodPost, "/api/v1/runs", `{}`, "")
	if code != stdhttp.StatusUnauthorized || env.Code != perr.ErrorCodeUnauthorized {
		t.Fatalf("no token %d %+v", code, env)
	}
	if code, _ := serveAuth(t, p, auth, stdhttp.MethodPost, "/api/v1/runs", `{}`, "wrong"); code != stdhttp.StatusUnauthorized {
		t.Fatalf("wrong token %d", code)
	}
	if code, _ := serveAuth(t, p, auth, stdhttp.MethodPost, "/api/v1/runs", `{}`, "s3cret"); code != stdhttp.StatusAccepted {
		t.Fatalf("good token %d", code)
	}
	// reads stay open
	if code, _ := serveAuth(t, p, auth, stdhttp.MethodGet, "/api/v1/progress", "", ""); code != stdhttp.StatusOK {
		t.Fatalf("read %d", code)
	}
}
