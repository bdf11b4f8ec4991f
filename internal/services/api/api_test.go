package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	phttp "clinicaletl/internal/platform/net/http"
)

type echoModule struct{}

func (echoModule) Name() string { return "echo" }
func (echoModule) MountRoutes(r phttp.Router) {
	phttp.Get(r, "/echo", func(*http.Request) (any, error) { return "hi", nil })
}

func serve(t *testing.T, env map[string]string, path string) *httptest.ResponseRecorder {
	t.Helper()
	h := Handler(Options{Config: config.FromMap(env), Routes: []modkit.Module{echoModule{}}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Routes(t *testing.T) {
	for _, path := range []string{"/health", "/api/v1/meta/health", "/api/v1/meta/ready", "/api/v1/echo"} {
		rec := serve(t, nil, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", path, rec.Code, rec.Body.String())
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: no request id", path)
		}
	}
	var env phttp.Envelope
	_ = json.Unmarshal(serve(t, nil, "/api/v1/echo").Body.Bytes(), &env)
	if env.Data != "hi" {
		t.Fatalf("echo %+v", env)
	}
}

func TestHandler_Docs(t *testing.T) {
	rec := serve(t, nil, "/api/docs/doc.json")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"/runs"`) {
		t.Fatalf("doc %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(t, map[string]string{"SWAGGER": "false"}, "/api/docs/doc.json"); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled docs %d", rec.Code)
	}
}

func TestHandler_Profiler(t *testing.T) {
	if rec := serve(t, nil, "/debug/vars"); rec.Code != http.StatusNotFound {
		t.Fatalf("profiler off %d", rec.Code)
	}
	if rec := serve(t, map[string]string{"PROFILER": "true"}, "/debug/vars"); rec.Code != http.StatusOK {
		t.Fatalf("profiler on %d", rec.Code)
	}
}
