package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"clinicaletl/internal/platform/config"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	phttp "clinicaletl/internal/platform/net/http"
	kit "clinicaletl/internal/platform/testkit"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) phttp.Envelope {
	t.Helper()
	var env phttp.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestFromConfig(t *testing.T) {
	o := FromConfig(config.FromMap(map[string]string{
		"CORE_API_REQUEST_TIMEOUT": "5s",
		"CORE_API_CORS_ORIGINS":    "https://ops.example.org, https://dash.example.org",
	}).Prefix("CORE_API_"))
	if o.Timeout != 5*time.Second || o.Slow != time.Second {
		t.Fatalf("opts = %+v", o)
	}
	if !slices.Equal(o.Origins, []string{"https://ops.example.org", "https://dash.example.org"}) {
		t.Fatalf("origins = %v", o.Origins)
	}
	if n := len(Stack(Options{})); n != 6 {
		t.Fatalf("bare stack has %d middlewares", n)
	}
	if n := len(Stack(o)); n != 8 {
		t.Fatalf("full stack has %d middlewares", n)
	}
}

func TestRequestID_EchoesAndTagsContext(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := serve(h, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-Id") != "abc-123" {
		t.Fatalf("seen=%q header=%q", seen, rec.Header().Get("X-Request-Id"))
	}

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/progress", nil))
	if seen == "" || rec.Header().Get("X-Request-Id") != seen {
		t.Fatalf("generated id not propagated: %q", seen)
	}
}

func TestRecover_WritesPanicEnvelope(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("nil stage") }))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/progress/stages", nil))
	env := envelope(t, rec)
	if rec.Code != 500 || env.Code != perr.ErrorCodePanic || env.Error != "internal error" {
		t.Fatalf("panic response = %d %+v", rec.Code, env)
	}

	abort := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }))
	kit.MustPanic(t, func() { serve(abort, httptest.NewRequest(http.MethodGet, "/", nil)) })
}

func TestAccessLog_LevelsByStatusAndLatency(t *testing.T) {
	kit.Serial(t)
	var buf bytes.Buffer
	l := logger.Build(logger.Options{Level: "info", Format: "json", Writer: &buf})
	t.Cleanup(logger.Replace(l))

	fail := AccessLog(0)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	serve(fail, httptest.NewRequest(http.MethodGet, "/meta/ready", nil))
	kit.MustContain(t, buf.String(), `"level":"warn"`)
	kit.MustContain(t, buf.String(), `"status":503`)
	kit.MustContain(t, buf.String(), `"path":"/meta/ready"`)

	buf.Reset()
	ok := AccessLog(time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	serve(ok, httptest.NewRequest(http.MethodGet, "/progress", nil))
	kit.MustContain(t, buf.String(), `"level":"info"`)
	kit.MustContain(t, buf.String(), `"bytes":2`)
}

func TestCORS_PreflightWhenOriginsSet(t *testing.T) {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	mws := Stack(Options{Origins: []string{"https://ops.example.org"}})
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "https://ops.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(h, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.org" {
		t.Fatalf("allow origin = %q", got)
	}
}
