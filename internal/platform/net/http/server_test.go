package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinicaletl/internal/platform/config"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	kit "clinicaletl/internal/platform/testkit"
)

func TestServerFromConfig(t *testing.T) {
	c := ServerFromConfig(config.FromMap(map[string]string{"CORE_API_PORT": "8088"}).Prefix("CORE_API_"))
	if c.Addr != ":8088" || c.ShutdownTimeout != 15*time.Second {
		t.Fatalf("cfg = %+v", c)
	}
	c = ServerFromConfig(config.FromMap(map[string]string{
		"PORT": "127.0.0.1:9000", "SHUTDOWN_TIMEOUT": "2s",
	}))
	if c.Addr != "127.0.0.1:9000" || c.ShutdownTimeout != 2*time.Second {
		t.Fatalf("cfg = %+v", c)
	}
	if c := ServerFromConfig(config.FromMap(nil)); c.Addr != ":4000" {
		t.Fatalf("default addr = %q", c.Addr)
	}
}

func TestServerRun_DrainsOnCancel(t *testing.T) {
	kit.Serial(t)
	kit.Swap(t, &listen, func(s *stdhttp.Server) error {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		return s.Serve(ln)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(ServerConfig{Addr: ":0", ShutdownTimeout: time.Second}, NewRouter()).Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestServerRun_ListenError(t *testing.T) {
	kit.Serial(t)
	busy := errors.New("listen tcp :4000: address already in use")
	kit.Swap(t, &listen, func(*stdhttp.Server) error { return busy })
	err := NewServer(ServerConfig{Addr: ":4000"}, NewRouter()).Run(context.Background())
	if !errors.Is(err, busy) {
		t.Fatalf("err = %v", err)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestGet_WritesEnvelope(t *testing.T) {
	r := NewRouter()
	Get(r, "/progress", func(*stdhttp.Request) (any, error) {
		return map[string]int{"person": 10}, nil
	})
	Get(r, "/progress/unmapped", func(*stdhttp.Request) (any, error) {
		return nil, perr.WithField(perr.InvalidArgf("unknown vocabulary"), "vocabulary")
	})

	req := httptest.NewRequest(stdhttp.MethodGet, "/progress", nil)
	req = req.WithContext(logger.WithRequest(req.Context(), "req-9"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	env := decode(t, rec)
	if rec.Code != 200 || env.Status != "OK" || env.RequestID != "req-9" || env.Data == nil {
		t.Fatalf("ok envelope = %d %+v", rec.Code, env)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/progress/unmapped", nil))
	env = decode(t, rec)
	if rec.Code != stdhttp.StatusUnprocessableEntity || env.Code != perr.ErrorCodeInvalidArgument ||
		env.Field != "vocabulary" || env.Error != "unknown vocabulary" || env.Data != nil {
		t.Fatalf("error envelope = %d %+v", rec.Code, env)
	}
}

func TestHandle_Accepted(t *testing.T) {
	h := Handle(func(*stdhttp.Request) Response { return Accepted(map[string]string{"run_id": "r1"}) })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(stdhttp.MethodPost, "/runs", nil))
	if env := decode(t, rec); rec.Code != stdhttp.StatusAccepted || env.StatusCode != 202 {
		t.Fatalf("accepted = %d %+v", rec.Code, env)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestMountDocs(t *testing.T) {
	kit.Serial(t)
	kit.Swap(t, &readDoc, func(name string) (string, error) {
		if name != "etl" {
			return "", errors.New("no such instance")
		}
		return `{"openapi":"3.0.3","paths":{"/progress":{}}}`, nil
	})

	r := NewRouter()
	MountDocs(r, "etl")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/api/docs/doc.json", nil))
	if rec.Code != 200 || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("doc.json = %d %v", rec.Code, rec.Header())
	}
	kit.MustContain(t, rec.Body.String(), `"/progress"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/api/docs", nil))
	if rec.Code != stdhttp.StatusPermanentRedirect {
		t.Fatalf("redirect = %d", rec.Code)
	}

	missing := NewRouter()
	MountDocs(missing, "other")
	rec = httptest.NewRecorder()
	missing.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/api/docs/doc.json", nil))
	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("unregistered = %d", rec.Code)
	}
}

func TestMountProfiler(t *testing.T) {
	r := NewRouter()
	MountProfiler(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/debug/pprof/cmdline", nil))
	if rec.Code != 200 {
		t.Fatalf("pprof = %d", rec.Code)
	}
}
