// Package middleware is the request pipeline in front of every API route
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"clinicaletl/internal/platform/config"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	phttp "clinicaletl/internal/platform/net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Options tunes the stack
type Options struct {
	// Timeout cancels a request context after this long
	Timeout time.Duration
	// Slow logs requests at warn level once they take this long; 0 disables
	Slow time.Duration
	// Origins enables CORS for browser dashboards; empty disables it
	Origins []string
}

// FromConfig reads REQUEST_TIMEOUT, SLOW_REQUEST and CORS_ORIGINS from the
// CORE_API_ view
func FromConfig(c config.Conf) Options {
	return Options{
		Timeout: c.MayDuration("REQUEST_TIMEOUT", 30*time.Second),
		Slow:    c.MayDuration("SLOW_REQUEST", time.Second),
		Origins: c.MayCSV("CORS_ORIGINS", nil),
	}
}

// Stack returns the middlewares in the order they wrap a request
func Stack(o Options) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{
		chimw.RealIP,
		RequestID,
		Recover,
		AccessLog(o.Slow),
		chimw.NoCache,
		chimw.StripSlashes,
	}
	if len(o.Origins) > 0 {
		mws = append(mws, cors.Handler(cors.Options{
			AllowedOrigins: o.Origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
	if o.Timeout > 0 {
		mws = append(mws, chimw.Timeout(o.Timeout))
	}
	return mws
}

// RequestID accepts or assigns X-Request-ID, echoes it, and tags the request
// logger with it
func RequestID(next http.Handler) http.Handler {
	return chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chimw.GetReqID(r.Context())
		w.Header().Set(chimw.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequest(r.Context(), id)))
	}))
}

// Recover turns a handler panic into a 500 envelope and logs the stack
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logger.C(r.Context()).Error().
				Str("panic", fmt.Sprint(v)).
				Bytes("stack", debug.Stack()).
				Msg("http: panic recovered")
			phttp.Write(w, r, phttp.Error(perr.PanicErrf("internal error")))
		}()
		next.ServeHTTP(w, r)
	})
}

// AccessLog writes one line per request. Requests slower than slow, and
// server errors, log at warn
func AccessLog(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			log := logger.C(r.Context())
			ev := log.Info()
			if ww.Status() >= http.StatusInternalServerError || (slow > 0 && elapsed >= slow) {
				ev = log.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", elapsed).
				Msg("http: request")
		})
	}
}
