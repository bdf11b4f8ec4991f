// Package logger builds the process logger and derives run-scoped children.
// Every ETL log line can carry run_id and stage from its context
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clinicaletl/internal/platform/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is the project-wide logging type
type Logger = zerolog.Logger

// Options configures the root logger
type Options struct {
	Level       string
	Format      string // console or json
	Service     string
	Component   string
	Writer      io.Writer
	WithCaller  bool
	SampleEvery int
	Static      map[string]string
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_SERVICE, LOG_COMPONENT,
// LOG_CALLER and LOG_SAMPLE_EVERY
func FromEnv() Options {
	c := config.New().Prefix("LOG_")
	return Options{
		Level:       c.MayString("LEVEL", "info"),
		Format:      strings.ToLower(c.MayString("FORMAT", "console")),
		Service:     c.MayString("SERVICE", ""),
		Component:   c.MayString("COMPONENT", ""),
		WithCaller:  c.MayBool("CALLER", false),
		SampleEvery: c.MayInt("SAMPLE_EVERY", 0),
	}
}

var (
	once sync.Once
	root atomic.Pointer[zerolog.Logger]
)

// Init installs the root logger. Only the first call has any effect
func Init(opt Options) {
	once.Do(func() {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
		zerolog.TimeFieldFormat = time.RFC3339Nano
		l := Build(opt)
		root.Store(&l)
	})
}

// Build returns a logger for opt without installing it
func Build(opt Options) Logger {
	w := opt.Writer
	if w == nil {
		w = os.Stderr
	}
	if opt.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	b := zerolog.New(w).Level(ParseLevel(opt.Level)).With().Timestamp()
	if bi, ok := debug.ReadBuildInfo(); ok {
		b = b.Str("go_version", bi.GoVersion)
	}
	for k, v := range map[string]string{"service": opt.Service, "component": opt.Component} {
		if v != "" {
			b = b.Str(k, v)
		}
	}
	for k, v := range opt.Static {
		b = b.Str(k, v)
	}
	if opt.WithCaller {
		b = b.Caller()
	}

	l := b.Logger()
	if opt.SampleEvery > 1 {
		l = l.Sample(&zerolog.BasicSampler{N: uint32(opt.SampleEvery)})
	}
	return l
}

// ParseLevel maps a level name to zerolog, defaulting to info
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Get returns the root logger, initialising it from the environment on first use
func Get() *Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Init(FromEnv())
	return root.Load()
}

// Replace installs l as the root logger and returns a func restoring the
// previous one
func Replace(l Logger) (restore func()) {
	prev := Get()
	root.Store(&l)
	return func() { root.Store(prev) }
}

// Named returns a child tagged with component
func Named(component string) *Logger {
	if component == "" {
		return Get()
	}
	l := Get().With().Str("component", component).Logger()
	return &l
}

type ctxKey string

const (
	keyRequestID ctxKey = "request_id"
	keyRunID     ctxKey = "run_id"
	keyStage     ctxKey = "stage"
)

func with(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

// WithRequest tags ctx with an http request id
func WithRequest(ctx context.Context, id string) context.Context { return with(ctx, keyRequestID, id) }

// WithRun tags ctx with the orchestrator run id
func WithRun(ctx context.Context, id string) context.Context { return with(ctx, keyRunID, id) }

// WithStage tags ctx with the executing stage
func WithStage(ctx context.Context, stage string) context.Context { return with(ctx, keyStage, stage) }

// RunID returns the run id on ctx
func RunID(ctx context.Context) string {
	s, _ := ctx.Value(keyRunID).(string)
	return s
}

// RequestID returns the request id on ctx
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(keyRequestID).(string)
	return s
}

// C returns the root logger enriched with request_id, run_id and stage from ctx
func C(ctx context.Context) *Logger {
	b := Get().With()
	for _, k := range []ctxKey{keyRequestID, keyRunID, keyStage} {
		if s, _ := ctx.Value(k).(string); s != "" {
			b = b.Str(string(k), s)
		}
	}
	l := b.Logger()
	return &l
}
