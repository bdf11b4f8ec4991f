// Package http serves the ETL progress API: chi routing, the JSON envelope,
// API docs and the listener lifecycle
package http

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

// Router is the route table handlers mount on
type Router = chi.Router

// NewRouter returns an empty route table
func NewRouter() Router { return chi.NewRouter() }

// ServerConfig holds the listener settings
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// ServerFromConfig reads PORT and SHUTDOWN_TIMEOUT from c, normally the
// CORE_API_ view. A bare port number is accepted
func ServerFromConfig(c config.Conf) ServerConfig {
	addr := c.MayString("PORT", ":4000")
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = ":" + addr
	}
	return ServerConfig{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   c.MayDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// Server runs one listener until its context ends
type Server struct {
	cfg ServerConfig
	srv *stdhttp.Server
}

// NewServer serves h on cfg.Addr
func NewServer(cfg ServerConfig, h stdhttp.Handler) *Server {
	return &Server{cfg: cfg, srv: &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}}
}

// listen is swapped in tests
var listen = func(s *stdhttp.Server) error { return s.ListenAndServe() }

// Run serves until ctx is cancelled, then drains open requests for at most
// ShutdownTimeout
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")
	errc := make(chan error, 1)
	go func() { errc <- listen(s.srv) }()
	log.Info().Str("addr", s.cfg.Addr).Msg("http: listening")

	select {
	case err := <-errc:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("http: draining")
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}
