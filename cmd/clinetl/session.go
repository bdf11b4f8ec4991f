package main

import (
	"context"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/modkit/repokit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store"
	"clinicaletl/internal/services/etl"
)

// session is an opened store with the modules wired over it
type session struct {
	st  *store.Store
	app *etl.App
}

// open loads the pipeline file, connects and wires every module
func open(ctx context.Context) (*session, error) {
	p, err := pipeline.Load(pipelinePath)
	if err != nil {
		return nil, err
	}
	root := config.New()
	st, err := openStore(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := repokit.Guard(ctx, st); err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	app, err := etl.Open(ctx, etl.Options{Config: root, Store: st, Pipeline: p, Base: ctx})
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	return &session{st: st, app: app}, nil
}

func (s *session) close() {
	if err := s.st.Close(context.Background()); err != nil {
		logger.Get().Error().Err(err).Msg("failed to close store")
	}
}

// openStore connects postgres and, when SERVICE_CLICKHOUSE_DBURL is set,
// the clickhouse event sink
func openStore(ctx context.Context, root config.Conf) (*store.Store, error) {
	cfg, err := store.FromConfig(root, "cli")
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg, store.WithLogger(*logger.Named("cli")))
}
