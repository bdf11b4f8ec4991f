// Command clinetl-api serves the progress view and run trigger over HTTP
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/modkit/repokit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/platform/logger"
	phttp "clinicaletl/internal/platform/net/http"
	"clinicaletl/internal/platform/store"
	"clinicaletl/internal/services/api"
	"clinicaletl/internal/services/etl"
)

func main() {
	if err := run(); err != nil {
		logger.Get().Error().Err(err).Msg("clinetl-api: exiting")
		os.Exit(1)
	}
}

func run() error {
	root := config.New()
	apiCfg := root.Prefix("CORE_API_")
	l := logger.Named("api")

	// triggered runs stop at their next window boundary once this is cancelled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Load(root.Prefix("CORE_ETL_").MayString("PIPELINE", "pipeline.yaml"))
	if err != nil {
		return err
	}

	cfg, err := store.FromConfig(root, "api")
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg, store.WithLogger(*l))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("clinetl-api: closing store")
		}
	}()
	if err := repokit.Guard(ctx, st); err != nil {
		return err
	}

	app, err := etl.Open(ctx, etl.Options{Config: root, Store: st, Pipeline: p, Base: ctx})
	if err != nil {
		return err
	}

	h := api.Handler(api.Options{
		Config: apiCfg,
		Deps:   modkit.FromStore(root, st),
		Routes: app.Routes(),
	})
	err = phttp.NewServer(phttp.ServerFromConfig(apiCfg), h).Run(ctx)
	stop()
	app.Orchestrator.Service().Wait()
	return err
}
