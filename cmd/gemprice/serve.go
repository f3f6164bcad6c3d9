package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/mimir-aip/gemprice/pkg/api"
	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metadatastore"
	"github.com/mimir-aip/gemprice/pkg/pipeline"
	"github.com/mimir-aip/gemprice/pkg/prediction"
	"github.com/mimir-aip/gemprice/pkg/scheduler"
	"github.com/mimir-aip/gemprice/pkg/tracking"
)

const shutdownTimeout = 15 * time.Second

type serveCmd struct {
	g         *globals
	bootstrap bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve predictions over HTTP" }
func (*serveCmd) Usage() string {
	return `serve [-bootstrap]:
  Start the prediction server, the retraining scheduler and the artifact
  watcher. Stops gracefully on SIGINT or SIGTERM.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.bootstrap, "bootstrap", false, "start a training run when no model has been trained yet")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := c.g.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer logging.Close()

	if err := scheduler.ValidateSchedule(cfg.Training.Schedule); err != nil {
		logging.Error().Err(err).Msg("Invalid training schedule")
		return subcommands.ExitFailure
	}

	logging.Info().Str("environment", cfg.Environment).Str("version", version).Msg("Starting gemprice server")

	runs, err := metadatastore.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open run store")
		return subcommands.ExitFailure
	}
	defer runs.Close()

	store := newArtifactStore(cfg)
	predictor := prediction.NewService(store, cfg.Artifacts.Cache)
	p := pipeline.New(pipeline.OptionsFromConfig(cfg), store, tracking.NewStoreTracker(runs))

	sched := scheduler.NewService(p, predictor, cfg.Training.Schedule)
	if err := sched.Start(); err != nil {
		logging.Error().Err(err).Msg("Failed to start scheduler")
		return subcommands.ExitFailure
	}
	defer sched.Stop()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.Artifacts.Cache && cfg.Artifacts.Watch {
		go func() {
			if err := predictor.Watch(watchCtx); err != nil {
				logging.Warn().Err(err).Msg("Artifact watcher stopped")
			}
		}()
	}

	if err := predictor.Ready(ctx); err != nil {
		logging.Warn().Err(err).Msg("No trained model available yet")
		if c.bootstrap {
			if err := sched.TriggerAsync(); err != nil {
				logging.Warn().Err(err).Msg("Bootstrap training not started")
			}
		}
	}

	server, err := api.NewServer(api.Options{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, predictor, runs, sched)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create HTTP server")
		return subcommands.ExitFailure
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Error().Err(err).Msg("HTTP server failed")
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down gemprice server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Graceful shutdown failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
