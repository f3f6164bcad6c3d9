package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"

	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metadatastore"
	"github.com/mimir-aip/gemprice/pkg/models"
	"github.com/mimir-aip/gemprice/pkg/pipeline"
	"github.com/mimir-aip/gemprice/pkg/tracking"
)

type trainCmd struct {
	g      *globals
	report string
	source string
}

func (*trainCmd) Name() string     { return "train" }
func (*trainCmd) Synopsis() string { return "run the training pipeline once" }
func (*trainCmd) Usage() string {
	return `train [-source URL|PATH] [-report run.yaml]:
  Fetch the dataset, fit every candidate model and persist the best one
  together with its transformer.
`
}

func (c *trainCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.report, "report", "", "write the finished run as YAML to this path")
	f.StringVar(&c.source, "source", "", "override data.source_url")
}

func (c *trainCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := c.g.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer logging.Close()
	if c.source != "" {
		cfg.Data.SourceURL = c.source
	}

	runs, err := metadatastore.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open run store")
		return subcommands.ExitFailure
	}
	defer runs.Close()

	p := pipeline.New(pipeline.OptionsFromConfig(cfg), newArtifactStore(cfg), tracking.NewStoreTracker(runs))
	run, runErr := p.Run(ctx)

	if c.report != "" {
		if err := writeReport(c.report, run); err != nil {
			logging.Error().Err(err).Str("path", c.report).Msg("Failed to write run report")
			return subcommands.ExitFailure
		}
	}
	if runErr != nil {
		return subcommands.ExitFailure
	}

	fmt.Printf("run %s: best model %s (R2 %.4f)\n", run.ID, run.BestModel, run.BestR2)
	for _, cand := range run.Candidates {
		fmt.Printf("  %-18s r2=%.4f mae=%.4f rmse=%.4f\n", cand.Name, cand.Metrics.R2, cand.Metrics.MAE, cand.Metrics.RMSE)
	}
	return subcommands.ExitSuccess
}

func writeReport(path string, run *models.TrainingRun) error {
	data, err := yaml.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
