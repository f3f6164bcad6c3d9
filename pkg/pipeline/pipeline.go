// Package pipeline runs a training run end to end: ingestion, feature
// transformation, candidate training and artifact persistence.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/config"
	"github.com/mimir-aip/gemprice/pkg/dataset"
	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metrics"
	"github.com/mimir-aip/gemprice/pkg/mlmodel/training"
	"github.com/mimir-aip/gemprice/pkg/models"
	"github.com/mimir-aip/gemprice/pkg/tracking"
)

// Options controls one pipeline
type Options struct {
	Source    string
	RawPath   string
	TrainPath string
	TestPath  string
	TestSize  float64
	Seed      int64
	Params    training.Params
}

// OptionsFromConfig derives pipeline options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	params := training.DefaultParams()
	params.ForestTrees = cfg.Training.ForestTrees
	params.ForestMaxDepth = cfg.Training.ForestMaxDepth
	params.SVRMaxSamples = cfg.Training.SVRMaxSamples
	params.Seed = cfg.Data.RandomSeed
	if cfg.Training.Workers > 0 {
		params.Workers = cfg.Training.Workers
	}

	return Options{
		Source:    cfg.Data.SourceURL,
		RawPath:   cfg.ArtifactPath(cfg.Data.RawFile),
		TrainPath: cfg.ArtifactPath(cfg.Data.TrainFile),
		TestPath:  cfg.ArtifactPath(cfg.Data.TestFile),
		TestSize:  cfg.Data.TestSize,
		Seed:      cfg.Data.RandomSeed,
		Params:    params,
	}
}

// Pipeline executes training runs
type Pipeline struct {
	opts    Options
	store   *artifact.Store
	tracker tracking.Tracker
	fetcher *dataset.Fetcher
	factory *training.TrainerFactory
}

// New creates a pipeline writing artifacts to store and events to tracker
func New(opts Options, store *artifact.Store, tracker tracking.Tracker) *Pipeline {
	if tracker == nil {
		tracker = tracking.Nop{}
	}
	return &Pipeline{
		opts:    opts,
		store:   store,
		tracker: tracker,
		fetcher: dataset.NewFetcher(),
		factory: training.NewTrainerFactory(opts.Params),
	}
}

// WithFetcher replaces the dataset fetcher
func (p *Pipeline) WithFetcher(f *dataset.Fetcher) *Pipeline {
	p.fetcher = f
	return p
}

// WithCandidates replaces the candidate set, for fixtures
func (p *Pipeline) WithCandidates(factory *training.TrainerFactory) *Pipeline {
	p.factory = factory
	return p
}

// Run executes every stage in order. The returned run is always non-nil
// and records the outcome; the error is a *StageError on stage failure.
func (p *Pipeline) Run(ctx context.Context) (*models.TrainingRun, error) {
	run := &models.TrainingRun{
		ID:        logging.NewRunID(),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Source:    p.opts.Source,
	}
	ctx = logging.WithRunID(ctx, run.ID)
	log := logging.Ctx(ctx)

	log.Info().Str("source", p.opts.Source).Msg("Training run started")
	if err := p.tracker.StartRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record run start")
	}
	p.logParams(ctx, run.ID)

	err := p.execute(ctx, run)

	status := models.RunStatusSucceeded
	if err != nil {
		status = models.RunStatusFailed
	}
	run.Finish(status, err)
	if ferr := p.tracker.FinishRun(ctx, run); ferr != nil {
		log.Warn().Err(ferr).Msg("Failed to record run result")
	}
	metrics.RecordTrainingRun(string(status), run.Duration())

	if err != nil {
		log.Error().Err(err).Dur("duration", run.Duration()).Msg("Training run failed")
		return run, err
	}
	log.Info().
		Str("best_model", run.BestModel).
		Float64("best_r2", run.BestR2).
		Dur("duration", run.Duration()).
		Msg("Training run finished")
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *models.TrainingRun) error {
	var ingested *Ingested
	if err := p.stage(ctx, run, StageIngestion, func(ctx context.Context) (err error) {
		ingested, err = p.Ingest(ctx, run)
		return err
	}); err != nil {
		return err
	}

	var transformed *Transformed
	if err := p.stage(ctx, run, StageTransformation, func(ctx context.Context) (err error) {
		transformed, err = p.Transform(ctx, run, ingested.TrainPath, ingested.TestPath)
		return err
	}); err != nil {
		return err
	}

	var best *training.Result
	if err := p.stage(ctx, run, StageTraining, func(ctx context.Context) (err error) {
		best, err = p.Train(ctx, run, transformed.Data)
		return err
	}); err != nil {
		return err
	}

	return p.stage(ctx, run, StagePersistence, func(ctx context.Context) error {
		return p.Persist(ctx, run, transformed, best)
	})
}

// stage runs fn with logging, timing and uniform error wrapping
func (p *Pipeline) stage(ctx context.Context, run *models.TrainingRun, name string, fn func(context.Context) error) error {
	log := logging.Ctx(ctx).With().Str("stage", name).Logger()

	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}

	log.Info().Msg("Stage started")
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.RecordTrainingStage(name, elapsed)

	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("Stage failed")
		p.tracker.LogError(ctx, run.ID, name, err)
		return &StageError{Stage: name, Err: err}
	}
	log.Info().Dur("duration", elapsed).Msg("Stage finished")
	return nil
}

func (p *Pipeline) logParams(ctx context.Context, runID string) {
	params := []struct{ key, value string }{
		{"source", p.opts.Source},
		{"test_size", fmt.Sprint(p.opts.TestSize)},
		{"random_seed", fmt.Sprint(p.opts.Seed)},
		{"forest_trees", fmt.Sprint(p.opts.Params.ForestTrees)},
		{"forest_max_depth", fmt.Sprint(p.opts.Params.ForestMaxDepth)},
		{"svr_max_samples", fmt.Sprint(p.opts.Params.SVRMaxSamples)},
	}
	for _, kv := range params {
		p.tracker.LogParam(ctx, runID, StageIngestion, kv.key, kv.value)
	}
}

func (p *Pipeline) logArtifact(ctx context.Context, run *models.TrainingRun, stage, path string) {
	run.Artifacts = append(run.Artifacts, filepath.ToSlash(path))
	p.tracker.LogArtifact(ctx, run.ID, stage, path)
}
