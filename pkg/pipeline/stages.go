package pipeline

import (
	"context"
	"fmt"

	"github.com/mimir-aip/gemprice/pkg/dataset"
	"github.com/mimir-aip/gemprice/pkg/features"
	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metrics"
	"github.com/mimir-aip/gemprice/pkg/mlmodel/training"
	"github.com/mimir-aip/gemprice/pkg/models"
)

// Ingested describes the files written by the ingestion stage
type Ingested struct {
	RawPath   string
	TrainPath string
	TestPath  string
	RawRows   int
	CleanRows int
	TrainRows int
	TestRows  int
}

// Transformed is the output of the transformation stage
type Transformed struct {
	State *features.State
	Data  *training.TrainingData
}

// Ingest fetches the source dataset, stores it raw, removes outliers and
// duplicates, and writes the seeded train/test split.
func (p *Pipeline) Ingest(ctx context.Context, run *models.TrainingRun) (*Ingested, error) {
	log := logging.Ctx(ctx).With().Str("stage", StageIngestion).Logger()

	frame, err := p.fetcher.Fetch(ctx, p.opts.Source)
	if err != nil {
		return nil, err
	}
	frame = frame.Drop("id")
	if frame.Len() == 0 {
		return nil, dataset.ErrEmptyDataset
	}
	if err := checkSchema(frame); err != nil {
		return nil, fmt.Errorf("source dataset: %w", err)
	}

	if err := dataset.WriteFile(p.opts.RawPath, frame); err != nil {
		return nil, err
	}
	p.logArtifact(ctx, run, StageIngestion, p.opts.RawPath)

	clean, err := dataset.TrimNumericOutliers(frame, func(column string, b dataset.Bounds, remaining int) {
		log.Debug().
			Str("column", column).
			Float64("lower", b.Lower).
			Float64("upper", b.Upper).
			Int("remaining", remaining).
			Msg("Outliers trimmed")
	})
	if err != nil {
		return nil, err
	}
	clean = clean.DropDuplicates()

	train, test, err := dataset.TrainTestSplit(clean, p.opts.TestSize, p.opts.Seed)
	if err != nil {
		return nil, err
	}
	if err := dataset.WriteFile(p.opts.TrainPath, train); err != nil {
		return nil, err
	}
	p.logArtifact(ctx, run, StageIngestion, p.opts.TrainPath)
	if err := dataset.WriteFile(p.opts.TestPath, test); err != nil {
		return nil, err
	}
	p.logArtifact(ctx, run, StageIngestion, p.opts.TestPath)

	out := &Ingested{
		RawPath:   p.opts.RawPath,
		TrainPath: p.opts.TrainPath,
		TestPath:  p.opts.TestPath,
		RawRows:   frame.Len(),
		CleanRows: clean.Len(),
		TrainRows: train.Len(),
		TestRows:  test.Len(),
	}
	run.RawRows, run.TrainRows, run.TestRows = out.RawRows, out.TrainRows, out.TestRows
	p.tracker.LogMetric(ctx, run.ID, StageIngestion, "raw_rows", float64(out.RawRows))
	p.tracker.LogMetric(ctx, run.ID, StageIngestion, "clean_rows", float64(out.CleanRows))

	log.Info().
		Int("raw_rows", out.RawRows).
		Int("clean_rows", out.CleanRows).
		Int("train_rows", out.TrainRows).
		Int("test_rows", out.TestRows).
		Msg("Dataset ingested")
	return out, nil
}

// Transform fits the feature transformer on the training split and maps
// both splits to feature matrices with log targets.
func (p *Pipeline) Transform(ctx context.Context, run *models.TrainingRun, trainPath, testPath string) (*Transformed, error) {
	trainRecords, err := readRecords(trainPath)
	if err != nil {
		return nil, err
	}
	testRecords, err := readRecords(testPath)
	if err != nil {
		return nil, err
	}

	trainRows, trainY := features.DeriveAll(trainRecords)
	testRows, testY := features.DeriveAll(testRecords)

	state, err := features.Fit(trainRows, run.ID)
	if err != nil {
		return nil, err
	}
	trainX, err := state.Transform(trainRows)
	if err != nil {
		return nil, fmt.Errorf("training split: %w", err)
	}
	testX, err := state.Transform(testRows)
	if err != nil {
		return nil, fmt.Errorf("evaluation split: %w", err)
	}

	for _, sc := range state.Numeric {
		p.tracker.LogParam(ctx, run.ID, StageTransformation, sc.Column+".mean", fmt.Sprint(sc.Mean))
		p.tracker.LogParam(ctx, run.ID, StageTransformation, sc.Column+".scale", fmt.Sprint(sc.Scale))
	}
	logging.Ctx(ctx).Info().
		Str("stage", StageTransformation).
		Strs("features", state.FeatureNames()).
		Msg("Transformer fitted")

	return &Transformed{
		State: state,
		Data: &training.TrainingData{
			TrainFeatures: trainX,
			TrainLabels:   trainY,
			TestFeatures:  testX,
			TestLabels:    testY,
			FeatureNames:  state.FeatureNames(),
		},
	}, nil
}

// Train fits and scores every candidate and returns the best one
func (p *Pipeline) Train(ctx context.Context, run *models.TrainingRun, data *training.TrainingData) (*training.Result, error) {
	report, err := training.Evaluate(ctx, p.factory.Candidates(), data, p.opts.Params.Workers)
	if err != nil {
		return nil, err
	}

	log := logging.Ctx(ctx).With().Str("stage", StageTraining).Logger()
	for _, res := range report.Results {
		name := res.Model.Name()
		log.Info().
			Str("model", name).
			Float64("mse", res.Metrics.MSE).
			Float64("rmse", res.Metrics.RMSE).
			Float64("mae", res.Metrics.MAE).
			Float64("r2", res.Metrics.R2).
			Dur("fit_duration", res.FitDuration).
			Msg("Candidate evaluated")
		p.tracker.LogMetric(ctx, run.ID, StageTraining, name+".mse", res.Metrics.MSE)
		p.tracker.LogMetric(ctx, run.ID, StageTraining, name+".rmse", res.Metrics.RMSE)
		p.tracker.LogMetric(ctx, run.ID, StageTraining, name+".mae", res.Metrics.MAE)
		p.tracker.LogMetric(ctx, run.ID, StageTraining, name+".r2", res.Metrics.R2)
		metrics.SetCandidateR2(name, res.Metrics.R2)
	}

	best, err := report.Best()
	if err != nil {
		return nil, err
	}
	run.Candidates = report.Candidates()
	run.BestModel = best.Model.Name()
	run.BestR2 = best.Metrics.R2
	p.tracker.LogParam(ctx, run.ID, StageTraining, "best_model", run.BestModel)

	log.Info().Str("best_model", run.BestModel).Float64("best_r2", run.BestR2).Msg("Best model selected")
	return best, nil
}

// Persist writes the transformer and the winning model as a pair
func (p *Pipeline) Persist(ctx context.Context, run *models.TrainingRun, t *Transformed, best *training.Result) error {
	manifest, err := p.store.Save(run.ID, t.State, best.Model, best.Metrics.R2)
	if err != nil {
		return err
	}
	p.logArtifact(ctx, run, StagePersistence, p.store.Path(manifest.TransformerFile))
	p.logArtifact(ctx, run, StagePersistence, p.store.Path(manifest.ModelFile))
	p.logArtifact(ctx, run, StagePersistence, p.store.ManifestPath())

	logging.Ctx(ctx).Info().
		Str("stage", StagePersistence).
		Str("model", manifest.BestModel).
		Str("dir", p.store.Dir()).
		Msg("Artifacts saved")
	return nil
}

func readRecords(path string) ([]models.Record, error) {
	frame, err := dataset.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dataset.ToRecords(frame)
}

// checkSchema requires every record column, with numeric attributes parsed
// as numbers.
func checkSchema(frame *dataset.Frame) error {
	for _, col := range models.RecordColumns {
		kind, err := frame.Kind(col)
		if err != nil {
			return err
		}
		if _, categorical := models.Categories[col]; !categorical && kind != dataset.Numeric {
			return fmt.Errorf("%w: %s", dataset.ErrNonNumericColumn, col)
		}
	}
	return nil
}
