package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/dataset"
	"github.com/mimir-aip/gemprice/pkg/mlmodel/training"
	"github.com/mimir-aip/gemprice/pkg/models"
	"github.com/mimir-aip/gemprice/pkg/tracking"
)

type fixture struct {
	dir      string
	opts     Options
	store    *artifact.Store
	recorder *tracking.Recorder
}

func newFixture(t *testing.T, rows int) *fixture {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "gemstone.csv")

	frame, err := dataset.FromRecords(dataset.Synthetic(rows, 11))
	require.NoError(t, err)
	require.NoError(t, dataset.WriteFile(source, frame))

	params := training.DefaultParams()
	params.ForestTrees = 5
	params.ForestMaxDepth = 8
	params.SVRMaxSamples = 80
	params.Workers = 2

	out := filepath.Join(dir, "artifacts")
	return &fixture{
		dir: dir,
		opts: Options{
			Source:    source,
			RawPath:   filepath.Join(out, "raw.csv"),
			TrainPath: filepath.Join(out, "train.csv"),
			TestPath:  filepath.Join(out, "test.csv"),
			TestSize:  0.3,
			Seed:      42,
			Params:    params,
		},
		store:    artifact.NewStore(out, "preprocessor.json", "model.json", "manifest.json"),
		recorder: tracking.NewRecorder(),
	}
}

func TestRunWritesArtifactPair(t *testing.T) {
	f := newFixture(t, 300)
	p := New(f.opts, f.store, f.recorder)

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 300, run.RawRows)
	assert.Equal(t, run.TrainRows+run.TestRows, mustClean(t, f))
	require.Len(t, run.Candidates, len(training.CandidateOrder))
	for i, c := range run.Candidates {
		assert.Equal(t, training.CandidateOrder[i], c.Name)
		assert.LessOrEqual(t, c.Metrics.R2, run.BestR2)
	}
	assert.Greater(t, run.BestR2, 0.5)

	for _, path := range []string{f.opts.RawPath, f.opts.TrainPath, f.opts.TestPath, f.store.Path(f.store.TransformerFile(run.ID)), f.store.Path(f.store.ModelFile(run.ID)), f.store.ManifestPath()} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
	assert.Len(t, run.Artifacts, 6)

	bundle, err := f.store.LoadBundle()
	require.NoError(t, err)
	assert.Equal(t, run.ID, bundle.Manifest.RunID)
	assert.Equal(t, run.BestModel, bundle.Model.Name())

	recorded := f.recorder.Runs[run.ID]
	require.NotNil(t, recorded)
	assert.Equal(t, models.RunStatusSucceeded, recorded.Status)
	assert.NotEmpty(t, f.recorder.EventsOfKind(models.RunEventMetric))
	assert.Empty(t, f.recorder.EventsOfKind(models.RunEventError))
}

func TestRunIsDeterministic(t *testing.T) {
	f := newFixture(t, 200)

	first, err := New(f.opts, f.store, nil).Run(context.Background())
	require.NoError(t, err)
	firstState, err := f.store.LoadTransformer(f.store.TransformerFile(first.ID))
	require.NoError(t, err)

	second, err := New(f.opts, f.store, nil).Run(context.Background())
	require.NoError(t, err)
	secondState, err := f.store.LoadTransformer(f.store.TransformerFile(second.ID))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, firstState.Numeric, secondState.Numeric)
	assert.Equal(t, first.BestModel, second.BestModel)
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].Metrics, second.Candidates[i].Metrics)
	}
}

func TestRunMissingSourceFailsIngestion(t *testing.T) {
	f := newFixture(t, 50)
	f.opts.Source = filepath.Join(f.dir, "missing.csv")

	run, err := New(f.opts, f.store, f.recorder).Run(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageIngestion, stageErr.Stage)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
	require.Len(t, f.recorder.EventsOfKind(models.RunEventError), 1)

	_, err = f.store.LoadBundle()
	assert.ErrorIs(t, err, artifact.ErrArtifactNotFound)
}

func TestRunRejectsMissingColumn(t *testing.T) {
	f := newFixture(t, 50)
	frame, err := dataset.ReadFile(f.opts.Source)
	require.NoError(t, err)
	require.NoError(t, dataset.WriteFile(f.opts.Source, frame.Drop("clarity")))

	_, err = New(f.opts, f.store, nil).Run(context.Background())
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := New(f.opts, f.store, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageIngestion, stageErr.Stage)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestStageErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&StageError{Stage: StagePersistence, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence stage failed: disk full", err.Error())
}

func mustClean(t *testing.T, f *fixture) int {
	t.Helper()
	train, err := dataset.ReadFile(f.opts.TrainPath)
	require.NoError(t, err)
	test, err := dataset.ReadFile(f.opts.TestPath)
	require.NoError(t, err)
	return train.Len() + test.Len()
}
