package tracking

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/gemprice/pkg/metadatastore"
	"github.com/mimir-aip/gemprice/pkg/models"
)

func TestStoreTrackerWritesRegistry(t *testing.T) {
	store, err := metadatastore.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tr := NewStoreTracker(store)
	run := &models.TrainingRun{ID: "run-1", Status: models.RunStatusRunning, StartedAt: time.Now().UTC()}

	require.NoError(t, tr.StartRun(ctx, run))
	tr.LogParam(ctx, run.ID, "ingestion", "test_size", "0.3")
	tr.LogMetric(ctx, run.ID, "training", "Ridge.r2", 0.875)
	tr.LogArtifact(ctx, run.ID, "persistence", "artifacts/model.json")
	tr.LogError(ctx, run.ID, "training", errors.New("boom"))
	run.Finish(models.RunStatusFailed, errors.New("boom"))
	require.NoError(t, tr.FinishRun(ctx, run))

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	events, err := store.ListEvents("run-1")
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, models.RunEventParam, events[0].Kind)
	assert.Equal(t, "0.875", events[1].Value)
	assert.Equal(t, "artifacts/model.json", events[2].Value)
	assert.Equal(t, models.RunEventError, events[3].Kind)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()
	var tr Tracker = r

	run := &models.TrainingRun{ID: "run-1", Status: models.RunStatusRunning}
	require.NoError(t, tr.StartRun(ctx, run))
	tr.LogMetric(ctx, "run-1", "training", "a", 1)
	tr.LogMetric(ctx, "run-1", "training", "b", 2)
	tr.LogParam(ctx, "run-1", "ingestion", "k", "v")

	metrics := r.EventsOfKind(models.RunEventMetric)
	require.Len(t, metrics, 2)
	assert.Equal(t, "b", metrics[1].Key)
	assert.Equal(t, models.RunStatusRunning, r.Runs["run-1"].Status)
}

func TestNopSatisfiesTracker(t *testing.T) {
	var tr Tracker = Nop{}
	assert.NoError(t, tr.StartRun(context.Background(), &models.TrainingRun{}))
}
