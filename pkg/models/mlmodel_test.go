package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainingRunFinish(t *testing.T) {
	run := &TrainingRun{ID: "run-1", Status: RunStatusRunning, StartedAt: time.Now().UTC().Add(-time.Second)}
	assert.Zero(t, run.Duration())

	run.Finish(RunStatusFailed, errors.New("boom"))

	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "boom", run.Error)
	assert.Greater(t, run.Duration(), time.Duration(0))
}

func TestIsCategory(t *testing.T) {
	assert.True(t, IsCategory("cut", "Very Good"))
	assert.True(t, IsCategory("clarity", "IF"))
	assert.False(t, IsCategory("color", "Z"))
	assert.False(t, IsCategory("shape", "Round"))
}

func TestPredictionRequestFeatureRow(t *testing.T) {
	req := PredictionRequest{LogCarat: 0.5, Volume: 150, Depth: 61.5, Table: 55, Cut: "Ideal", Color: "E", Clarity: "SI1"}
	row := req.FeatureRow()
	assert.Equal(t, FeatureRow{Depth: 61.5, Table: 55, Volume: 150, LogCarat: 0.5, Cut: "Ideal", Color: "E", Clarity: "SI1"}, row)
}
