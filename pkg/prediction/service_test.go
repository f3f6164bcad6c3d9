package prediction

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/dataset"
	"github.com/mimir-aip/gemprice/pkg/features"
	"github.com/mimir-aip/gemprice/pkg/mlmodel/training"
	"github.com/mimir-aip/gemprice/pkg/models"
)

func newStore(t *testing.T) *artifact.Store {
	t.Helper()
	return artifact.NewStore(filepath.Join(t.TempDir(), "artifacts"), "preprocessor.json", "model.json", "manifest.json")
}

// publish fits a transformer and a regressor on synthetic stones and
// saves them under runID.
func publish(t *testing.T, store *artifact.Store, runID string, model training.Regressor) (*features.State, training.Regressor) {
	t.Helper()
	rows, y := features.DeriveAll(dataset.Synthetic(200, 7))
	state, err := features.Fit(rows, runID)
	require.NoError(t, err)
	X, err := state.Transform(rows)
	require.NoError(t, err)
	require.NoError(t, model.Fit(X, y))
	_, err = store.Save(runID, state, model, 0.9)
	require.NoError(t, err)
	return state, model
}

func validRequest() *models.PredictionRequest {
	return &models.PredictionRequest{
		LogCarat: 0.5, Volume: 150, Depth: 61.5, Table: 55,
		Cut: "Ideal", Color: "E", Clarity: "SI1",
	}
}

func TestPredictMatchesDirectComputation(t *testing.T) {
	store := newStore(t)
	state, model := publish(t, store, "run-1", training.NewLinearRegression())
	svc := NewService(store, true)

	req := validRequest()
	res, err := svc.Predict(context.Background(), req)
	require.NoError(t, err)

	x, err := state.TransformOne(req.FeatureRow())
	require.NoError(t, err)
	out, err := model.Predict([][]float64{x})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.InDelta(t, out[0], res.LogPrice, 1e-9)
	assert.InDelta(t, math.Round(math.Expm1(out[0])*100)/100, res.Price, 1e-9)
	assert.Greater(t, res.Price, 0.0)
}

func TestPredictWithoutCache(t *testing.T) {
	store := newStore(t)
	publish(t, store, "run-1", training.NewLinearRegression())
	svc := NewService(store, false)

	a, err := svc.Predict(context.Background(), validRequest())
	require.NoError(t, err)
	b, err := svc.Predict(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Nil(t, svc.bundle)
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	store := newStore(t)
	publish(t, store, "run-1", training.NewLinearRegression())
	svc := NewService(store, true)

	tests := []struct {
		name   string
		mutate func(r *models.PredictionRequest)
		msg    string
	}{
		{"unknown cut", func(r *models.PredictionRequest) { r.Cut = "Excellent" }, "cut"},
		{"unknown clarity", func(r *models.PredictionRequest) { r.Clarity = "I2" }, "clarity"},
		{"missing color", func(r *models.PredictionRequest) { r.Color = "" }, "color is required"},
		{"nan carat", func(r *models.PredictionRequest) { r.LogCarat = math.NaN() }, "log_carat"},
		{"infinite volume", func(r *models.PredictionRequest) { r.Volume = math.Inf(1) }, "volume"},
		{"infinite depth", func(r *models.PredictionRequest) { r.Depth = math.Inf(-1) }, "depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			_, err := svc.Predict(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := svc.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPredictAcceptsSubCaratStone(t *testing.T) {
	store := newStore(t)
	publish(t, store, "run-1", training.NewLinearRegression())
	svc := NewService(store, true)

	req := validRequest()
	req.LogCarat = math.Log(0.3)
	res, err := svc.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
}

func TestPredictMissingArtifacts(t *testing.T) {
	svc := NewService(newStore(t), true)
	_, err := svc.Predict(context.Background(), validRequest())
	assert.ErrorIs(t, err, artifact.ErrArtifactNotFound)
	assert.Error(t, svc.Ready(context.Background()))
}

func TestCacheFollowsNewRun(t *testing.T) {
	store := newStore(t)
	publish(t, store, "run-1", training.NewLinearRegression())
	svc := NewService(store, true)

	first, err := svc.Predict(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "run-1", first.RunID)

	publish(t, store, "run-2", training.NewRidge(50))
	second, err := svc.Predict(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "run-2", second.RunID)

	m, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, training.ModelRidge, m.BestModel)
}

func TestInvalidateDropsBundle(t *testing.T) {
	store := newStore(t)
	publish(t, store, "run-1", training.NewLinearRegression())
	svc := NewService(store, true)

	require.NoError(t, svc.Ready(context.Background()))
	require.NotNil(t, svc.bundle)
	svc.Invalidate()
	assert.Nil(t, svc.bundle)
}

func TestWatchInvalidatesOnManifestWrite(t *testing.T) {
	store := newStore(t)
	publish(t, store, "run-1", training.NewLinearRegression())
	svc := NewService(store, true)
	require.NoError(t, svc.Ready(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx) }()

	m, err := store.LoadManifest()
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		// keep touching the manifest until the watcher is registered
		_ = store.SaveManifest(*m)
		svc.mu.RLock()
		defer svc.mu.RUnlock()
		return svc.bundle == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestParseRequest(t *testing.T) {
	form := map[string]string{
		"log_carat": "0.5", "volume": "150", "depth": "61.5", "table": "55",
		"cut": "Ideal", "color": "E", "clarity": " SI1 ",
	}
	req, err := ParseRequest(func(k string) string { return form[k] })
	require.NoError(t, err)
	assert.Equal(t, validRequest(), req)

	form["log_carat"] = "not-a-number"
	_, err = ParseRequest(func(k string) string { return form[k] })
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.True(t, strings.Contains(err.Error(), "log_carat"))

	delete(form, "log_carat")
	_, err = ParseRequest(func(k string) string { return form[k] })
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
