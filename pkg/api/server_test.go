package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/dataset"
	"github.com/mimir-aip/gemprice/pkg/features"
	"github.com/mimir-aip/gemprice/pkg/metadatastore"
	"github.com/mimir-aip/gemprice/pkg/metrics"
	"github.com/mimir-aip/gemprice/pkg/mlmodel/training"
	"github.com/mimir-aip/gemprice/pkg/models"
	"github.com/mimir-aip/gemprice/pkg/prediction"
	"github.com/mimir-aip/gemprice/pkg/scheduler"
)

type stubTrainer struct {
	busy bool
	next time.Time
}

func (s *stubTrainer) TriggerAsync() error {
	if s.busy {
		return scheduler.ErrTrainingInProgress
	}
	s.busy = true
	return nil
}

func (s *stubTrainer) Running() bool      { return s.busy }
func (s *stubTrainer) NextRun() time.Time { return s.next }

// panickingPredictor fails the way a handler bug would
type panickingPredictor struct{}

func (panickingPredictor) Predict(context.Context, *models.PredictionRequest) (*models.PredictionResult, error) {
	panic("nil model")
}

func (panickingPredictor) Current(context.Context) (*artifact.Manifest, error) {
	return &artifact.Manifest{RunID: "run-1"}, nil
}

type fixture struct {
	server  *Server
	runs    *metadatastore.SQLiteStore
	trainer *stubTrainer
}

func newFixture(t *testing.T, trained bool) *fixture {
	t.Helper()
	store := artifact.NewStore(filepath.Join(t.TempDir(), "artifacts"), "preprocessor.json", "model.json", "manifest.json")
	if trained {
		rows, y := features.DeriveAll(dataset.Synthetic(300, 11))
		state, err := features.Fit(rows, "run-1")
		require.NoError(t, err)
		X, err := state.Transform(rows)
		require.NoError(t, err)
		model := training.NewRidge(1)
		require.NoError(t, model.Fit(X, y))
		_, err = store.Save("run-1", state, model, 0.95)
		require.NoError(t, err)
	}

	runs, err := metadatastore.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	trainer := &stubTrainer{}
	srv, err := NewServer(Options{Addr: ":0"}, prediction.NewService(store, true), runs, trainer)
	require.NoError(t, err)
	return &fixture{server: srv, runs: runs, trainer: trainer}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func validForm() url.Values {
	return url.Values{
		"log_carat": {"0.5"}, "volume": {"150.0"}, "depth": {"61.5"}, "table": {"55.0"},
		"cut": {"Ideal"}, "color": {"E"}, "clarity": {"SI1"},
	}
}

func TestHomepage(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/predict")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestPredictFormGet(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="log_carat"`)
	assert.Contains(t, body, "Very Good")
	assert.Contains(t, body, "VVS1")
}

func TestPredictFormSubmit(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(formRequest(validForm()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Predicted Price")
	assert.Contains(t, rec.Body.String(), "run-1")
}

func TestPredictFormInvalidInput(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(formRequest(url.Values{"log_carat": {"not-a-number"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "valid numeric values")

	form := validForm()
	form.Set("cut", "Excellent")
	rec = f.do(formRequest(form))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Excellent")
}

func TestPredictFormWithoutArtifacts(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(formRequest(validForm()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
}

func TestPredictJSON(t *testing.T) {
	f := newFixture(t, true)
	body := `{"log_carat":0.5,"volume":150,"depth":61.5,"table":55,"cut":"Ideal","color":"E","clarity":"SI1"}`
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/predict", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Greater(t, res.Price, 0.0)
	assert.Greater(t, res.LogPrice, 0.0)
}

func TestPredictJSONErrors(t *testing.T) {
	tests := []struct {
		name    string
		trained bool
		body    string
		status  int
	}{
		{"malformed", true, `{"log_carat":`, http.StatusBadRequest},
		{"missing field", true, `{"volume":150,"depth":61.5,"table":55,"cut":"Ideal","color":"E","clarity":"SI1"}`, http.StatusBadRequest},
		{"unknown field", true, `{"carat":1,"log_carat":0.5,"volume":150,"depth":61.5,"table":55,"cut":"Ideal","color":"E","clarity":"SI1"}`, http.StatusBadRequest},
		{"unknown category", true, `{"log_carat":0.5,"volume":150,"depth":61.5,"table":55,"cut":"Ideal","color":"Z","clarity":"SI1"}`, http.StatusBadRequest},
		{"not trained", false, `{"log_carat":0.5,"volume":150,"depth":61.5,"table":55,"cut":"Ideal","color":"E","clarity":"SI1"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.trained)
			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/predict", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)

			var e errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestRunsEndpoints(t *testing.T) {
	f := newFixture(t, false)
	run := &models.TrainingRun{ID: "run-7", Status: models.RunStatusSucceeded, StartedAt: time.Now().UTC(), BestModel: "Ridge"}
	require.NoError(t, f.runs.SaveRun(run))
	require.NoError(t, f.runs.AppendEvent(&models.RunEvent{RunID: "run-7", Stage: "training", Kind: models.RunEventMetric, Key: "Ridge.r2", Value: "0.9"}))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.TrainingRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-7", runs[0].ID)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-7", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-7/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.RunEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Ridge.r2", events[0].Key)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestRunEndpoint(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	base := time.Now().UTC()
	require.NoError(t, f.runs.SaveRun(&models.TrainingRun{ID: "run-1", Status: models.RunStatusSucceeded, StartedAt: base, BestModel: "Ridge"}))
	require.NoError(t, f.runs.SaveRun(&models.TrainingRun{ID: "run-2", Status: models.RunStatusFailed, StartedAt: base.Add(time.Minute)}))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run models.TrainingRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
}

func TestTrainEndpoint(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/train", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/v1/train", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)

	trained := newFixture(t, true)
	next := time.Date(2030, 1, 1, 2, 0, 0, 0, time.UTC)
	trained.trainer.next = next
	rec := trained.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status    string    `json:"status"`
		RunID     string    `json:"run_id"`
		BestModel string    `json:"best_model"`
		Training  bool      `json:"training"`
		NextRun   time.Time `json:"next_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, training.ModelRidge, body.BestModel)
	assert.False(t, body.Training)
	assert.True(t, next.Equal(body.NextRun))
}

func TestPanicIsCountedAsServerError(t *testing.T) {
	srv, err := NewServer(Options{Addr: ":0"}, panickingPredictor{}, nil, nil)
	require.NoError(t, err)

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/predict", "500")
	before := testutil.ToFloat64(counter)

	body := `{"log_carat":0.5,"volume":150,"depth":61.5,"table":55,"cut":"Ideal","color":"E","clarity":"SI1"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/predict", strings.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gemprice_api_requests_total")
}
