package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metadatastore"
	"github.com/mimir-aip/gemprice/pkg/models"
	"github.com/mimir-aip/gemprice/pkg/prediction"
	"github.com/mimir-aip/gemprice/pkg/scheduler"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	maxBodyBytes    = 1 << 16
)

// errorResponse is the body of every non-2xx JSON reply
type errorResponse struct {
	Error string `json:"error"`
}

// predictPayload mirrors models.PredictionRequest with optional numbers so
// that an absent field is an error rather than a silent zero.
type predictPayload struct {
	LogCarat *float64 `json:"log_carat"`
	Volume   *float64 `json:"volume"`
	Depth    *float64 `json:"depth"`
	Table    *float64 `json:"table"`
	Cut      string   `json:"cut"`
	Color    string   `json:"color"`
	Clarity  string   `json:"clarity"`
}

func (p *predictPayload) request() (*models.PredictionRequest, error) {
	nums := []struct {
		name string
		v    *float64
	}{
		{"log_carat", p.LogCarat},
		{"volume", p.Volume},
		{"depth", p.Depth},
		{"table", p.Table},
	}
	for _, n := range nums {
		if n.v == nil {
			return nil, fmt.Errorf("%w: %s is required", prediction.ErrInvalidRequest, n.name)
		}
	}
	return &models.PredictionRequest{
		LogCarat: *p.LogCarat,
		Volume:   *p.Volume,
		Depth:    *p.Depth,
		Table:    *p.Table,
		Cut:      p.Cut,
		Color:    p.Color,
		Clarity:  p.Clarity,
	}, nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("API error")
	}
	respondJSON(w, status, errorResponse{Error: message})
}

// predictionStatus maps a Predict error to a status code and the message
// safe to show the caller.
func predictionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, prediction.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, artifact.ErrArtifactNotFound):
		return http.StatusServiceUnavailable, "no trained model is available yet"
	default:
		return http.StatusInternalServerError, "prediction failed"
	}
}

func (s *Server) handlePredictJSON(w http.ResponseWriter, r *http.Request) {
	var payload predictPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		respondError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), nil)
		return
	}
	req, err := payload.request()
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res, err := s.predictor.Predict(r.Context(), req)
	if err != nil {
		status, msg := predictionStatus(err)
		if status == http.StatusBadRequest {
			err = nil
		}
		respondError(w, r, status, msg, err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Float64("log_price", res.LogPrice).
		Float64("price", res.Price).
		Str("artifact_run_id", res.RunID).
		Msg("Prediction successful")
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, r, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*models.TrainingRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.LatestSuccessfulRun()
	if errors.Is(err, metadatastore.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "no successful run", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(chi.URLParam(r, "id"))
	if errors.Is(err, metadatastore.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "run not found", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.runs.GetRun(id); err != nil {
		if errors.Is(err, metadatastore.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "run not found", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	events, err := s.runs.ListEvents(id)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	if events == nil {
		events = []*models.RunEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	err := s.trainer.TriggerAsync()
	if errors.Is(err, scheduler.ErrTrainingInProgress) {
		respondError(w, r, http.StatusConflict, err.Error(), nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to start training", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	m, err := s.predictor.Current(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	body := map[string]any{
		"status":     "ready",
		"run_id":     m.RunID,
		"best_model": m.BestModel,
		"r2":         m.R2,
		"trained_at": m.CreatedAt,
	}
	if s.trainer != nil {
		body["training"] = s.trainer.Running()
		if next := s.trainer.NextRun(); !next.IsZero() {
			body["next_run"] = next
		}
	}
	respondJSON(w, http.StatusOK, body)
}
