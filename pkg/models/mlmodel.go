package models

import (
	"time"
)

// RunStatus represents the lifecycle state of a training run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// EvaluationMetrics holds held-out scores for one fitted candidate
type EvaluationMetrics struct {
	MSE  float64 `json:"mse" yaml:"mse"`
	RMSE float64 `json:"rmse" yaml:"rmse"`
	MAE  float64 `json:"mae" yaml:"mae"`
	R2   float64 `json:"r2" yaml:"r2"`
}

// CandidateReport is the evaluation summary of one regression candidate
type CandidateReport struct {
	Name        string            `json:"name" yaml:"name"`
	Metrics     EvaluationMetrics `json:"metrics" yaml:"metrics"`
	FitDuration time.Duration     `json:"fit_duration" yaml:"fit_duration"`
}

// TrainingRun records one end-to-end execution of the training pipeline
type TrainingRun struct {
	ID         string            `json:"id" yaml:"id"`
	Status     RunStatus         `json:"status" yaml:"status"`
	StartedAt  time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Source     string            `json:"source" yaml:"source"`
	RawRows    int               `json:"raw_rows" yaml:"raw_rows"`
	TrainRows  int               `json:"train_rows" yaml:"train_rows"`
	TestRows   int               `json:"test_rows" yaml:"test_rows"`
	BestModel  string            `json:"best_model,omitempty" yaml:"best_model,omitempty"`
	BestR2     float64           `json:"best_r2" yaml:"best_r2"`
	Candidates []CandidateReport `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Artifacts  []string          `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Finish marks the run terminal with the given status
func (r *TrainingRun) Finish(status RunStatus, err error) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Status = status
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration returns how long the run took, or zero while it is still running
func (r *TrainingRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunEventKind classifies tracker events
type RunEventKind string

const (
	RunEventParam    RunEventKind = "param"
	RunEventMetric   RunEventKind = "metric"
	RunEventArtifact RunEventKind = "artifact"
	RunEventError    RunEventKind = "error"
)

// RunEvent is a single tracked parameter, metric, artifact or error of a run
type RunEvent struct {
	ID        int64        `json:"id"`
	RunID     string       `json:"run_id"`
	Stage     string       `json:"stage"`
	Kind      RunEventKind `json:"kind"`
	Key       string       `json:"key"`
	Value     string       `json:"value"`
	CreatedAt time.Time    `json:"created_at"`
}
