// Package metrics exposes Prometheus collectors for the training pipeline,
// the prediction service and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemprice_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gemprice_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gemprice_api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)

	// Prediction Metrics
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemprice_predictions_total",
			Help: "Total number of price predictions by outcome",
		},
		[]string{"outcome"}, // "ok", "invalid", "error"
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gemprice_prediction_duration_seconds",
			Help:    "Duration of a single prediction including artifact loading",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Artifact Cache Metrics
	ArtifactCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gemprice_artifact_cache_hits_total",
			Help: "Predictions served from the cached transformer and model",
		},
	)

	ArtifactCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gemprice_artifact_cache_misses_total",
			Help: "Predictions that had to load the transformer and model from disk",
		},
	)

	ArtifactCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gemprice_artifact_cache_invalidations_total",
			Help: "Times the cached artifacts were dropped",
		},
	)

	// Training Metrics
	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemprice_training_runs_total",
			Help: "Total number of training runs by final status",
		},
		[]string{"status"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gemprice_training_duration_seconds",
			Help:    "Duration of complete training runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	TrainingStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gemprice_training_stage_duration_seconds",
			Help:    "Duration of each training pipeline stage",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"stage"},
	)

	TrainingLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gemprice_training_last_success_timestamp_seconds",
			Help: "Unix time of the last successful training run",
		},
	)

	CandidateR2 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gemprice_candidate_r2",
			Help: "Held-out R² of each candidate in the latest training run",
		},
		[]string{"model"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordPrediction records the outcome and latency of one prediction
func RecordPrediction(outcome string, duration time.Duration) {
	PredictionsTotal.WithLabelValues(outcome).Inc()
	PredictionDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records whether cached artifacts could be used
func RecordCacheLookup(hit bool) {
	if hit {
		ArtifactCacheHits.Inc()
	} else {
		ArtifactCacheMisses.Inc()
	}
}

// RecordCacheInvalidation records a dropped artifact cache
func RecordCacheInvalidation() {
	ArtifactCacheInvalidations.Inc()
}

// RecordTrainingStage records the duration of one pipeline stage
func RecordTrainingStage(stage string, duration time.Duration) {
	TrainingStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordTrainingRun records a finished training run
func RecordTrainingRun(status string, duration time.Duration) {
	TrainingRunsTotal.WithLabelValues(status).Inc()
	TrainingDuration.Observe(duration.Seconds())
	if status == "succeeded" {
		TrainingLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// SetCandidateR2 publishes the held-out score of a candidate
func SetCandidateR2(model string, r2 float64) {
	CandidateR2.WithLabelValues(model).Set(r2)
}
