// Package api serves price predictions over HTTP: an HTML form, a JSON
// API, run history, manual retraining and operational endpoints.
package api

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metadatastore"
	"github.com/mimir-aip/gemprice/pkg/models"
)

// Predictor produces price estimates
type Predictor interface {
	Predict(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResult, error)
	// Current returns the manifest of the artifact pair being served
	Current(ctx context.Context) (*artifact.Manifest, error)
}

// Trainer starts background training runs
type Trainer interface {
	TriggerAsync() error
	Running() bool
	NextRun() time.Time
}

// Options configures the HTTP server
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server provides HTTP endpoints
type Server struct {
	predictor Predictor
	runs      metadatastore.RunStore
	trainer   Trainer
	templates *template.Template
	handler   http.Handler
	http      *http.Server
}

// NewServer creates a server. runs and trainer may be nil, in which case
// their routes are not mounted.
func NewServer(opts Options, predictor Predictor, runs metadatastore.RunStore, trainer Trainer) (*Server, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	s := &Server{
		predictor: predictor,
		runs:      runs,
		trainer:   trainer,
		templates: tmpl,
	}
	s.handler = s.routes()
	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.handler,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s, nil
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(requestContext)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	// outside Recoverer so recovered panics are counted as 500s
	r.Use(prometheusMetrics)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/predict", s.handlePredictForm)
	r.Post("/predict", s.handlePredictSubmit)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/predict", s.handlePredictJSON)
		if s.runs != nil {
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/latest", s.handleLatestRun)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/runs/{id}/events", s.handleListEvents)
		}
		if s.trainer != nil {
			r.Post("/train", s.handleTrain)
		}
	})

	return r
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	logging.Info().Str("addr", s.http.Addr).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
