// Package prediction serves price estimates from the persisted transformer
// and model pair.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/features"
	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metrics"
	"github.com/mimir-aip/gemprice/pkg/models"
)

// Service predicts prices for single requests.
//
// With caching enabled the loaded bundle is kept in memory and reused while
// the manifest names the same run; a new run, Invalidate, or a manifest
// change seen by Watch causes a reload. Without caching every call loads
// the pair from disk.
type Service struct {
	store    *artifact.Store
	cache    bool
	validate *validator.Validate

	mu     sync.RWMutex
	bundle *artifact.Bundle
}

// NewService creates a prediction service reading from store
func NewService(store *artifact.Store, cache bool) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		validate: NewValidator(),
	}
}

// Predict validates req, transforms it with the run's transformer, applies
// the model and maps the result back to a price rounded to cents.
func (s *Service) Predict(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResult, error) {
	start := time.Now()
	res, err := s.predict(ctx, req)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrInvalidRequest):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordPrediction(outcome, time.Since(start))
	return res, err
}

func (s *Service) predict(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}

	bundle, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	x, err := bundle.Transformer.TransformOne(req.FeatureRow())
	if errors.Is(err, features.ErrUnknownCategory) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transform request: %w", err)
	}

	out, err := bundle.Model.Predict([][]float64{x})
	if err != nil {
		return nil, fmt.Errorf("%s prediction failed: %w", bundle.Model.Name(), err)
	}
	logPrice := out[0]
	if math.IsNaN(logPrice) || math.IsInf(logPrice, 0) {
		return nil, fmt.Errorf("%s produced a non-finite estimate", bundle.Model.Name())
	}

	return &models.PredictionResult{
		Price:    roundCents(features.InverseTarget(logPrice)),
		LogPrice: logPrice,
		RunID:    bundle.Manifest.RunID,
	}, nil
}

// Ready reports whether a complete artifact pair can be loaded
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.current(ctx)
	return err
}

// Current returns the manifest of the pair predictions are served from
func (s *Service) Current(ctx context.Context) (*artifact.Manifest, error) {
	b, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	m := b.Manifest
	return &m, nil
}

// Invalidate drops the cached bundle
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.bundle = nil
	s.mu.Unlock()
	metrics.RecordCacheInvalidation()
}

func (s *Service) current(ctx context.Context) (*artifact.Bundle, error) {
	if !s.cache {
		metrics.RecordCacheLookup(false)
		return s.store.LoadBundle()
	}

	m, err := s.store.LoadManifest()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	b := s.bundle
	s.mu.RUnlock()
	if b != nil && b.Manifest.RunID == m.RunID {
		metrics.RecordCacheLookup(true)
		return b, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bundle != nil && s.bundle.Manifest.RunID == m.RunID {
		metrics.RecordCacheLookup(true)
		return s.bundle, nil
	}

	metrics.RecordCacheLookup(false)
	b, err = s.store.LoadBundle()
	if err != nil {
		return nil, err
	}
	s.bundle = b
	logging.Ctx(ctx).Info().
		Str("artifact_run_id", b.Manifest.RunID).
		Str("model", b.Manifest.BestModel).
		Msg("Prediction artifacts loaded")
	return b, nil
}

// Watch invalidates the cache whenever the manifest is written. It blocks
// until ctx is cancelled.
func (s *Service) Watch(ctx context.Context) error {
	dir := s.store.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	manifest := filepath.Base(s.store.ManifestPath())
	log := logging.With("prediction")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != manifest {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Manifest changed")
			s.Invalidate()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Artifact watcher error")
		}
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
