// Package tracking records the parameters, metrics and artifacts of a
// training run. A Tracker is passed to the pipeline explicitly.
package tracking

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mimir-aip/gemprice/pkg/logging"
	"github.com/mimir-aip/gemprice/pkg/metadatastore"
	"github.com/mimir-aip/gemprice/pkg/models"
)

// Tracker receives the events of training runs
type Tracker interface {
	StartRun(ctx context.Context, run *models.TrainingRun) error
	LogParam(ctx context.Context, runID, stage, key, value string)
	LogMetric(ctx context.Context, runID, stage, key string, value float64)
	LogArtifact(ctx context.Context, runID, stage, path string)
	LogError(ctx context.Context, runID, stage string, err error)
	FinishRun(ctx context.Context, run *models.TrainingRun) error
}

// Nop discards everything
type Nop struct{}

func (Nop) StartRun(context.Context, *models.TrainingRun) error { return nil }
func (Nop) LogParam(context.Context, string, string, string, string) {}
func (Nop) LogMetric(context.Context, string, string, string, float64) {}
func (Nop) LogArtifact(context.Context, string, string, string) {}
func (Nop) LogError(context.Context, string, string, error) {}
func (Nop) FinishRun(context.Context, *models.TrainingRun) error { return nil }

// StoreTracker writes runs and events to the run registry. Event writes
// that fail are logged and dropped so tracking never aborts training.
type StoreTracker struct {
	store metadatastore.RunStore
}

// NewStoreTracker creates a tracker backed by store
func NewStoreTracker(store metadatastore.RunStore) *StoreTracker {
	return &StoreTracker{store: store}
}

func (t *StoreTracker) StartRun(ctx context.Context, run *models.TrainingRun) error {
	return t.store.SaveRun(run)
}

func (t *StoreTracker) FinishRun(ctx context.Context, run *models.TrainingRun) error {
	return t.store.SaveRun(run)
}

func (t *StoreTracker) LogParam(ctx context.Context, runID, stage, key, value string) {
	t.append(ctx, runID, stage, models.RunEventParam, key, value)
}

func (t *StoreTracker) LogMetric(ctx context.Context, runID, stage, key string, value float64) {
	t.append(ctx, runID, stage, models.RunEventMetric, key, strconv.FormatFloat(value, 'g', -1, 64))
}

func (t *StoreTracker) LogArtifact(ctx context.Context, runID, stage, path string) {
	t.append(ctx, runID, stage, models.RunEventArtifact, "path", path)
}

func (t *StoreTracker) LogError(ctx context.Context, runID, stage string, err error) {
	t.append(ctx, runID, stage, models.RunEventError, "error", err.Error())
}

func (t *StoreTracker) append(ctx context.Context, runID, stage string, kind models.RunEventKind, key, value string) {
	event := &models.RunEvent{
		RunID:     runID,
		Stage:     stage,
		Kind:      kind,
		Key:       key,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.AppendEvent(event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("stage", stage).
			Str("kind", string(kind)).
			Str("key", key).
			Msg("Failed to record run event")
	}
}

// Recorder keeps runs and events in memory so pipeline tests can inspect
// what a run logged. Commands without a run registry use Nop.
type Recorder struct {
	mu     sync.Mutex
	Runs   map[string]*models.TrainingRun
	Events []models.RunEvent
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{Runs: make(map[string]*models.TrainingRun)}
}

func (r *Recorder) StartRun(_ context.Context, run *models.TrainingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.Runs[run.ID] = &cp
	return nil
}

func (r *Recorder) FinishRun(ctx context.Context, run *models.TrainingRun) error {
	return r.StartRun(ctx, run)
}

func (r *Recorder) LogParam(_ context.Context, runID, stage, key, value string) {
	r.add(runID, stage, models.RunEventParam, key, value)
}

func (r *Recorder) LogMetric(_ context.Context, runID, stage, key string, value float64) {
	r.add(runID, stage, models.RunEventMetric, key, strconv.FormatFloat(value, 'g', -1, 64))
}

func (r *Recorder) LogArtifact(_ context.Context, runID, stage, path string) {
	r.add(runID, stage, models.RunEventArtifact, "path", path)
}

func (r *Recorder) LogError(_ context.Context, runID, stage string, err error) {
	r.add(runID, stage, models.RunEventError, "error", err.Error())
}

// EventsOfKind returns the recorded events of one kind in order
func (r *Recorder) EventsOfKind(kind models.RunEventKind) []models.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RunEvent
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) add(runID, stage string, kind models.RunEventKind, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, models.RunEvent{
		ID:        int64(len(r.Events) + 1),
		RunID:     runID,
		Stage:     stage,
		Kind:      kind,
		Key:       key,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	})
}
