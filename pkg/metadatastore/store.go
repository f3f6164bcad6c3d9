package metadatastore

import (
	"errors"

	"github.com/mimir-aip/gemprice/pkg/models"
)

// ErrNotFound is returned when a requested run does not exist
var ErrNotFound = errors.New("not found")

// RunStore is the interface for training run persistence.
// It records what each run did; the artifacts themselves live on disk.
type RunStore interface {
	// Training run operations
	SaveRun(run *models.TrainingRun) error
	GetRun(id string) (*models.TrainingRun, error)
	ListRuns(limit int) ([]*models.TrainingRun, error)
	LatestSuccessfulRun() (*models.TrainingRun, error)

	// Run event operations
	AppendEvent(event *models.RunEvent) error
	ListEvents(runID string) ([]*models.RunEvent, error)

	Close() error
}
