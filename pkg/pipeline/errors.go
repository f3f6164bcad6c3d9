package pipeline

import "fmt"

// Pipeline stages in execution order
const (
	StageIngestion      = "ingestion"
	StageTransformation = "transformation"
	StageTraining       = "training"
	StagePersistence    = "persistence"
)

// StageError tags a failure with the stage it happened in. errors.As
// recovers the stage; errors.Is sees through to the cause.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
