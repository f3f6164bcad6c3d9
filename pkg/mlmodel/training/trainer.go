// Package training fits and scores the candidate regressors and selects the
// one that explains the most variance on the evaluation split.
package training

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	ErrNoCandidates = errors.New("no candidate models")
	ErrNotFitted    = errors.New("model is not fitted")
	ErrUnknownModel = errors.New("unknown model")
)

// Regressor defines the contract every candidate model implements
type Regressor interface {
	// Name returns the candidate name used in reports and artifacts
	Name() string

	// Fit trains the model on a feature matrix (rows x features) and targets
	Fit(X [][]float64, y []float64) error

	// Predict returns one estimate per row of X
	Predict(X [][]float64) ([]float64, error)
}

// Candidate names, also used as the model kind in persisted artifacts
const (
	ModelLinearRegression = "LinearRegression"
	ModelRidge            = "Ridge"
	ModelDecisionTree     = "DecisionTree"
	ModelRandomForest     = "RandomForest"
	ModelSVR              = "SVR"
)

// CandidateOrder is the declaration order of the candidates. Selection ties
// are resolved in favour of the earlier entry.
var CandidateOrder = []string{
	ModelLinearRegression,
	ModelRidge,
	ModelDecisionTree,
	ModelRandomForest,
	ModelSVR,
}

// TrainingData holds the data for training and evaluation
type TrainingData struct {
	TrainFeatures [][]float64 // Training features (rows x features)
	TrainLabels   []float64   // Training targets
	TestFeatures  [][]float64 // Evaluation features
	TestLabels    []float64   // Evaluation targets
	FeatureNames  []string
}

// Validate checks that both splits are non-empty and consistently shaped
func (d *TrainingData) Validate() error {
	p, err := checkXY(d.TrainFeatures, d.TrainLabels)
	if err != nil {
		return fmt.Errorf("training split: %w", err)
	}
	q, err := checkXY(d.TestFeatures, d.TestLabels)
	if err != nil {
		return fmt.Errorf("evaluation split: %w", err)
	}
	if p != q {
		return fmt.Errorf("training split has %d features, evaluation split has %d", p, q)
	}
	if len(d.FeatureNames) > 0 && len(d.FeatureNames) != p {
		return fmt.Errorf("%d feature names for %d features", len(d.FeatureNames), p)
	}
	return nil
}

// Params holds the tunables exposed through configuration. The remaining
// hyperparameters of each candidate are fixed.
type Params struct {
	ForestTrees    int
	ForestMaxDepth int // 0 grows trees until leaves are pure
	SVRMaxSamples  int // 0 trains the SVR on every row
	Workers        int
	Seed           int64
}

// DefaultParams returns the parameters used when nothing is configured
func DefaultParams() Params {
	return Params{
		ForestTrees:    100,
		ForestMaxDepth: 0,
		SVRMaxSamples:  2000,
		Workers:        runtime.NumCPU(),
		Seed:           42,
	}
}

// TrainerFactory creates regressors by candidate name
type TrainerFactory struct {
	params   Params
	trainers map[string]func(Params) Regressor
}

// NewTrainerFactory creates a new trainer factory
func NewTrainerFactory(params Params) *TrainerFactory {
	if params.Workers < 1 {
		params.Workers = 1
	}
	factory := &TrainerFactory{
		params:   params,
		trainers: make(map[string]func(Params) Regressor),
	}

	// Register trainers for each candidate
	factory.trainers[ModelLinearRegression] = func(Params) Regressor { return NewLinearRegression() }
	factory.trainers[ModelRidge] = func(Params) Regressor { return NewRidge(1.0) }
	factory.trainers[ModelDecisionTree] = func(Params) Regressor {
		return NewDecisionTreeRegressor(CriterionPoisson, 10, 4, 4)
	}
	factory.trainers[ModelRandomForest] = func(p Params) Regressor {
		return NewRandomForestRegressor(p.ForestTrees, p.ForestMaxDepth, p.Seed, p.Workers)
	}
	factory.trainers[ModelSVR] = func(p Params) Regressor {
		return NewSVR(1.0, 0.1, p.SVRMaxSamples, p.Seed)
	}

	return factory
}

// GetTrainer returns a fresh, unfitted regressor for a candidate name
func (f *TrainerFactory) GetTrainer(name string) (Regressor, error) {
	build, ok := f.trainers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return build(f.params), nil
}

// Candidates returns one fresh regressor per candidate in declaration order
func (f *TrainerFactory) Candidates() []Regressor {
	out := make([]Regressor, 0, len(CandidateOrder))
	for _, name := range CandidateOrder {
		r, _ := f.GetTrainer(name)
		out = append(out, r)
	}
	return out
}

func checkXY(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, errors.New("no rows")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%d rows but %d targets", len(X), len(y))
	}
	return checkX(X, -1)
}

// checkX returns the common row width; want < 0 accepts any width
func checkX(X [][]float64, want int) (int, error) {
	if len(X) == 0 {
		return want, nil
	}
	p := len(X[0])
	if p == 0 {
		return 0, errors.New("rows have no features")
	}
	if want >= 0 && p != want {
		return 0, fmt.Errorf("rows have %d features, model expects %d", p, want)
	}
	for i, row := range X {
		if len(row) != p {
			return 0, fmt.Errorf("row %d has %d features, expected %d", i, len(row), p)
		}
	}
	return p, nil
}
