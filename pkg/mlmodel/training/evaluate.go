package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mimir-aip/gemprice/pkg/models"
)

// Result is one fitted and scored candidate
type Result struct {
	Model       Regressor
	Metrics     models.EvaluationMetrics
	FitDuration time.Duration
}

// Report holds the results in candidate declaration order
type Report struct {
	Results []Result
}

// Best returns the candidate with the highest R². The earliest candidate wins
// a tie; NaN scores never win.
func (r *Report) Best() (*Result, error) {
	if r == nil || len(r.Results) == 0 {
		return nil, ErrNoCandidates
	}
	best := -1
	bestR2 := math.Inf(-1)
	for i := range r.Results {
		score := r.Results[i].Metrics.R2
		if math.IsNaN(score) {
			continue
		}
		if best < 0 || score > bestR2 {
			best, bestR2 = i, score
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: every candidate scored NaN", ErrNoCandidates)
	}
	return &r.Results[best], nil
}

// Candidates converts the results into run report entries
func (r *Report) Candidates() []models.CandidateReport {
	out := make([]models.CandidateReport, len(r.Results))
	for i, res := range r.Results {
		out[i] = models.CandidateReport{
			Name:        res.Model.Name(),
			Metrics:     res.Metrics,
			FitDuration: res.FitDuration,
		}
	}
	return out
}

// Evaluate fits every candidate on the training split and scores it on the
// evaluation split. Up to workers candidates are fitted at once; the first
// failure cancels the rest. Results keep the order of candidates.
func Evaluate(ctx context.Context, candidates []Regressor, data *TrainingData, workers int) (*Report, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	results := make([]Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, model := range candidates {
		i, model := i, model
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			if err := model.Fit(data.TrainFeatures, data.TrainLabels); err != nil {
				return fmt.Errorf("fit %s: %w", model.Name(), err)
			}
			elapsed := time.Since(start)

			pred, err := model.Predict(data.TestFeatures)
			if err != nil {
				return fmt.Errorf("predict %s: %w", model.Name(), err)
			}
			metrics, err := Score(pred, data.TestLabels)
			if err != nil {
				return fmt.Errorf("score %s: %w", model.Name(), err)
			}
			results[i] = Result{Model: model, Metrics: metrics, FitDuration: elapsed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Report{Results: results}, nil
}
