package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/gemprice/pkg/models"
)

// Score computes regression metrics of predictions against actual targets.
// R² is 0 when the targets have no variance.
func Score(predictions, actual []float64) (models.EvaluationMetrics, error) {
	if len(predictions) != len(actual) {
		return models.EvaluationMetrics{}, fmt.Errorf("%d predictions for %d targets", len(predictions), len(actual))
	}
	if len(actual) == 0 {
		return models.EvaluationMetrics{}, fmt.Errorf("no targets to score")
	}
	n := float64(len(actual))

	l2 := floats.Distance(predictions, actual, 2)
	mse := l2 * l2 / n
	mae := floats.Distance(predictions, actual, 1) / n

	r2 := 0.0
	if stat.PopVariance(actual, nil) > 0 {
		r2 = stat.RSquaredFrom(predictions, actual, nil)
	}

	return models.EvaluationMetrics{
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		MAE:  mae,
		R2:   r2,
	}, nil
}
