// Package features turns gemstone records into the numeric matrix the
// regressors consume.
package features

import (
	"math"

	"github.com/mimir-aip/gemprice/pkg/models"
)

// Derive computes the transformer input for one record. Raw carat and edge
// lengths are replaced by log1p(carat) and x*y*z.
func Derive(r models.Record) models.FeatureRow {
	return models.FeatureRow{
		Depth:    r.Depth,
		Table:    r.Table,
		Volume:   r.X * r.Y * r.Z,
		LogCarat: math.Log1p(r.Carat),
		Cut:      r.Cut,
		Color:    r.Color,
		Clarity:  r.Clarity,
	}
}

// DeriveAll derives feature rows and log targets for a slice of records
func DeriveAll(records []models.Record) ([]models.FeatureRow, []float64) {
	rows := make([]models.FeatureRow, len(records))
	targets := make([]float64, len(records))
	for i, r := range records {
		rows[i] = Derive(r)
		targets[i] = LogTarget(r.Price)
	}
	return rows, targets
}

// LogTarget maps a price into model space
func LogTarget(price float64) float64 { return math.Log1p(price) }

// InverseTarget maps a model output back to a price
func InverseTarget(v float64) float64 { return math.Expm1(v) }
