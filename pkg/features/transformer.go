package features

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/gemprice/pkg/models"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrNotFitted       = errors.New("transformer is not fitted")
)

// NumericColumns are standardized, in output order
var NumericColumns = []string{"depth", "table", "volume", "log_carat"}

// CategoricalColumns are ordinal encoded, in output order after the numeric ones
var CategoricalColumns = []string{"cut", "color", "clarity"}

var numericValue = map[string]func(*models.FeatureRow) float64{
	"depth":     func(r *models.FeatureRow) float64 { return r.Depth },
	"table":     func(r *models.FeatureRow) float64 { return r.Table },
	"volume":    func(r *models.FeatureRow) float64 { return r.Volume },
	"log_carat": func(r *models.FeatureRow) float64 { return r.LogCarat },
}

var categoricalValue = map[string]func(*models.FeatureRow) string{
	"cut":     func(r *models.FeatureRow) string { return r.Cut },
	"color":   func(r *models.FeatureRow) string { return r.Color },
	"clarity": func(r *models.FeatureRow) string { return r.Clarity },
}

// Scaler holds standardization parameters for one numeric column
type Scaler struct {
	Column string  `json:"column"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

// Encoder maps the categories of one column to their ordinal rank
type Encoder struct {
	Column     string   `json:"column"`
	Categories []string `json:"categories"`

	ranks map[string]int
}

func (e *Encoder) index() {
	e.ranks = make(map[string]int, len(e.Categories))
	for i, c := range e.Categories {
		e.ranks[c] = i
	}
}

func (e *Encoder) rank(value string) (float64, error) {
	if e.ranks != nil {
		if r, ok := e.ranks[value]; ok {
			return float64(r), nil
		}
	} else {
		for i, c := range e.Categories {
			if c == value {
				return float64(i), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s=%q", ErrUnknownCategory, e.Column, value)
}

// State is a fitted transformer. It is not modified after Fit and is safe
// for concurrent use once Prepare has been called.
type State struct {
	Version     string    `json:"version"`
	Numeric     []Scaler  `json:"numeric"`
	Categorical []Encoder `json:"categorical"`
	FittedRows  int       `json:"fitted_rows"`
}

// Fit computes the mean and population standard deviation of every numeric
// column. A zero deviation yields scale 1 so constant columns map to zero.
func Fit(rows []models.FeatureRow, version string) (*State, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows to fit", ErrNotFitted)
	}

	s := &State{Version: version, FittedRows: len(rows)}
	values := make([]float64, len(rows))
	for _, col := range NumericColumns {
		get := numericValue[col]
		for i := range rows {
			values[i] = get(&rows[i])
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		if std == 0 {
			std = 1
		}
		s.Numeric = append(s.Numeric, Scaler{Column: col, Mean: mean, Scale: std})
	}
	for _, col := range CategoricalColumns {
		s.Categorical = append(s.Categorical, Encoder{
			Column:     col,
			Categories: append([]string(nil), models.Categories[col]...),
		})
	}
	s.Prepare()
	return s, nil
}

// Prepare builds the category lookup tables. Decoded states must be
// prepared before they are shared between goroutines.
func (s *State) Prepare() {
	for i := range s.Categorical {
		s.Categorical[i].index()
	}
}

// Validate checks a decoded state for structural consistency
func (s *State) Validate() error {
	if s == nil || len(s.Numeric) != len(NumericColumns) || len(s.Categorical) != len(CategoricalColumns) {
		return ErrNotFitted
	}
	for i, sc := range s.Numeric {
		if sc.Column != NumericColumns[i] {
			return fmt.Errorf("numeric column %d is %q, expected %q", i, sc.Column, NumericColumns[i])
		}
		if sc.Scale == 0 {
			return fmt.Errorf("numeric column %s has zero scale", sc.Column)
		}
	}
	for i, enc := range s.Categorical {
		if enc.Column != CategoricalColumns[i] {
			return fmt.Errorf("categorical column %d is %q, expected %q", i, enc.Column, CategoricalColumns[i])
		}
		if len(enc.Categories) == 0 {
			return fmt.Errorf("categorical column %s has no categories", enc.Column)
		}
	}
	return nil
}

// FeatureNames returns the output column names
func (s *State) FeatureNames() []string {
	names := make([]string, 0, len(s.Numeric)+len(s.Categorical))
	for _, sc := range s.Numeric {
		names = append(names, sc.Column)
	}
	for _, enc := range s.Categorical {
		names = append(names, enc.Column)
	}
	return names
}

// TransformOne maps a single row to its feature vector
func (s *State) TransformOne(row models.FeatureRow) ([]float64, error) {
	if s == nil || len(s.Numeric) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, 0, len(s.Numeric)+len(s.Categorical))
	for _, sc := range s.Numeric {
		get, ok := numericValue[sc.Column]
		if !ok {
			return nil, fmt.Errorf("unsupported numeric column %q", sc.Column)
		}
		out = append(out, (get(&row)-sc.Mean)/sc.Scale)
	}
	for i := range s.Categorical {
		enc := &s.Categorical[i]
		get, ok := categoricalValue[enc.Column]
		if !ok {
			return nil, fmt.Errorf("unsupported categorical column %q", enc.Column)
		}
		r, err := enc.rank(get(&row))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Transform maps rows to a feature matrix. The first unknown category aborts.
func (s *State) Transform(rows []models.FeatureRow) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		v, err := s.TransformOne(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
