package dataset

import (
	"fmt"
	"math"
	"sort"
)

// Quantile returns the q-th quantile of values using linear interpolation
// between the two nearest ranks, position (n-1)*q. NaNs are ignored.
func Quantile(values []float64, q float64) (float64, error) {
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quantile %v out of range [0,1]", q)
	}
	sorted, err := sortedValues(values)
	if err != nil {
		return 0, err
	}
	return quantileSorted(sorted, q), nil
}

// sortedValues returns a sorted copy of values without NaNs
func sortedValues(values []float64) ([]float64, error) {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return nil, ErrEmptyDataset
	}
	sort.Float64s(sorted)
	return sorted, nil
}

func quantileSorted(sorted []float64, q float64) float64 {
	pos := float64(len(sorted)-1) * q
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Bounds is the closed interval a value must fall in to be kept
type Bounds struct {
	Q1, Q3       float64
	Lower, Upper float64
}

// IQR returns the interquartile range
func (b Bounds) IQR() float64 { return b.Q3 - b.Q1 }

// Contains reports whether v lies within [Lower, Upper]. NaN never does.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// IQRBounds computes [Q1 - 1.5*IQR, Q3 + 1.5*IQR]
func IQRBounds(values []float64) (Bounds, error) {
	sorted, err := sortedValues(values)
	if err != nil {
		return Bounds{}, err
	}

	q1 := quantileSorted(sorted, 0.25)
	q3 := quantileSorted(sorted, 0.75)
	iqr := q3 - q1
	return Bounds{Q1: q1, Q3: q3, Lower: q1 - 1.5*iqr, Upper: q3 + 1.5*iqr}, nil
}

// RemoveOutliersIQR keeps the rows whose value in column lies within the IQR
// bounds of that column.
func RemoveOutliersIQR(f *Frame, column string) (*Frame, Bounds, error) {
	if f.Len() == 0 {
		return nil, Bounds{}, ErrEmptyDataset
	}
	values, err := f.Float(column)
	if err != nil {
		return nil, Bounds{}, err
	}
	b, err := IQRBounds(values)
	if err != nil {
		return nil, Bounds{}, fmt.Errorf("%w: %s has no numeric values", ErrNonNumericColumn, column)
	}
	return f.Filter(func(i int) bool { return b.Contains(values[i]) }), b, nil
}

// TrimNumericOutliers applies RemoveOutliersIQR to every numeric column in
// column order, each pass narrowing the result of the previous one.
// Categorical columns are skipped. report, when non-nil, receives the bounds
// and the surviving row count after each column.
func TrimNumericOutliers(f *Frame, report func(column string, b Bounds, remaining int)) (*Frame, error) {
	out := f
	for _, col := range f.NumericColumns() {
		next, b, err := RemoveOutliersIQR(out, col)
		if err != nil {
			return nil, fmt.Errorf("outlier removal on %s: %w", col, err)
		}
		out = next
		if report != nil {
			report(col, b, out.Len())
		}
	}
	return out, nil
}
