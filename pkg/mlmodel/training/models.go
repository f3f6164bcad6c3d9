package training

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearRegression is ordinary least squares with an intercept. The
// coefficients are the minimum-norm solution, so collinear features do not
// make the fit fail.
type LinearRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// NewLinearRegression creates a new linear regression
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Name returns the candidate name
func (m *LinearRegression) Name() string { return ModelLinearRegression }

// Fit solves the centred least squares problem through a thin SVD
func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	if _, err := checkXY(X, y); err != nil {
		return err
	}
	xc, yc, xMean, yMean := center(X, y)

	var svd mat.SVD
	if !svd.Factorize(xc, mat.SVDThin) {
		return errors.New("linear regression: SVD factorization failed")
	}
	_, p := xc.Dims()
	coef := mat.NewVecDense(p, nil)
	if rank := svd.Rank(1e-12); rank > 0 {
		svd.SolveVecTo(coef, yc, rank)
	}

	m.Coef = coef.RawVector().Data
	m.Intercept = yMean - mat.Dot(mat.NewVecDense(p, xMean), coef)
	return nil
}

// Predict returns the linear estimate for each row
func (m *LinearRegression) Predict(X [][]float64) ([]float64, error) {
	return predictLinear(m.Coef, m.Intercept, X)
}

// Ridge is L2-regularized least squares with an unpenalized intercept
type Ridge struct {
	Alpha     float64   `json:"alpha"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// NewRidge creates a ridge regression with the given penalty
func NewRidge(alpha float64) *Ridge {
	return &Ridge{Alpha: alpha}
}

// Name returns the candidate name
func (m *Ridge) Name() string { return ModelRidge }

// Fit solves (XcᵀXc + αI)w = Xcᵀyc by Cholesky factorization
func (m *Ridge) Fit(X [][]float64, y []float64) error {
	if _, err := checkXY(X, y); err != nil {
		return err
	}
	if m.Alpha < 0 {
		return fmt.Errorf("ridge: negative alpha %v", m.Alpha)
	}
	xc, yc, xMean, yMean := center(X, y)
	_, p := xc.Dims()

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for i := 0; i < p; i++ {
		gram.SetSym(i, i, gram.At(i, i)+m.Alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	if !chol.Factorize(&gram) {
		return errors.New("ridge: normal equations are not positive definite")
	}
	coef := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(coef, &rhs); err != nil {
		return fmt.Errorf("ridge: %w", err)
	}

	m.Coef = coef.RawVector().Data
	m.Intercept = yMean - mat.Dot(mat.NewVecDense(p, xMean), coef)
	return nil
}

// Predict returns the linear estimate for each row
func (m *Ridge) Predict(X [][]float64) ([]float64, error) {
	return predictLinear(m.Coef, m.Intercept, X)
}

func predictLinear(coef []float64, intercept float64, X [][]float64) ([]float64, error) {
	if len(coef) == 0 {
		return nil, ErrNotFitted
	}
	if _, err := checkX(X, len(coef)); err != nil {
		return nil, err
	}
	w := mat.NewVecDense(len(coef), coef)
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = intercept + mat.Dot(mat.NewVecDense(len(row), row), w)
	}
	return out, nil
}

// center returns X and y with their column means removed, and the means
func center(X [][]float64, y []float64) (*mat.Dense, *mat.VecDense, []float64, float64) {
	n, p := len(X), len(X[0])
	xMean := make([]float64, p)
	for _, row := range X {
		for j, v := range row {
			xMean[j] += v
		}
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean := 0.0
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range X {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}
	return xc, yc, xMean, yMean
}
