package training

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SVR is epsilon-insensitive support vector regression with an RBF kernel.
//
// The dual is solved by coordinate descent with the bias folded into the
// kernel (K + 1), which removes the equality constraint on the dual
// coefficients. Training uses at most MaxSamples rows, drawn with Seed, as
// the kernel matrix is quadratic in the row count.
type SVR struct {
	C          float64 `json:"c"`
	Epsilon    float64 `json:"epsilon"`
	Gamma      float64 `json:"gamma"` // set by Fit from the training rows
	MaxSamples int     `json:"max_samples"`
	MaxIter    int     `json:"max_iter"`
	Tol        float64 `json:"tol"`
	Seed       int64   `json:"seed"`

	SupportVectors [][]float64 `json:"support_vectors"`
	DualCoef       []float64   `json:"dual_coef"`
	Intercept      float64     `json:"intercept"`
}

// NewSVR creates an RBF SVR with gamma chosen from the data variance
func NewSVR(c, epsilon float64, maxSamples int, seed int64) *SVR {
	return &SVR{
		C:          c,
		Epsilon:    epsilon,
		MaxSamples: maxSamples,
		MaxIter:    200,
		Tol:        1e-3,
		Seed:       seed,
	}
}

// Name returns the candidate name
func (m *SVR) Name() string { return ModelSVR }

// Fit solves the dual problem on a (possibly subsampled) training set
func (m *SVR) Fit(X [][]float64, y []float64) error {
	p, err := checkXY(X, y)
	if err != nil {
		return err
	}
	if m.C <= 0 {
		return fmt.Errorf("svr: C must be positive, got %v", m.C)
	}

	rng := rand.New(rand.NewSource(m.Seed))
	rows := make([]int, len(X))
	for i := range rows {
		rows[i] = i
	}
	if m.MaxSamples > 0 && len(rows) > m.MaxSamples {
		rows = rng.Perm(len(X))[:m.MaxSamples]
	}
	n := len(rows)

	// gamma = 1 / (n_features * Var(X)) over every training value
	flat := make([]float64, 0, n*p)
	for _, r := range rows {
		flat = append(flat, X[r]...)
	}
	m.Gamma = 1.0
	if v := stat.PopVariance(flat, nil); v > 0 {
		m.Gamma = 1 / (float64(p) * v)
	}

	xs := mat.NewDense(n, p, flat)
	q := m.kernelMatrix(xs)

	beta := make([]float64, n)
	grad := make([]float64, n) // (Qβ)_i - y_i
	for i, r := range rows {
		grad[i] = -y[r]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	iter := m.MaxIter
	if iter < 1 {
		iter = 1
	}
	for ; iter > 0; iter-- {
		rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })
		maxStep := 0.0
		for _, i := range order {
			qii := q[i*n+i]
			z := beta[i] - grad[i]/qii
			next := softThreshold(z, m.Epsilon/qii)
			next = math.Max(-m.C, math.Min(m.C, next))
			d := next - beta[i]
			if d == 0 {
				continue
			}
			beta[i] = next
			row := q[i*n : (i+1)*n]
			for j := range grad {
				grad[j] += d * row[j]
			}
			maxStep = math.Max(maxStep, math.Abs(d))
		}
		if maxStep < m.Tol {
			break
		}
	}

	m.SupportVectors = m.SupportVectors[:0]
	m.DualCoef = m.DualCoef[:0]
	m.Intercept = 0
	for i, b := range beta {
		if b == 0 {
			continue
		}
		m.SupportVectors = append(m.SupportVectors, append([]float64(nil), X[rows[i]]...))
		m.DualCoef = append(m.DualCoef, b)
		m.Intercept += b
	}
	if len(m.SupportVectors) == 0 {
		// Every target lies inside the epsilon tube around zero.
		m.SupportVectors = [][]float64{make([]float64, p)}
		m.DualCoef = []float64{0}
	}
	return nil
}

// kernelMatrix returns K + 1 for the rows of xs as a dense row-major slice.
// Squared distances come from the Gram matrix: |a-b|² = a·a + b·b - 2a·b.
func (m *SVR) kernelMatrix(xs *mat.Dense) []float64 {
	n, _ := xs.Dims()
	var gram mat.SymDense
	gram.SymOuterK(1, xs)

	q := make([]float64, n*n)
	for i := 0; i < n; i++ {
		gii := gram.At(i, i)
		q[i*n+i] = 2
		for j := i + 1; j < n; j++ {
			d := gii + gram.At(j, j) - 2*gram.At(i, j)
			k := math.Exp(-m.Gamma*math.Max(d, 0)) + 1
			q[i*n+j] = k
			q[j*n+i] = k
		}
	}
	return q
}

// Predict evaluates Σ β_i k(sv_i, x) + b for each row
func (m *SVR) Predict(X [][]float64) ([]float64, error) {
	if len(m.SupportVectors) == 0 {
		return nil, ErrNotFitted
	}
	if _, err := checkX(X, len(m.SupportVectors[0])); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		s := m.Intercept
		for k, sv := range m.SupportVectors {
			s += m.DualCoef[k] * math.Exp(-m.Gamma*sqDist(sv, row))
		}
		out[i] = s
	}
	return out, nil
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func softThreshold(z, t float64) float64 {
	switch {
	case z > t:
		return z - t
	case z < -t:
		return z + t
	default:
		return 0
	}
}
