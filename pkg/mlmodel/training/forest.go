package training

import (
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// RandomForestRegressor averages squared-error trees grown on bootstrap
// samples of the training rows.
type RandomForestRegressor struct {
	NumTrees int                      `json:"num_trees"`
	MaxDepth int                      `json:"max_depth"`
	Seed     int64                    `json:"seed"`
	Trees    []*DecisionTreeRegressor `json:"trees"`

	workers int
}

// NewRandomForestRegressor creates a forest fitting up to workers trees at once
func NewRandomForestRegressor(numTrees, maxDepth int, seed int64, workers int) *RandomForestRegressor {
	return &RandomForestRegressor{
		NumTrees: numTrees,
		MaxDepth: maxDepth,
		Seed:     seed,
		workers:  workers,
	}
}

// Name returns the candidate name
func (f *RandomForestRegressor) Name() string { return ModelRandomForest }

// Fit grows every tree in parallel. Bootstrap samples are drawn up front from
// a single seeded source, so the result does not depend on scheduling.
func (f *RandomForestRegressor) Fit(X [][]float64, y []float64) error {
	if _, err := checkXY(X, y); err != nil {
		return err
	}
	if f.NumTrees < 1 {
		return fmt.Errorf("random forest needs at least one tree, got %d", f.NumTrees)
	}

	rng := rand.New(rand.NewSource(f.Seed))
	samples := make([][]int, f.NumTrees)
	for i := range samples {
		rows := make([]int, len(X))
		for j := range rows {
			rows[j] = rng.Intn(len(X))
		}
		samples[i] = rows
	}

	trees := make([]*DecisionTreeRegressor, f.NumTrees)
	var g errgroup.Group
	g.SetLimit(max(f.workers, 1))
	for i := range trees {
		i := i
		g.Go(func() error {
			tree := NewDecisionTreeRegressor(CriterionSquaredError, f.MaxDepth, 2, 1)
			if err := tree.fitRows(X, y, samples[i]); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

// Predict returns the mean of the tree predictions
func (f *RandomForestRegressor) Predict(X [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	for _, tree := range f.Trees {
		pred, err := tree.Predict(X)
		if err != nil {
			return nil, err
		}
		for i, v := range pred {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(f.Trees))
	}
	return out, nil
}
