package training

import (
	"fmt"
	"math"
	"sort"
)

// Split criteria supported by DecisionTreeRegressor
const (
	CriterionSquaredError = "squared_error"
	CriterionPoisson      = "poisson"
)

// Node is one node of a fitted tree. Leaves have Left == -1.
type Node struct {
	Feature   int32   `json:"f"`
	Left      int32   `json:"l"`
	Right     int32   `json:"r"`
	Threshold float64 `json:"t"`
	Value     float64 `json:"v"`
}

// DecisionTreeRegressor is a CART regression tree. Nodes are stored
// flattened with the root at index 0; rows with x[Feature] <= Threshold go
// left.
type DecisionTreeRegressor struct {
	Criterion       string `json:"criterion"`
	MaxDepth        int    `json:"max_depth"` // 0 means unlimited
	MinSamplesSplit int    `json:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf"`
	NumFeatures     int    `json:"num_features"`
	Nodes           []Node `json:"nodes"`
}

// NewDecisionTreeRegressor creates a new decision tree
func NewDecisionTreeRegressor(criterion string, maxDepth, minSamplesSplit, minSamplesLeaf int) *DecisionTreeRegressor {
	return &DecisionTreeRegressor{
		Criterion:       criterion,
		MaxDepth:        maxDepth,
		MinSamplesSplit: minSamplesSplit,
		MinSamplesLeaf:  minSamplesLeaf,
	}
}

// Name returns the candidate name
func (t *DecisionTreeRegressor) Name() string { return ModelDecisionTree }

// Fit grows the tree on every row of X
func (t *DecisionTreeRegressor) Fit(X [][]float64, y []float64) error {
	if _, err := checkXY(X, y); err != nil {
		return err
	}
	rows := make([]int, len(X))
	for i := range rows {
		rows[i] = i
	}
	return t.fitRows(X, y, rows)
}

// fitRows grows the tree on the given rows of X. Rows may repeat, which is
// how bootstrap samples are fitted.
func (t *DecisionTreeRegressor) fitRows(X [][]float64, y []float64, rows []int) error {
	switch t.Criterion {
	case CriterionSquaredError, CriterionPoisson:
	default:
		return fmt.Errorf("unknown split criterion %q", t.Criterion)
	}
	if t.Criterion == CriterionPoisson {
		for _, r := range rows {
			if y[r] < 0 {
				return fmt.Errorf("poisson criterion requires non-negative targets, got %v", y[r])
			}
		}
	}
	if len(rows) == 0 {
		return fmt.Errorf("no training data provided")
	}

	b := newTreeBuilder(t, X, y, rows)
	t.NumFeatures = len(X[0])
	b.build(0, len(rows), 0)
	t.Nodes = b.nodes
	return nil
}

// Predict returns the leaf mean reached by each row
func (t *DecisionTreeRegressor) Predict(X [][]float64) ([]float64, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotFitted
	}
	if _, err := checkX(X, t.NumFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = t.predictOne(row)
	}
	return out, nil
}

func (t *DecisionTreeRegressor) predictOne(row []float64) float64 {
	n := &t.Nodes[0]
	for n.Left >= 0 {
		if row[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Value
}

// Depth returns the length of the longest root-to-leaf path
func (t *DecisionTreeRegressor) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int32) int
	walk = func(i int32) int {
		n := t.Nodes[i]
		if n.Left < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// treeBuilder holds per-feature sample orderings. order[f][start:end] lists
// the samples of the node being split, sorted by feature f; every split
// partitions those ranges stably so the orderings never need resorting.
type treeBuilder struct {
	tree    *DecisionTreeRegressor
	x       [][]float64 // sample -> features
	y       []float64   // sample -> target
	order   [][]int32
	goLeft  []bool
	scratch []int32
	nodes   []Node
}

func newTreeBuilder(t *DecisionTreeRegressor, X [][]float64, y []float64, rows []int) *treeBuilder {
	m, p := len(rows), len(X[0])
	b := &treeBuilder{
		tree:    t,
		x:       make([][]float64, m),
		y:       make([]float64, m),
		order:   make([][]int32, p),
		goLeft:  make([]bool, m),
		scratch: make([]int32, m),
	}
	for i, r := range rows {
		b.x[i] = X[r]
		b.y[i] = y[r]
	}
	for f := 0; f < p; f++ {
		idx := make([]int32, m)
		for i := range idx {
			idx[i] = int32(i)
		}
		sort.SliceStable(idx, func(a, c int) bool { return b.x[idx[a]][f] < b.x[idx[c]][f] })
		b.order[f] = idx
	}
	return b
}

// proxy is the part of the children's impurity that varies with the split
// point; larger is better.
func (b *treeBuilder) proxy(sum float64, n int) float64 {
	if b.tree.Criterion == CriterionPoisson {
		if sum <= 0 {
			return math.Inf(-1)
		}
		return sum * math.Log(sum/float64(n))
	}
	return sum * sum / float64(n)
}

func (b *treeBuilder) build(start, end, depth int) int32 {
	id := int32(len(b.nodes))
	samples := b.order[0][start:end]
	n := end - start

	var sum, sumSq float64
	for _, s := range samples {
		v := b.y[s]
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	b.nodes = append(b.nodes, Node{Feature: -1, Left: -1, Right: -1, Value: mean})

	t := b.tree
	variance := sumSq/float64(n) - mean*mean
	if (t.MaxDepth > 0 && depth >= t.MaxDepth) ||
		n < t.MinSamplesSplit ||
		n < 2*max(t.MinSamplesLeaf, 1) ||
		variance <= 1e-12 {
		return id
	}

	feature, pos, threshold, ok := b.bestSplit(start, end, sum)
	if !ok {
		return id
	}

	for i := start; i < end; i++ {
		b.goLeft[b.order[feature][i]] = i < pos
	}
	for f := range b.order {
		b.partition(b.order[f][start:end])
	}

	left := b.build(start, pos, depth+1)
	right := b.build(pos, end, depth+1)
	b.nodes[id].Feature = int32(feature)
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = left
	b.nodes[id].Right = right
	return id
}

// bestSplit scans every feature for the split point with the largest proxy
// improvement. pos is the first index of the right child in order[feature].
func (b *treeBuilder) bestSplit(start, end int, total float64) (feature, pos int, threshold float64, ok bool) {
	minLeaf := max(b.tree.MinSamplesLeaf, 1)
	n := end - start
	best := math.Inf(-1)

	for f, idx := range b.order {
		ordered := idx[start:end]
		if b.x[ordered[0]][f] == b.x[ordered[n-1]][f] {
			continue
		}
		left := 0.0
		for k := 0; k < n-1; k++ {
			left += b.y[ordered[k]]
			nl := k + 1
			if nl < minLeaf {
				continue
			}
			if n-nl < minLeaf {
				break
			}
			lo, hi := b.x[ordered[k]][f], b.x[ordered[k+1]][f]
			if lo == hi {
				continue
			}
			score := b.proxy(left, nl) + b.proxy(total-left, n-nl)
			if score > best {
				best = score
				feature = f
				pos = start + nl
				threshold = lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				ok = true
			}
		}
	}
	return feature, pos, threshold, ok
}

// partition reorders a node's samples so the left child comes first while
// keeping each side in its existing order.
func (b *treeBuilder) partition(ordered []int32) {
	right := b.scratch[:0]
	i := 0
	for _, s := range ordered {
		if b.goLeft[s] {
			ordered[i] = s
			i++
		} else {
			right = append(right, s)
		}
	}
	copy(ordered[i:], right)
}
