package regressor

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"
)

const leaf = -1

// Node of a regression tree. A node with Feature == -1 is a leaf.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree, stored as a flat list of nodes.
// Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

type treeParams struct {
	maxDepth        int // 0 = unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     float64
}

// grow a tree on rows `idx` of cols/y.
//
// rng is used only when maxFeatures < 1.
func grow(cols [][]float64, y []float64, idx []int, p treeParams, rng *rand.Rand) Tree {
	b := &treeBuilder{cols: cols, y: y, p: p, rng: rng}
	b.build(slices.Clone(idx), 0)
	return Tree{Nodes: b.nodes}
}

type treeBuilder struct {
	cols  [][]float64
	y     []float64
	p     treeParams
	rng   *rand.Rand
	nodes []Node
}

func (b *treeBuilder) build(idx []int, depth int) int {
	me := len(b.nodes)
	sum := 0.0
	for _, i := range idx {
		sum += b.y[i]
	}
	b.nodes = append(b.nodes, Node{Feature: leaf, Value: sum / float64(len(idx))})

	if b.p.maxDepth > 0 && b.p.maxDepth <= depth {
		return me
	}
	if len(idx) < b.p.minSamplesSplit || len(idx) < 2*b.p.minSamplesLeaf {
		return me
	}

	feature, threshold, ok := b.split(idx, sum)
	if !ok {
		return me
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.cols[feature][i] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[me].Feature = feature
	b.nodes[me].Threshold = threshold
	b.nodes[me].Left = l
	b.nodes[me].Right = r
	return me
}

func (b *treeBuilder) candidates() []int {
	d := len(b.cols)
	k := int(b.p.maxFeatures * float64(d))
	if k < 1 {
		k = 1
	}
	if d <= k || b.rng == nil {
		feats := make([]int, d)
		for i := range feats {
			feats[i] = i
		}
		return feats
	}
	return b.rng.Perm(d)[:k]
}

// split finds the split maximizing the reduction of squared error.
func (b *treeBuilder) split(idx []int, total float64) (feature int, threshold float64, ok bool) {
	n := len(idx)
	minLeaf := max(b.p.minSamplesLeaf, 1)

	// maximizing sumL^2/nL + sumR^2/nR is minimizing SSE of children
	best := total * total / float64(n)
	const tolerance = 1e-12

	sorted := make([]int, n)
	for _, f := range b.candidates() {
		col := b.cols[f]
		copy(sorted, idx)
		slices.SortFunc(sorted, func(i, j int) int {
			switch {
			case col[i] < col[j]:
				return -1
			case col[i] > col[j]:
				return 1
			}
			return 0
		})

		sumL := 0.0
		for k := 1; k < n; k++ {
			sumL += b.y[sorted[k-1]]
			if k < minLeaf || n-k < minLeaf {
				continue
			}
			lo, hi := col[sorted[k-1]], col[sorted[k]]
			if lo == hi {
				continue
			}
			sumR := total - sumL
			score := sumL*sumL/float64(k) + sumR*sumR/float64(n-k)
			if score > best+tolerance {
				best = score
				feature = f
				threshold = lo + (hi-lo)/2
				ok = true
			}
		}
	}
	return
}

func (t Tree) predictRow(row []float64) float64 {
	n := 0
	for {
		node := t.Nodes[n]
		if node.Feature == leaf {
			return node.Value
		}
		if row[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
}

// predictInto adds scale * prediction of each row of X into out.
func (t Tree) predictInto(out []float64, X mat.Matrix, scale float64) error {
	if len(t.Nodes) == 0 {
		return ErrNotFitted
	}
	r, c := X.Dims()
	row := make([]float64, c)
	for i := range r {
		mat.Row(row, i, X)
		out[i] += scale * t.predictRow(row)
	}
	return nil
}

func checkDims(fitted, given int) error {
	if fitted != given {
		return fmt.Errorf("%w: fitted with %d features, but got %d", ErrDimension, fitted, given)
	}
	return nil
}
