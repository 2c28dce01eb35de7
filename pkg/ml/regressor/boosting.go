package regressor

import (
	"context"
	"math/rand/v2"

	"github.com/opst/mlserve/pkg/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Boosting is gradient boosting with squared error loss.
//
// Each stage fits a tree to the residuals of the stages so far.
type Boosting struct {
	Params    domain.GradientBoosting `json:"params"`
	NFeatures int                     `json:"n_features"`
	Init      float64                 `json:"init"`
	Stages    []Tree                  `json:"stages"`
}

var _ Regressor = &Boosting{}

func newBoosting(p domain.GradientBoosting) *Boosting {
	return &Boosting{Params: p}
}

func (*Boosting) Family() domain.ModelFamily {
	return domain.GradientBoostingFamily
}

func (b *Boosting) Fit(ctx context.Context, X mat.Matrix, y []float64) error {
	if err := checkFitInput(X, y); err != nil {
		return err
	}
	cols := columns(X)
	n := len(y)
	p := b.Params
	tp := treeParams{
		maxDepth:        p.MaxDepth,
		minSamplesSplit: p.MinSamplesSplit,
		minSamplesLeaf:  p.MinSamplesLeaf,
		maxFeatures:     1,
	}
	rng := rand.New(rand.NewPCG(uint64(p.RandomState), 0))

	init := stat.Mean(y, nil)
	current := make([]float64, n)
	for i := range current {
		current[i] = init
	}
	residual := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	sampleSize := max(int(p.Subsample*float64(n)), 1)

	row := make([]float64, len(cols))
	stages := make([]Tree, 0, p.NEstimators)
	for range p.NEstimators {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range residual {
			residual[i] = y[i] - current[i]
		}

		idx := all
		if sampleSize < n {
			perm := rng.Perm(n)
			idx = perm[:sampleSize]
		}

		tree := grow(cols, residual, idx, tp, nil)
		for i := range current {
			for j := range cols {
				row[j] = cols[j][i]
			}
			current[i] += p.LearningRate * tree.predictRow(row)
		}
		stages = append(stages, tree)
	}

	b.NFeatures = len(cols)
	b.Init = init
	b.Stages = stages
	return nil
}

func (b *Boosting) Predict(X mat.Matrix) ([]float64, error) {
	if b.Stages == nil {
		return nil, ErrNotFitted
	}
	r, c := X.Dims()
	if err := checkDims(b.NFeatures, c); err != nil {
		return nil, err
	}

	out := make([]float64, r)
	for i := range out {
		out[i] = b.Init
	}
	for _, t := range b.Stages {
		if err := t.predictInto(out, X, b.Params.LearningRate); err != nil {
			return nil, err
		}
	}
	return out, nil
}
