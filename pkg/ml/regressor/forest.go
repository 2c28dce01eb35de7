package regressor

import (
	"context"
	"math/rand/v2"

	"github.com/opst/mlserve/pkg/domain"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Forest is a random forest: the mean of trees grown on bootstrap samples.
//
// Trees are grown in parallel. The result depends only on RandomState, not on NJobs.
type Forest struct {
	Params    domain.RandomForest `json:"params"`
	NFeatures int                 `json:"n_features"`
	Trees     []Tree              `json:"trees"`
}

var _ Regressor = &Forest{}

func newForest(p domain.RandomForest) *Forest {
	return &Forest{Params: p}
}

func (*Forest) Family() domain.ModelFamily {
	return domain.RandomForestFamily
}

func (f *Forest) Fit(ctx context.Context, X mat.Matrix, y []float64) error {
	if err := checkFitInput(X, y); err != nil {
		return err
	}
	cols := columns(X)
	n := len(y)
	p := f.Params
	tp := treeParams{
		maxDepth:        p.MaxDepth,
		minSamplesSplit: p.MinSamplesSplit,
		minSamplesLeaf:  p.MinSamplesLeaf,
		maxFeatures:     p.MaxFeatures,
	}

	trees := make([]Tree, p.NEstimators)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(jobs(p.NJobs))
	for t := range trees {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// each tree owns its random stream, so that scheduling does not change the forest.
			rng := rand.New(rand.NewPCG(uint64(p.RandomState), uint64(t)))
			idx := make([]int, n)
			for i := range idx {
				if p.Bootstrap {
					idx[i] = rng.IntN(n)
				} else {
					idx[i] = i
				}
			}
			trees[t] = grow(cols, y, idx, tp, rng)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	f.NFeatures = len(cols)
	f.Trees = trees
	return nil
}

func (f *Forest) Predict(X mat.Matrix) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	r, c := X.Dims()
	if err := checkDims(f.NFeatures, c); err != nil {
		return nil, err
	}

	out := make([]float64, r)
	scale := 1 / float64(len(f.Trees))
	for _, t := range f.Trees {
		if err := t.predictInto(out, X, scale); err != nil {
			return nil, err
		}
	}
	return out, nil
}
