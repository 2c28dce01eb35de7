package regressor

import (
	"context"
	"fmt"

	"github.com/opst/mlserve/pkg/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// singular values below rcond * (the largest one) are treated as zero.
const rcond = 1e-12

// Linear is ordinary least squares.
//
// Collinear features are allowed: the minimum norm solution is taken.
type Linear struct {
	FitIntercept bool      `json:"fit_intercept"`
	Coef         []float64 `json:"coef"`
	Intercept    float64   `json:"intercept"`
}

var _ Regressor = &Linear{}

func (*Linear) Family() domain.ModelFamily {
	return domain.LinearRegressionFamily
}

func (l *Linear) Fit(ctx context.Context, X mat.Matrix, y []float64) error {
	if err := checkFitInput(X, y); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r, c := X.Dims()
	x := mat.DenseCopyOf(X)
	yc := append([]float64(nil), y...)

	xmean := make([]float64, c)
	ymean := 0.0
	if l.FitIntercept {
		col := make([]float64, r)
		for j := range c {
			mat.Col(col, j, x)
			xmean[j] = stat.Mean(col, nil)
			for i := range r {
				x.Set(i, j, col[i]-xmean[j])
			}
		}
		ymean = stat.Mean(y, nil)
		for i := range yc {
			yc[i] -= ymean
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return fmt.Errorf("linear regression: SVD factorization failed")
	}

	coef := make([]float64, c)
	if rank := svd.Rank(rcond); rank > 0 {
		var sol mat.Dense
		svd.SolveTo(&sol, mat.NewDense(r, 1, yc), rank)
		mat.Col(coef, 0, &sol)
	}

	intercept := 0.0
	if l.FitIntercept {
		intercept = ymean - mat.Dot(mat.NewVecDense(c, xmean), mat.NewVecDense(c, coef))
	}

	l.Coef = coef
	l.Intercept = intercept
	return nil
}

func (l *Linear) Predict(X mat.Matrix) ([]float64, error) {
	if l.Coef == nil {
		return nil, ErrNotFitted
	}
	r, c := X.Dims()
	if c != len(l.Coef) {
		return nil, fmt.Errorf("%w: fitted with %d features, but got %d", ErrDimension, len(l.Coef), c)
	}
	if r == 0 {
		return []float64{}, nil
	}

	var out mat.VecDense
	out.MulVec(X, mat.NewVecDense(c, l.Coef))
	pred := make([]float64, r)
	for i := range pred {
		pred[i] = out.AtVec(i) + l.Intercept
	}
	return pred, nil
}
