package regressor_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"github.com/opst/mlserve/pkg/ml/regressor"
	"gonum.org/v1/gonum/mat"
)

// dataset returns rows of (x0, x1) and targets f(x0, x1).
func dataset(n int, seed uint64, f func(x0, x1 float64) float64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := range n {
		x0, x1 := rng.Float64()*10, rng.Float64()*10
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		y[i] = f(x0, x1)
	}
	return X, y
}

func rmse(t *testing.T, r regressor.Regressor, X mat.Matrix, y []float64) float64 {
	t.Helper()
	pred, err := r.Predict(X)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	s := 0.0
	for i := range y {
		d := pred[i] - y[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(y)))
}

func step(x0, x1 float64) float64 {
	if x0 < 5 {
		return 1
	}
	return 4
}

func TestLinear(t *testing.T) {
	ctx := context.Background()

	t.Run("it recovers a linear relation", func(t *testing.T) {
		X, y := dataset(50, 1, func(x0, x1 float64) float64 { return 2*x0 - 3*x1 + 1 })
		testee, err := regressor.New(domain.DefaultLinearRegression())
		if err != nil {
			t.Fatal(err)
		}
		if err := testee.Fit(ctx, X, y); err != nil {
			t.Fatal(err)
		}

		lin := testee.(*regressor.Linear)
		for i, expected := range []float64{2, -3} {
			if math.Abs(lin.Coef[i]-expected) > 1e-9 {
				t.Errorf("coef[%d] = %f, expected %f", i, lin.Coef[i], expected)
			}
		}
		if math.Abs(lin.Intercept-1) > 1e-9 {
			t.Errorf("intercept = %f, expected 1", lin.Intercept)
		}
	})

	t.Run("without intercept, it passes through the origin", func(t *testing.T) {
		X, y := dataset(30, 2, func(x0, x1 float64) float64 { return x0 + x1 })
		testee, _ := regressor.New(domain.LinearRegression{FitIntercept: false})
		if err := testee.Fit(ctx, X, y); err != nil {
			t.Fatal(err)
		}
		if lin := testee.(*regressor.Linear); lin.Intercept != 0 {
			t.Errorf("intercept = %f", lin.Intercept)
		}
		if e := rmse(t, testee, X, y); e > 1e-9 {
			t.Errorf("rmse = %f", e)
		}
	})

	t.Run("collinear features do not break fitting", func(t *testing.T) {
		X := mat.NewDense(4, 2, []float64{
			1, 2,
			2, 4,
			3, 6,
			4, 8,
		})
		y := []float64{3, 5, 7, 9}
		testee, _ := regressor.New(domain.DefaultLinearRegression())
		if err := testee.Fit(ctx, X, y); err != nil {
			t.Fatal(err)
		}
		if e := rmse(t, testee, X, y); e > 1e-9 {
			t.Errorf("rmse = %f", e)
		}
	})
}

func TestForest(t *testing.T) {
	ctx := context.Background()
	X, y := dataset(200, 3, step)

	params := domain.DefaultRandomForest()
	params.NEstimators = 16
	params.RandomState = 42

	fit := func(t *testing.T, jobs int) *regressor.Forest {
		t.Helper()
		p := params
		p.NJobs = jobs
		r, err := regressor.New(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Fit(ctx, X, y); err != nil {
			t.Fatal(err)
		}
		return r.(*regressor.Forest)
	}

	serial := fit(t, 1)
	parallel := fit(t, 4)

	t.Run("it learns a step function", func(t *testing.T) {
		if e := rmse(t, serial, X, y); e > 0.3 {
			t.Errorf("rmse too large: %f", e)
		}
	})

	t.Run("the number of workers does not change the forest", func(t *testing.T) {
		if !reflect.DeepEqual(serial.Trees, parallel.Trees) {
			t.Errorf("forests differ")
		}
	})

	t.Run("cancelled context stops fitting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		r, _ := regressor.New(params)
		if err := r.Fit(cctx, X, y); !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestBoosting(t *testing.T) {
	ctx := context.Background()
	X, y := dataset(200, 4, step)

	few := domain.DefaultGradientBoosting()
	few.NEstimators = 2
	many := domain.DefaultGradientBoosting()
	many.NEstimators = 50

	rFew, _ := regressor.New(few)
	rMany, _ := regressor.New(many)
	if err := rFew.Fit(ctx, X, y); err != nil {
		t.Fatal(err)
	}
	if err := rMany.Fit(ctx, X, y); err != nil {
		t.Fatal(err)
	}

	eFew, eMany := rmse(t, rFew, X, y), rmse(t, rMany, X, y)
	if !(eMany < eFew) {
		t.Errorf("more stages should fit better: %d stages = %f, %d stages = %f", few.NEstimators, eFew, many.NEstimators, eMany)
	}
	if eMany > 0.1 {
		t.Errorf("rmse too large: %f", eMany)
	}

	t.Run("subsampling is reproducible", func(t *testing.T) {
		p := many
		p.Subsample = 0.5
		p.RandomState = 7
		a, _ := regressor.New(p)
		b, _ := regressor.New(p)
		if err := a.Fit(ctx, X, y); err != nil {
			t.Fatal(err)
		}
		if err := b.Fit(ctx, X, y); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Errorf("models differ")
		}
	})
}

func TestNew_InvalidHyperparameters(t *testing.T) {
	for name, est := range map[string]domain.Estimator{
		"random forest without trees": func() domain.Estimator {
			p := domain.DefaultRandomForest()
			p.NEstimators = 0
			return p
		}(),
		"random forest with max_features over 1": func() domain.Estimator {
			p := domain.DefaultRandomForest()
			p.MaxFeatures = 1.5
			return p
		}(),
		"gradient boosting with zero learning rate": func() domain.Estimator {
			p := domain.DefaultGradientBoosting()
			p.LearningRate = 0
			return p
		}(),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := regressor.New(est); !errors.Is(err, domerr.ErrInvalidConfig) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	t.Run("nil estimator is unsupported", func(t *testing.T) {
		if _, err := regressor.New(nil); !errors.Is(err, domerr.ErrUnsupportedModel) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestPredict_Errors(t *testing.T) {
	ctx := context.Background()
	for _, est := range []domain.Estimator{
		domain.DefaultLinearRegression(), domain.DefaultRandomForest(), domain.DefaultGradientBoosting(),
	} {
		t.Run(est.Family().String(), func(t *testing.T) {
			r, err := regressor.New(est)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := r.Predict(mat.NewDense(1, 2, nil)); !errors.Is(err, regressor.ErrNotFitted) {
				t.Errorf("before fit: unexpected error: %v", err)
			}

			X, y := dataset(20, 5, step)
			if err := r.Fit(ctx, X, y); err != nil {
				t.Fatal(err)
			}
			if _, err := r.Predict(mat.NewDense(1, 3, nil)); !errors.Is(err, regressor.ErrDimension) {
				t.Errorf("wrong width: unexpected error: %v", err)
			}
			if err := r.Fit(ctx, X, y[:10]); !errors.Is(err, regressor.ErrDimension) {
				t.Errorf("wrong targets: unexpected error: %v", err)
			}
		})
	}
}

func TestMarshal(t *testing.T) {
	ctx := context.Background()
	X, y := dataset(60, 6, step)

	p := domain.DefaultRandomForest()
	p.NEstimators = 5
	r, _ := regressor.New(p)
	if err := r.Fit(ctx, X, y); err != nil {
		t.Fatal(err)
	}

	b, err := regressor.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := regressor.Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}

	expected, _ := r.Predict(X)
	actual, err := restored.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("restored model predicts differently")
	}

	if _, err := regressor.Unmarshal([]byte(`{"family":"svm","model":{}}`)); !errors.Is(err, domerr.ErrUnsupportedModel) {
		t.Errorf("unexpected error: %v", err)
	}
}
