// Package regressor implements the model families a training config can name.
//
// Each regressor is a plain struct which can be marshalled as JSON once fitted.
package regressor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/go-playground/validator/v10"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNotFitted is returned when Predict is called before Fit.
var ErrNotFitted = errors.New("regressor is not fitted")

// ErrDimension is returned when the number of features differs from the one on Fit.
var ErrDimension = errors.New("dimension mismatch")

type Regressor interface {
	Family() domain.ModelFamily

	// Fit the regressor to rows of X and targets y.
	//
	// Fit can be cancelled via ctx.
	Fit(ctx context.Context, X mat.Matrix, y []float64) error

	// Predict targets for each row of X.
	Predict(X mat.Matrix) ([]float64, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New creates an unfitted Regressor for the estimator.
//
// # Returns
//
// - error: wraps ErrInvalidConfig if hyperparameters are out of range,
// or ErrUnsupportedModel for an unknown estimator.
func New(est domain.Estimator) (Regressor, error) {
	if est == nil {
		return nil, fmt.Errorf("%w: no estimator", domerr.ErrUnsupportedModel)
	}
	if err := validate.Struct(est); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domerr.ErrInvalidConfig, est.Family(), err)
	}

	switch e := est.(type) {
	case domain.LinearRegression:
		return &Linear{FitIntercept: e.FitIntercept}, nil
	case domain.RandomForest:
		return newForest(e), nil
	case domain.GradientBoosting:
		return newBoosting(e), nil
	}
	return nil, fmt.Errorf("%w: %s", domerr.ErrUnsupportedModel, est.Family())
}

type envelope struct {
	Family domain.ModelFamily `json:"family"`
	Model  json.RawMessage    `json:"model"`
}

// Marshal a regressor with its family.
func Marshal(r Regressor) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Family: r.Family(), Model: body})
}

// Unmarshal a regressor written by Marshal.
func Unmarshal(b []byte) (Regressor, error) {
	env := envelope{}
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}

	var r Regressor
	switch env.Family {
	case domain.LinearRegressionFamily:
		r = &Linear{}
	case domain.RandomForestFamily:
		r = &Forest{}
	case domain.GradientBoostingFamily:
		r = &Boosting{}
	default:
		return nil, fmt.Errorf("%w: %q", domerr.ErrUnsupportedModel, env.Family)
	}
	if err := json.Unmarshal(env.Model, r); err != nil {
		return nil, err
	}
	return r, nil
}

// columns copies X in column-major order.
func columns(X mat.Matrix) [][]float64 {
	r, c := X.Dims()
	cols := make([][]float64, c)
	for j := range cols {
		col := make([]float64, r)
		mat.Col(col, j, X)
		cols[j] = col
	}
	return cols
}

func checkFitInput(X mat.Matrix, y []float64) error {
	r, c := X.Dims()
	if r != len(y) {
		return fmt.Errorf("%w: %d rows but %d targets", ErrDimension, r, len(y))
	}
	if r == 0 || c == 0 {
		return fmt.Errorf("%w: empty training data", ErrDimension)
	}
	return nil
}

func jobs(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
