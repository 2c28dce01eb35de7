// Package pipeline builds, fits and evaluates regression pipelines.
//
// A pipeline is an ordered list of preprocessing stages followed by a regressor,
// as declared in a domain.TrainingConfig.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"github.com/opst/mlserve/pkg/ml/regressor"
	"gonum.org/v1/gonum/mat"
)

// Model predicts a target for each row of X.
type Model interface {
	Predict(X mat.Matrix) ([]float64, error)
}

// FeatureNamer is implemented by models which know the names of their input columns.
type FeatureNamer interface {
	FeatureNames() []string
}

type Pipeline struct {
	features  []string
	stages    []transformer
	regressor regressor.Regressor
	fitted    bool
}

var _ Model = &Pipeline{}
var _ FeatureNamer = &Pipeline{}

// Build creates an unfitted pipeline from the config.
//
// # Returns
//
// - error: wraps ErrUnsupportedModel for an unknown estimator or stage.
// Errors of constructing the regressor are returned as they are.
func Build(cfg domain.TrainingConfig) (*Pipeline, error) {
	stages := make([]transformer, 0, len(cfg.Preprocessing))
	for _, st := range cfg.Preprocessing {
		switch s := st.(type) {
		case domain.Standardize:
			stages = append(stages, &StandardScaler{})
		case domain.Reduce:
			if s.Components < 1 {
				return nil, fmt.Errorf("%w: pca components should be positive", domerr.ErrInvalidConfig)
			}
			stages = append(stages, &PCA{Components: s.Components})
		default:
			return nil, fmt.Errorf("%w: preprocessing stage %T", domerr.ErrUnsupportedModel, st)
		}
	}

	reg, err := regressor.New(cfg.Model)
	if err != nil {
		return nil, err
	}
	return &Pipeline{stages: stages, regressor: reg}, nil
}

// Fit all stages and the regressor, in order.
//
// # Args
//
// - ctx: cancels fitting the regressor.
//
// - features: names of columns of X.
//
// - X, y: training rows and targets.
func (p *Pipeline) Fit(ctx context.Context, features []string, X mat.Matrix, y []float64) error {
	if _, c := X.Dims(); c != len(features) {
		return fmt.Errorf("%w: %d feature names for %d columns", regressor.ErrDimension, len(features), c)
	}

	var cur mat.Matrix = X
	for _, st := range p.stages {
		if err := st.fit(cur); err != nil {
			return err
		}
		next, err := st.transform(cur)
		if err != nil {
			return err
		}
		cur = next
	}
	if err := p.regressor.Fit(ctx, cur, y); err != nil {
		return err
	}
	p.features = append([]string(nil), features...)
	p.fitted = true
	return nil
}

func (p *Pipeline) Predict(X mat.Matrix) ([]float64, error) {
	if !p.fitted {
		return nil, regressor.ErrNotFitted
	}
	r, c := X.Dims()
	if c != len(p.features) {
		return nil, fmt.Errorf("%w: fitted with %d features, but got %d", regressor.ErrDimension, len(p.features), c)
	}
	if r == 0 {
		return []float64{}, nil
	}

	var cur mat.Matrix = X
	for _, st := range p.stages {
		next, err := st.transform(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return p.regressor.Predict(cur)
}

func (p *Pipeline) FeatureNames() []string {
	return append([]string(nil), p.features...)
}

func (p *Pipeline) Family() domain.ModelFamily {
	return p.regressor.Family()
}

// PredictOne predicts the target for a sample.
//
// When the model knows its feature names, the sample must have them in the same order.
//
// # Returns
//
// - error: wraps ErrSchemaMismatch when names of the sample differ.
func PredictOne(m Model, sample domain.Features) (float64, error) {
	if named, ok := m.(FeatureNamer); ok {
		if names := named.FeatureNames(); !sample.Conforms(names) {
			return 0, fmt.Errorf(
				"%w: expected features %v, but got %v", domerr.ErrSchemaMismatch, names, sample.Names(),
			)
		}
	}
	if len(sample) == 0 {
		return 0, fmt.Errorf("%w: no features", domerr.ErrSchemaMismatch)
	}
	pred, err := m.Predict(mat.NewDense(1, len(sample), sample.Values()))
	if err != nil {
		return 0, err
	}
	return pred[0], nil
}

// Evaluate returns the root mean squared error of the model on (X, y).
func Evaluate(m Model, X mat.Matrix, y []float64) (float64, error) {
	if len(y) == 0 {
		return 0, errors.New("evaluate: no test data")
	}
	pred, err := m.Predict(X)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(y) {
		return 0, fmt.Errorf("%w: %d predictions for %d targets", regressor.ErrDimension, len(pred), len(y))
	}
	sum := 0.0
	for i := range y {
		d := pred[i] - y[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(y))), nil
}

type stageMarshall struct {
	Scaler *StandardScaler `json:"scaler,omitempty"`
	PCA    *PCA            `json:"pca,omitempty"`
}

type pipelineMarshall struct {
	Features  []string        `json:"features"`
	Stages    []stageMarshall `json:"stages"`
	Regressor json.RawMessage `json:"regressor"`
}

func (p *Pipeline) MarshalJSON() ([]byte, error) {
	if !p.fitted {
		return nil, regressor.ErrNotFitted
	}
	reg, err := regressor.Marshal(p.regressor)
	if err != nil {
		return nil, err
	}
	m := pipelineMarshall{Features: p.features, Regressor: reg}
	for _, st := range p.stages {
		switch s := st.(type) {
		case *StandardScaler:
			m.Stages = append(m.Stages, stageMarshall{Scaler: s})
		case *PCA:
			m.Stages = append(m.Stages, stageMarshall{PCA: s})
		}
	}
	return json.Marshal(m)
}

func (p *Pipeline) UnmarshalJSON(b []byte) error {
	m := pipelineMarshall{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if len(m.Features) == 0 {
		return errors.New("pipeline: no features")
	}

	stages := make([]transformer, 0, len(m.Stages))
	for _, s := range m.Stages {
		switch {
		case s.Scaler != nil:
			stages = append(stages, s.Scaler)
		case s.PCA != nil:
			stages = append(stages, s.PCA)
		default:
			return errors.New("pipeline: empty stage")
		}
	}

	reg, err := regressor.Unmarshal(m.Regressor)
	if err != nil {
		return err
	}

	*p = Pipeline{features: m.Features, stages: stages, regressor: reg, fitted: true}
	return nil
}
