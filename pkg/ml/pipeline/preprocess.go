package pipeline

import (
	"fmt"
	"math"

	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type transformer interface {
	fit(X mat.Matrix) error
	transform(X mat.Matrix) (*mat.Dense, error)
}

// StandardScaler scales each feature to zero mean and unit variance.
//
// A constant feature is only centered.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

var _ transformer = &StandardScaler{}

func (s *StandardScaler) fit(X mat.Matrix) error {
	r, c := X.Dims()
	mean := make([]float64, c)
	scale := make([]float64, c)
	col := make([]float64, r)
	for j := range c {
		mat.Col(col, j, X)
		m := stat.Mean(col, nil)
		sd := math.Sqrt(stat.MomentAbout(2, col, m, nil))
		if sd == 0 {
			sd = 1
		}
		mean[j], scale[j] = m, sd
	}
	s.Mean, s.Scale = mean, scale
	return nil
}

func (s *StandardScaler) transform(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, fmt.Errorf("scaler: fitted with %d features, but got %d", len(s.Mean), c)
	}
	out := mat.DenseCopyOf(X)
	for i := range r {
		for j := range c {
			out.Set(i, j, (out.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return out, nil
}

// PCA projects centered features onto their first principal components.
type PCA struct {
	Components int       `json:"components"`
	Mean       []float64 `json:"mean"`

	// projection matrix in row-major order, (number of features) x Components.
	Projection []float64 `json:"projection"`
}

var _ transformer = &PCA{}

func (p *PCA) fit(X mat.Matrix) error {
	r, c := X.Dims()
	if p.Components < 1 || min(r, c) < p.Components {
		return fmt.Errorf(
			"%w: pca: %d components requested, but data has %d rows and %d features",
			domerr.ErrInvalidConfig, p.Components, r, c,
		)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(X, nil); !ok {
		return fmt.Errorf("pca: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	mean := make([]float64, c)
	col := make([]float64, r)
	for j := range c {
		mat.Col(col, j, X)
		mean[j] = stat.Mean(col, nil)
	}

	proj := make([]float64, 0, c*p.Components)
	for i := range c {
		for k := range p.Components {
			proj = append(proj, vecs.At(i, k))
		}
	}

	p.Mean = mean
	p.Projection = proj
	return nil
}

func (p *PCA) transform(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != len(p.Mean) {
		return nil, fmt.Errorf("pca: fitted with %d features, but got %d", len(p.Mean), c)
	}
	centered := mat.DenseCopyOf(X)
	for i := range r {
		for j := range c {
			centered.Set(i, j, centered.At(i, j)-p.Mean[j])
		}
	}
	out := mat.NewDense(r, p.Components, nil)
	out.Mul(centered, mat.NewDense(c, p.Components, p.Projection))
	return out, nil
}
