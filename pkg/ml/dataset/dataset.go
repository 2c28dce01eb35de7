// Package dataset loads the base dataset and assembles training data with feedback.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"gonum.org/v1/gonum/mat"
)

// names of features of the California housing dataset, in column order.
var CaliforniaFeatures = []string{
	"MedInc", "HouseAge", "AveRooms", "AveBedrms",
	"Population", "AveOccup", "Latitude", "Longitude",
}

// CaliforniaTarget is the target column of the California housing dataset.
const CaliforniaTarget = "MedHouseVal"

const (
	DefaultSeed         uint64  = 42
	DefaultTestFraction float64 = 0.2

	// rows of the synthetic base dataset.
	DefaultSyntheticSize = 2000
)

// Table is a set of labelled samples sharing feature names.
type Table struct {
	Names   []string
	Rows    [][]float64
	Targets []float64
}

func (t Table) Len() int {
	return len(t.Rows)
}

// Matrix returns rows as a matrix. It panics if the table is empty.
func (t Table) Matrix() *mat.Dense {
	m := mat.NewDense(len(t.Rows), len(t.Names), nil)
	for i, r := range t.Rows {
		m.SetRow(i, r)
	}
	return m
}

// Sample returns i-th row as named features.
func (t Table) Sample(i int) domain.Features {
	return domain.Zip(t.Names, t.Rows[i])
}

func (t Table) clone() Table {
	return Table{
		Names:   slices.Clone(t.Names),
		Rows:    slices.Clone(t.Rows),
		Targets: slices.Clone(t.Targets),
	}
}

// Source provides the base dataset.
//
// Implementations should return the same table on every call.
type Source interface {
	Load(ctx context.Context) (Table, error)
}

// Split is a train/test partition.
type Split struct {
	Train Table
	Test  Table
}

// Partition shuffles base deterministically by seed, and takes ceil(n * testFraction) rows as test.
func Partition(base Table, seed uint64, testFraction float64) (Split, error) {
	n := base.Len()
	if !(0 < testFraction && testFraction < 1) {
		return Split{}, fmt.Errorf("%w: test fraction should be in (0, 1), but %v", domerr.ErrInvalidConfig, testFraction)
	}
	if len(base.Targets) != n {
		return Split{}, fmt.Errorf("%w: %d rows but %d targets", domerr.ErrSchemaMismatch, n, len(base.Targets))
	}
	nTest := int(math.Ceil(float64(n) * testFraction))
	if n-nTest < 1 || nTest < 1 {
		return Split{}, fmt.Errorf("dataset is too small to split: %d rows", n)
	}

	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	pick := func(idx []int) Table {
		t := Table{
			Names:   slices.Clone(base.Names),
			Rows:    make([][]float64, 0, len(idx)),
			Targets: make([]float64, 0, len(idx)),
		}
		for _, i := range idx {
			t.Rows = append(t.Rows, base.Rows[i])
			t.Targets = append(t.Targets, base.Targets[i])
		}
		return t
	}
	return Split{Test: pick(perm[:nTest]), Train: pick(perm[nTest:])}, nil
}

// Assembler builds train/test splits from a base source and feedback.
type Assembler struct {
	source       Source
	seed         uint64
	testFraction float64

	mu   sync.Mutex
	base *Split
}

func NewAssembler(source Source, seed uint64, testFraction float64) *Assembler {
	return &Assembler{source: source, seed: seed, testFraction: testFraction}
}

func (a *Assembler) split(ctx context.Context) (Split, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.base != nil {
		return *a.base, nil
	}
	base, err := a.source.Load(ctx)
	if err != nil {
		return Split{}, err
	}
	s, err := Partition(base, a.seed, a.testFraction)
	if err != nil {
		return Split{}, err
	}
	a.base = &s
	return s, nil
}

// Assemble returns the base split with the examples appended to the train partition.
//
// The test partition does not depend on examples.
//
// # Returns
//
// - error: wraps ErrSchemaMismatch when an example has features other than the base's.
// Feature order of examples does not matter.
func (a *Assembler) Assemble(ctx context.Context, examples []domain.FeedbackExample) (Split, error) {
	s, err := a.split(ctx)
	if err != nil {
		return Split{}, err
	}

	train := s.Train.clone()
	for _, ex := range examples {
		input, ok := ex.Input.Reorder(train.Names)
		if !ok {
			return Split{}, fmt.Errorf(
				"%w: feedback %d (prediction %d) has features %v, but dataset has %v",
				domerr.ErrSchemaMismatch, ex.Record.Id, ex.Record.PredictionId, ex.Input.Names(), train.Names,
			)
		}
		train.Rows = append(train.Rows, input.Values())
		train.Targets = append(train.Targets, ex.Target)
	}
	return Split{Train: train, Test: s.Test}, nil
}

// Base returns the base split, without any feedback.
func (a *Assembler) Base(ctx context.Context) (Split, error) {
	return a.split(ctx)
}

var errEmpty = errors.New("dataset is empty")
