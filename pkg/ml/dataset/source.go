package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"

	domerr "github.com/opst/mlserve/pkg/domain/errors"
)

type csvSource struct {
	path   string
	target string
}

// CSV reads a table from a CSV file with a header row.
//
// All columns other than `target` are features, in the header order.
func CSV(path string, target string) Source {
	return csvSource{path: path, target: target}
}

func (c csvSource) Load(ctx context.Context) (Table, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, fmt.Errorf("%s: %w", c.path, errEmpty)
	} else if err != nil {
		return Table{}, fmt.Errorf("%s: %w", c.path, err)
	}

	targetCol := slices.Index(header, c.target)
	if targetCol < 0 {
		return Table{}, fmt.Errorf("%w: %s: no target column %q", domerr.ErrSchemaMismatch, c.path, c.target)
	}
	t := Table{}
	for i, h := range header {
		if i != targetCol {
			t.Names = append(t.Names, h)
		}
	}

	for line := 2; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return Table{}, err
			}
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return Table{}, fmt.Errorf("%s: %w", c.path, err)
		}

		row := make([]float64, 0, len(t.Names))
		var target float64
		for i, cell := range rec {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return Table{}, fmt.Errorf("%s:%d: column %s: %w", c.path, line, header[i], err)
			}
			if i == targetCol {
				target = v
			} else {
				row = append(row, v)
			}
		}
		t.Rows = append(t.Rows, row)
		t.Targets = append(t.Targets, target)
	}

	if t.Len() == 0 {
		return Table{}, fmt.Errorf("%s: %w", c.path, errEmpty)
	}
	return t, nil
}

type syntheticSource struct {
	seed uint64
	size int
}

// Synthetic generates a housing-like table with the California housing features.
//
// The same seed and size always yield the same table.
func Synthetic(seed uint64, size int) Source {
	return syntheticSource{seed: seed, size: size}
}

func (s syntheticSource) Load(context.Context) (Table, error) {
	if s.size < 1 {
		return Table{}, errEmpty
	}
	rng := rand.New(rand.NewPCG(s.seed, 0x5eed))
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	t := Table{
		Names:   slices.Clone(CaliforniaFeatures),
		Rows:    make([][]float64, 0, s.size),
		Targets: make([]float64, 0, s.size),
	}
	for range s.size {
		medInc := math.Max(0.5, 3.8+1.9*rng.NormFloat64())
		houseAge := math.Round(uniform(1, 52))
		aveRooms := math.Max(1, 5.4+1.2*rng.NormFloat64())
		aveBedrms := math.Max(0.5, aveRooms*uniform(0.17, 0.23))
		population := math.Round(math.Max(3, 1400+800*rng.NormFloat64()))
		aveOccup := math.Max(1, 3+0.8*rng.NormFloat64())
		latitude := uniform(32.5, 42)
		longitude := uniform(-124.3, -114.3)

		// coastal, southern and wealthy blocks are expensive.
		coast := math.Exp(-math.Abs(longitude+122) / 2)
		value := 0.45*medInc + 0.01*houseAge + 0.1*(aveRooms-aveBedrms) -
			0.05*aveOccup + 1.2*coast - 0.05*(latitude-34) + 0.15*rng.NormFloat64()
		value = math.Min(5.00001, math.Max(0.14999, value))

		t.Rows = append(t.Rows, []float64{
			medInc, houseAge, aveRooms, aveBedrms, population, aveOccup, latitude, longitude,
		})
		t.Targets = append(t.Targets, value)
	}
	return t, nil
}
