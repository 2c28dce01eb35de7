// Package training reads training config documents.
//
// A document looks like:
//
//	model:
//	  type: random_forest     # linear_regression | random_forest | gradient_boosting
//	  params:
//	    n_estimators: 100
//	    max_depth: 10
//	preprocessing:
//	  with_standard_scaler: true
//	  with_pca: false
//	  pca_components: 5
//
// Params are decoded into the typed hyperparameters of the model family.
// Unknown params are rejected. Ranges of params are checked when a pipeline is built.
package training

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"gopkg.in/yaml.v3"
)

// default number of principal components when `with_pca` is set without `pca_components`.
const DefaultPCAComponents = 5

type documentMarshall struct {
	Model *struct {
		Type   string    `yaml:"type"`
		Params yaml.Node `yaml:"params"`
	} `yaml:"model"`
	Preprocessing struct {
		WithStandardScaler bool `yaml:"with_standard_scaler"`
		WithPCA            bool `yaml:"with_pca"`
		PCAComponents      *int `yaml:"pca_components"`
	} `yaml:"preprocessing"`
}

// Source provides the active training config.
//
// It is called on every retraining cycle, so changes of the config take effect on the next cycle.
type Source func(context.Context) (domain.TrainingConfig, error)

// FileSource reads the config from `path` on each call.
func FileSource(path string) Source {
	return func(context.Context) (domain.TrainingConfig, error) {
		return Load(path)
	}
}

// Load reads a training config document from file.
func Load(path string) (domain.TrainingConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.TrainingConfig{}, err
	}
	return Unmarshal(content)
}

// Unmarshal parses a training config document.
//
// # Returns
//
// - domain.TrainingConfig: parsed config. Its Document is `doc` itself.
//
// - error: wraps ErrInvalidConfig when doc is empty or malformed,
// or ErrUnsupportedModel when model type is missing or unknown.
func Unmarshal(doc []byte) (domain.TrainingConfig, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return domain.TrainingConfig{}, fmt.Errorf("%w: empty training config", domerr.ErrInvalidConfig)
	}

	m := documentMarshall{}
	if err := yaml.Unmarshal(doc, &m); err != nil {
		return domain.TrainingConfig{}, fmt.Errorf("%w: %w", domerr.ErrInvalidConfig, err)
	}
	if m.Model == nil {
		return domain.TrainingConfig{}, fmt.Errorf("%w: .model is required", domerr.ErrUnsupportedModel)
	}

	est, err := estimator(strings.ToLower(m.Model.Type), &m.Model.Params)
	if err != nil {
		return domain.TrainingConfig{}, err
	}

	stages := []domain.Stage{}
	if m.Preprocessing.WithStandardScaler {
		stages = append(stages, domain.Standardize{})
	}
	if m.Preprocessing.WithPCA {
		n := DefaultPCAComponents
		if m.Preprocessing.PCAComponents != nil {
			n = *m.Preprocessing.PCAComponents
		}
		if n < 1 {
			return domain.TrainingConfig{}, fmt.Errorf(
				"%w: .preprocessing.pca_components should be positive, but %d", domerr.ErrInvalidConfig, n,
			)
		}
		stages = append(stages, domain.Reduce{Components: n})
	}

	params, err := flatten(doc)
	if err != nil {
		return domain.TrainingConfig{}, err
	}

	return domain.TrainingConfig{
		Model:         est,
		Preprocessing: stages,
		Document:      bytes.Clone(doc),
		Params:        params,
	}, nil
}

func estimator(typ string, params *yaml.Node) (domain.Estimator, error) {
	switch domain.ModelFamily(typ) {
	case domain.LinearRegressionFamily:
		p := domain.DefaultLinearRegression()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return p, nil
	case domain.RandomForestFamily:
		p := domain.DefaultRandomForest()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return p, nil
	case domain.GradientBoostingFamily:
		p := domain.DefaultGradientBoosting()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", domerr.ErrUnsupportedModel, typ)
}

// decodeParams overwrites fields of `out` with values in node.
func decodeParams(node *yaml.Node, out any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: .model.params should be a mapping", domerr.ErrInvalidConfig)
	}

	// yaml.Node.Decode cannot reject unknown fields, so take a roundtrip via Decoder.
	raw, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: %w", domerr.ErrInvalidConfig, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: .model.params: %w", domerr.ErrInvalidConfig, err)
	}
	return nil
}

// flatten the document into `.path.to.key -> value`.
func flatten(doc []byte) (map[string]string, error) {
	tree := map[string]any{}
	if err := yaml.Unmarshal(doc, &tree); err != nil {
		return nil, fmt.Errorf("%w: %w", domerr.ErrInvalidConfig, err)
	}

	out := map[string]string{}
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch vv := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(vv))
			for k := range vv {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(prefix+"."+k, vv[k])
			}
		default:
			out[prefix] = fmt.Sprint(vv)
		}
	}
	walk("", tree)
	return out, nil
}
