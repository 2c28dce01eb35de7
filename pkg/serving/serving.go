// Package serving predicts with the model which an alias points, and logs predictions.
package serving

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	kpred "github.com/opst/mlserve/pkg/domain/prediction/db"
	"github.com/opst/mlserve/pkg/domain/registry"
	xe "github.com/opst/mlserve/pkg/errors"
	"github.com/opst/mlserve/pkg/ml/pipeline"
)

const UserNotes = "Prediction request"

// Prediction is a served prediction.
type Prediction struct {
	Record domain.PredictionRecord

	// {type, params, preprocessing} of the model.
	Metadata map[string]any
}

type loaded struct {
	version  domain.ModelVersion
	model    pipeline.Model
	metadata map[string]any
}

type Predictor struct {
	name  string
	alias string

	registry    registry.Interface
	predictions kpred.Interface
	logger      *log.Logger
	onServe     func(domain.ModelVersion)

	group singleflight.Group
	mu    sync.Mutex
	cache map[int]*loaded // by version
}

type Option func(*Predictor)

func WithLogger(l *log.Logger) Option {
	return func(p *Predictor) { p.logger = l }
}

// OnServe sets a function called with the version used for each prediction.
func OnServe(f func(domain.ModelVersion)) Option {
	return func(p *Predictor) { p.onServe = f }
}

func New(name string, alias string, reg registry.Interface, predictions kpred.Interface, options ...Option) *Predictor {
	p := &Predictor{
		name:        name,
		alias:       alias,
		registry:    reg,
		predictions: predictions,
		logger:      log.Default(),
		onServe:     func(domain.ModelVersion) {},
		cache:       map[int]*loaded{},
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Predict predicts the target of the sample with the current model, and records it.
//
// The alias is resolved on each call. Loaded models are cached per version.
//
// # Returns
//
// - Prediction: recorded prediction, with Id assigned.
//
// - error: wraps ErrNotFound when no version is bound to the alias,
// ErrSchemaMismatch when the sample does not have features which the model expects.
func (p *Predictor) Predict(ctx context.Context, sample domain.Features) (Prediction, error) {
	l, err := p.load(ctx)
	if err != nil {
		return Prediction{}, err
	}

	ordered, err := conform(l.model, sample)
	if err != nil {
		return Prediction{}, err
	}
	value, err := pipeline.PredictOne(l.model, ordered)
	if err != nil {
		return Prediction{}, err
	}

	rec, err := p.predictions.Record(ctx, domain.PredictionRecord{
		Input:         ordered,
		Prediction:    value,
		ModelName:     p.name,
		ModelVersion:  strconv.Itoa(l.version.Version),
		RunId:         l.version.RunId,
		UserNotes:     UserNotes,
		ExtraMetadata: extraMetadata(l.metadata),
	})
	if err != nil {
		return Prediction{}, err
	}
	p.onServe(l.version)
	return Prediction{Record: rec, Metadata: l.metadata}, nil
}

// ModelInfo describes the version which the alias points.
func (p *Predictor) ModelInfo(ctx context.Context) (domain.ModelInfo, error) {
	mv, err := p.registry.Resolve(ctx, p.name, p.alias)
	if err != nil {
		return domain.ModelInfo{}, err
	}
	return p.registry.Describe(ctx, mv)
}

func (p *Predictor) load(ctx context.Context) (*loaded, error) {
	mv, err := p.registry.Resolve(ctx, p.name, p.alias)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	l, ok := p.cache[mv.Version]
	p.mu.Unlock()
	if ok {
		return l, nil
	}

	v, err, _ := p.group.Do(strconv.Itoa(mv.Version), func() (any, error) {
		info, err := p.registry.Describe(ctx, mv)
		if err != nil {
			return nil, err
		}
		model, err := p.registry.LoadPipeline(ctx, mv)
		if err != nil {
			return nil, err
		}
		l := &loaded{version: mv, model: model, metadata: Metadata(info.Config)}

		p.mu.Lock()
		defer p.mu.Unlock()
		// versions are immutable. Older ones are not served again unless the alias goes back.
		for v := range p.cache {
			if v != mv.Version {
				delete(p.cache, v)
			}
		}
		p.cache[mv.Version] = l
		p.logger.Printf("serving %s version %d (run %s) as %s", mv.Name, mv.Version, mv.RunId, p.alias)
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*loaded), nil
}

// conform reorders sample in the order which the model expects.
func conform(m pipeline.Model, sample domain.Features) (domain.Features, error) {
	named, ok := m.(pipeline.FeatureNamer)
	if !ok {
		return sample, nil
	}
	names := named.FeatureNames()
	ordered, ok := sample.Reorder(names)
	if !ok {
		return nil, fmt.Errorf("%w: expected features %v, but got %v", domerr.ErrSchemaMismatch, names, sample.Names())
	}
	return ordered, nil
}

// Metadata summarizes a training config as {type, params, preprocessing}.
//
// When cfg is nil, type is "unknown".
func Metadata(cfg *domain.TrainingConfig) map[string]any {
	meta := map[string]any{
		"type":          "unknown",
		"params":        map[string]any{},
		"preprocessing": map[string]any{},
	}
	if cfg == nil {
		return meta
	}
	if cfg.Model != nil {
		meta["type"] = cfg.Model.Family().String()
	}

	var doc struct {
		Model struct {
			Params map[string]any `yaml:"params"`
		} `yaml:"model"`
		Preprocessing map[string]any `yaml:"preprocessing"`
	}
	if err := yaml.Unmarshal(cfg.Document, &doc); err != nil {
		// config has been parsed once when it is published.
		log.Printf("training config is unreadable: %v", xe.Wrap(err))
		return meta
	}
	if doc.Model.Params != nil {
		meta["params"] = doc.Model.Params
	}
	if doc.Preprocessing != nil {
		meta["preprocessing"] = doc.Preprocessing
	}
	return meta
}

// extraMetadata is Metadata in the shape of prediction logs.
func extraMetadata(meta map[string]any) map[string]any {
	return map[string]any{
		"model_type":    meta["type"],
		"model_params":  meta["params"],
		"preprocessing": meta["preprocessing"],
	}
}
