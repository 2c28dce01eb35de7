// this package provide "mock" implementation of the model registry for testing.
package mock

import (
	"context"
	"errors"

	"github.com/opst/mlserve/pkg/domain"
	"github.com/opst/mlserve/pkg/domain/registry"
	"github.com/opst/mlserve/pkg/ml/pipeline"
)

type Registry struct {
	Impl struct {
		Resolve      func(ctx context.Context, name string, alias string) (domain.ModelVersion, error)
		FetchConfig  func(ctx context.Context, mv domain.ModelVersion) (domain.TrainingConfig, error)
		LoadPipeline func(ctx context.Context, mv domain.ModelVersion) (pipeline.Model, error)
		Publish      func(ctx context.Context, run registry.Run) (string, error)
		Register     func(ctx context.Context, name string, runId string) (domain.ModelVersion, error)
		Promote      func(ctx context.Context, name string, version int, alias string) error
		Describe     func(ctx context.Context, mv domain.ModelVersion) (domain.ModelInfo, error)
	}
}

var _ registry.Interface = &Registry{}

func New() *Registry {
	return &Registry{}
}

var errNotImplemented = errors.New("[MOCK] not implemented")

func (m *Registry) Resolve(ctx context.Context, name string, alias string) (domain.ModelVersion, error) {
	if m.Impl.Resolve == nil {
		return domain.ModelVersion{}, errNotImplemented
	}
	return m.Impl.Resolve(ctx, name, alias)
}

func (m *Registry) FetchConfig(ctx context.Context, mv domain.ModelVersion) (domain.TrainingConfig, error) {
	if m.Impl.FetchConfig == nil {
		return domain.TrainingConfig{}, errNotImplemented
	}
	return m.Impl.FetchConfig(ctx, mv)
}

func (m *Registry) LoadPipeline(ctx context.Context, mv domain.ModelVersion) (pipeline.Model, error) {
	if m.Impl.LoadPipeline == nil {
		return nil, errNotImplemented
	}
	return m.Impl.LoadPipeline(ctx, mv)
}

func (m *Registry) Publish(ctx context.Context, run registry.Run) (string, error) {
	if m.Impl.Publish == nil {
		return "", errNotImplemented
	}
	return m.Impl.Publish(ctx, run)
}

func (m *Registry) Register(ctx context.Context, name string, runId string) (domain.ModelVersion, error) {
	if m.Impl.Register == nil {
		return domain.ModelVersion{}, errNotImplemented
	}
	return m.Impl.Register(ctx, name, runId)
}

func (m *Registry) Promote(ctx context.Context, name string, version int, alias string) error {
	if m.Impl.Promote == nil {
		return errNotImplemented
	}
	return m.Impl.Promote(ctx, name, version, alias)
}

func (m *Registry) Describe(ctx context.Context, mv domain.ModelVersion) (domain.ModelInfo, error) {
	if m.Impl.Describe == nil {
		return domain.ModelInfo{}, errNotImplemented
	}
	return m.Impl.Describe(ctx, mv)
}
