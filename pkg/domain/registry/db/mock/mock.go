// this package provide "mock" implementation of database for testing.
package mock

import (
	"context"
	"errors"

	"github.com/opst/mlserve/pkg/domain"
	kdb "github.com/opst/mlserve/pkg/domain/registry/db"
)

type MockRegistryInterface struct {
	Impl struct {
		CreateRun func(ctx context.Context, run domain.Run, artifacts []kdb.Artifact) (domain.Run, error)
		GetRun    func(ctx context.Context, runId string) (domain.Run, error)
		Artifact  func(ctx context.Context, runId string, path string) (kdb.Artifact, error)
		Register  func(ctx context.Context, name string, runId string) (domain.ModelVersion, error)
		Resolve   func(ctx context.Context, name string, alias string) (domain.ModelVersion, error)
		SetAlias  func(ctx context.Context, name string, alias string, version int) error
	}
}

var _ kdb.Interface = &MockRegistryInterface{}

func NewMockRegistryInterface() *MockRegistryInterface {
	return &MockRegistryInterface{}
}

func (m *MockRegistryInterface) CreateRun(ctx context.Context, run domain.Run, artifacts []kdb.Artifact) (domain.Run, error) {
	if m.Impl.CreateRun == nil {
		return domain.Run{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreateRun(ctx, run, artifacts)
}

func (m *MockRegistryInterface) GetRun(ctx context.Context, runId string) (domain.Run, error) {
	if m.Impl.GetRun == nil {
		return domain.Run{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetRun(ctx, runId)
}

func (m *MockRegistryInterface) Artifact(ctx context.Context, runId string, path string) (kdb.Artifact, error) {
	if m.Impl.Artifact == nil {
		return kdb.Artifact{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Artifact(ctx, runId, path)
}

func (m *MockRegistryInterface) Register(ctx context.Context, name string, runId string) (domain.ModelVersion, error) {
	if m.Impl.Register == nil {
		return domain.ModelVersion{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Register(ctx, name, runId)
}

func (m *MockRegistryInterface) Resolve(ctx context.Context, name string, alias string) (domain.ModelVersion, error) {
	if m.Impl.Resolve == nil {
		return domain.ModelVersion{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Resolve(ctx, name, alias)
}

func (m *MockRegistryInterface) SetAlias(ctx context.Context, name string, alias string, version int) error {
	if m.Impl.SetAlias == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.SetAlias(ctx, name, alias, version)
}
