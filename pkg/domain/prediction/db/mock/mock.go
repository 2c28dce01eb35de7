// this package provide "mock" implementation of database for testing.
package mock

import (
	"context"
	"errors"

	"github.com/opst/mlserve/pkg/domain"
	kdb "github.com/opst/mlserve/pkg/domain/prediction/db"
)

type MockPredictionInterface struct {
	Impl struct {
		Record func(context.Context, domain.PredictionRecord) (domain.PredictionRecord, error)
		Get    func(ctx context.Context, id int64) (domain.PredictionRecord, error)
	}
}

var _ kdb.Interface = &MockPredictionInterface{}

func NewMockPredictionInterface() *MockPredictionInterface {
	return &MockPredictionInterface{}
}

func (m *MockPredictionInterface) Record(ctx context.Context, rec domain.PredictionRecord) (domain.PredictionRecord, error) {
	if m.Impl.Record == nil {
		return domain.PredictionRecord{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Record(ctx, rec)
}

func (m *MockPredictionInterface) Get(ctx context.Context, id int64) (domain.PredictionRecord, error) {
	if m.Impl.Get == nil {
		return domain.PredictionRecord{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Get(ctx, id)
}
