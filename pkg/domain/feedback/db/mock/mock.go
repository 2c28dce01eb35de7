// this package provide "mock" implementation of database for testing.
package mock

import (
	"context"
	"errors"
	"iter"

	"github.com/opst/mlserve/pkg/domain"
	kdb "github.com/opst/mlserve/pkg/domain/feedback/db"
)

type MockFeedbackInterface struct {
	Impl struct {
		Unconsumed      func(context.Context) iter.Seq2[domain.FeedbackExample, error]
		CountUnconsumed func(context.Context) (int, error)
		MarkConsumed    func(ctx context.Context, ids []int64, runId string) error
		Submit          func(ctx context.Context, predictionId int64, value float64) (domain.FeedbackRecord, error)
	}
}

var _ kdb.Interface = &MockFeedbackInterface{}

func NewMockFeedbackInterface() *MockFeedbackInterface {
	return &MockFeedbackInterface{}
}

func (m *MockFeedbackInterface) Unconsumed(ctx context.Context) iter.Seq2[domain.FeedbackExample, error] {
	if m.Impl.Unconsumed == nil {
		return func(yield func(domain.FeedbackExample, error) bool) {
			yield(domain.FeedbackExample{}, errors.New("[MOCK] not implemented"))
		}
	}
	return m.Impl.Unconsumed(ctx)
}

func (m *MockFeedbackInterface) CountUnconsumed(ctx context.Context) (int, error) {
	if m.Impl.CountUnconsumed == nil {
		return 0, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CountUnconsumed(ctx)
}

func (m *MockFeedbackInterface) MarkConsumed(ctx context.Context, ids []int64, runId string) error {
	if m.Impl.MarkConsumed == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.MarkConsumed(ctx, ids, runId)
}

func (m *MockFeedbackInterface) Submit(ctx context.Context, predictionId int64, value float64) (domain.FeedbackRecord, error) {
	if m.Impl.Submit == nil {
		return domain.FeedbackRecord{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Submit(ctx, predictionId, value)
}

// Examples returns Unconsumed implementation yielding examples in order.
func Examples(examples ...domain.FeedbackExample) func(context.Context) iter.Seq2[domain.FeedbackExample, error] {
	return func(context.Context) iter.Seq2[domain.FeedbackExample, error] {
		return func(yield func(domain.FeedbackExample, error) bool) {
			for _, ex := range examples {
				if !yield(ex, nil) {
					return
				}
			}
		}
	}
}
