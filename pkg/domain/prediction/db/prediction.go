package db

import (
	"context"

	"github.com/opst/mlserve/pkg/domain"
)

type Interface interface {
	// Record a served prediction.
	//
	// Id and Timestamp of the argument are ignored, and assigned by the store.
	Record(context.Context, domain.PredictionRecord) (domain.PredictionRecord, error)

	// Get a prediction by id.
	//
	// Return
	//
	// - error: Missing (ErrNotFound) when there is no such prediction.
	Get(ctx context.Context, id int64) (domain.PredictionRecord, error)
}
