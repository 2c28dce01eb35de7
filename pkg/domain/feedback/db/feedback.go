package db

import (
	"context"
	"iter"

	"github.com/opst/mlserve/pkg/domain"
)

type Interface interface {
	// Unconsumed yields feedback not used by any retraining run yet,
	// joined with the input of its prediction.
	//
	// Items are ordered by feedback timestamp, then by id.
	// Each range over the sequence queries the database again.
	//
	// If an error occurs, it is yielded and the sequence ends.
	Unconsumed(context.Context) iter.Seq2[domain.FeedbackExample, error]

	// CountUnconsumed returns the number of feedback which Unconsumed would yield.
	CountUnconsumed(context.Context) (int, error)

	// MarkConsumed marks all of feedback `ids` as used by the run `runId`.
	//
	// This is all-or-nothing.
	//
	// Return
	//
	// - error: ErrConflict when any of ids is missing or consumed already.
	// Nothing is marked then.
	MarkConsumed(ctx context.Context, ids []int64, runId string) error

	// Submit records a feedback for a prediction.
	//
	// Return
	//
	// - domain.FeedbackRecord: created record.
	//
	// - error: Missing (ErrNotFound) when the prediction does not exist.
	Submit(ctx context.Context, predictionId int64, value float64) (domain.FeedbackRecord, error)
}
