package domain

import "time"

// FeedbackRecord is a corrected/observed target for a prediction.
type FeedbackRecord struct {
	Id           int64
	Timestamp    time.Time
	PredictionId int64
	Feedback     float64

	// id of the retraining run which used this feedback.
	//
	// nil means "unconsumed". Once set, it never changes.
	ConsumedBy *string
}

// Consumed reports whether this feedback has been used by a retraining run.
func (f FeedbackRecord) Consumed() bool {
	return f.ConsumedBy != nil
}

// FeedbackExample is a feedback joined with the input of its prediction.
type FeedbackExample struct {
	Record FeedbackRecord
	Input  Features
	Target float64
}

// FeedbackIds returns ids of examples, in order.
func FeedbackIds(examples []FeedbackExample) []int64 {
	ids := make([]int64, len(examples))
	for i, ex := range examples {
		ids[i] = ex.Record.Id
	}
	return ids
}
