package domain

import "time"

// PredictionRecord is a log of one served inference.
//
// Records are immutable once created.
type PredictionRecord struct {
	// assigned by the store.
	Id        int64
	Timestamp time.Time

	Input      Features
	Prediction float64

	ModelName    string
	ModelVersion string

	// run which produced the model.
	RunId string

	UserNotes     string
	ExtraMetadata map[string]any
}
