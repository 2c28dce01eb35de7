package domain

import "time"

// Alias which points the model serving predictions.
const ProductionAlias = "production"

// ModelVersion is a registered, immutable model.
type ModelVersion struct {
	Name string

	// monotonically increasing per Name, starts from 1.
	Version int

	// run which produced this model.
	RunId     string
	CreatedAt time.Time
}

// Run is a record of a training.
type Run struct {
	Id         string
	Experiment string
	CreatedAt  time.Time
	Metrics    map[string]float64
	Params     map[string]string
}

// ModelInfo describes a model version with its training config.
type ModelInfo struct {
	ModelVersion
	Config *TrainingConfig
}
