// Package predictions holds request/response bodies of the prediction API.
package predictions

import "github.com/opst/mlserve/pkg/domain"

// PredictionRequest is features of a sample, like
//
//	{"MedInc": 8.3252, "HouseAge": 41, ...}
type PredictionRequest = domain.Features

type PredictionResponse struct {
	// id to submit feedback for this prediction.
	PredictionId int64   `json:"prediction_id"`
	Prediction   float64 `json:"prediction"`

	ModelName    string `json:"model_name"`
	ModelVersion string `json:"model_version"`

	// {type, params, preprocessing}
	ModelMetadata map[string]any `json:"model_metadata"`
}

type FeedbackRequest struct {
	PredictionId int64 `json:"prediction_id" validate:"required,gt=0"`

	// observed target. Pointer to tell 0 from absence.
	Feedback *float64 `json:"feedback" validate:"required"`
}

type FeedbackResponse struct {
	Id           int64   `json:"id"`
	PredictionId int64   `json:"prediction_id"`
	Feedback     float64 `json:"feedback"`
}

type ModelInfoResponse struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	RunId        string `json:"run_id"`
	CreationTime string `json:"creation_time"`

	// training config document. null when it is missing.
	Config map[string]any `json:"config"`
}
