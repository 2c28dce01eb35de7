package registry

import (
	"context"

	"github.com/opst/mlserve/pkg/domain"
	"github.com/opst/mlserve/pkg/ml/pipeline"
)

const (
	// path of the fitted pipeline in a run.
	ModelArtifact = "model/pipeline.json"

	// path of the training config document in a run.
	ConfigArtifact = "config/model_config.yaml"
)

// Run is a training result to be published.
type Run struct {
	// fitted model. It should be able to be marshalled as JSON.
	Model   pipeline.Model
	Metrics map[string]float64
	Config  domain.TrainingConfig
}

// Interface is the model registry: runs, numbered model versions and movable aliases.
type Interface interface {
	// Resolve returns the version which the alias of model `name` points.
	//
	// Return
	//
	// - error: wraps ErrNotFound when the alias is unbound.
	Resolve(ctx context.Context, name string, alias string) (domain.ModelVersion, error)

	// FetchConfig returns the training config which the version is trained with.
	//
	// Return
	//
	// - error: wraps ErrArtifactMissing when it is absent or broken.
	FetchConfig(ctx context.Context, mv domain.ModelVersion) (domain.TrainingConfig, error)

	// LoadPipeline returns the fitted model of the version.
	//
	// Return
	//
	// - error: wraps ErrArtifactMissing when it is absent or broken.
	LoadPipeline(ctx context.Context, mv domain.ModelVersion) (pipeline.Model, error)

	// Publish records a run with its metrics, config params and artifacts.
	//
	// It does not register a version nor move aliases.
	//
	// Return
	//
	// - string: id of the new run.
	Publish(ctx context.Context, run Run) (string, error)

	// Register creates the next version of model `name` from a published run.
	Register(ctx context.Context, name string, runId string) (domain.ModelVersion, error)

	// Promote binds the alias to the version atomically.
	//
	// Return
	//
	// - error: wraps ErrNotFound when there is no such version.
	Promote(ctx context.Context, name string, version int, alias string) error

	// Describe returns the version with its training config.
	//
	// Config is nil when the config artifact is missing.
	Describe(ctx context.Context, mv domain.ModelVersion) (domain.ModelInfo, error)
}
