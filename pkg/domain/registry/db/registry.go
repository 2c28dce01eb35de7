package db

import (
	"context"

	"github.com/opst/mlserve/pkg/domain"
)

// Artifact is a blob recorded with a run.
type Artifact struct {
	Path   string
	Size   int64
	Digest string
}

// Interface is the metadata side of the model registry.
type Interface interface {
	// CreateRun records a run with its metrics, params and artifacts at once.
	//
	// run.CreatedAt is assigned by the database.
	CreateRun(ctx context.Context, run domain.Run, artifacts []Artifact) (domain.Run, error)

	// GetRun returns a run.
	//
	// Return
	//
	// - error: Missing when there is no such run.
	GetRun(ctx context.Context, runId string) (domain.Run, error)

	// Artifact returns an artifact record of a run.
	//
	// Return
	//
	// - error: Missing when the run does not have the artifact.
	Artifact(ctx context.Context, runId string, path string) (Artifact, error)

	// Register creates a new version of the model `name` from the run.
	//
	// Versions are numbered 1, 2, 3, ... per name.
	//
	// Return
	//
	// - error: Missing when there is no such run.
	Register(ctx context.Context, name string, runId string) (domain.ModelVersion, error)

	// Resolve returns the version which the alias points.
	//
	// Return
	//
	// - error: Missing when the alias is not bound.
	Resolve(ctx context.Context, name string, alias string) (domain.ModelVersion, error)

	// SetAlias binds the alias to the version, replacing the current binding.
	//
	// Return
	//
	// - error: Missing when there is no such version.
	SetAlias(ctx context.Context, name string, alias string, version int) error
}
