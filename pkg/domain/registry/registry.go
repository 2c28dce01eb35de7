// Package registry is the model registry.
//
// Run metadata, versions and aliases are kept by a db.Interface,
// and artifacts (fitted pipelines, config documents) by an artifacts.Store.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/uuid"
	"github.com/opst/mlserve/pkg/configs/training"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"github.com/opst/mlserve/pkg/domain/registry/artifacts"
	kdb "github.com/opst/mlserve/pkg/domain/registry/db"
	xe "github.com/opst/mlserve/pkg/errors"
	"github.com/opst/mlserve/pkg/ml/pipeline"
)

type registry struct {
	experiment string
	db         kdb.Interface
	store      artifacts.Store
}

// New creates a registry recording runs into `experiment`.
func New(experiment string, db kdb.Interface, store artifacts.Store) Interface {
	return &registry{experiment: experiment, db: db, store: store}
}

func (r *registry) Resolve(ctx context.Context, name string, alias string) (domain.ModelVersion, error) {
	mv, err := r.db.Resolve(ctx, name, alias)
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return mv, nil
}

// artifact reads an artifact, checking its digest.
func (r *registry) artifact(ctx context.Context, runId string, path string) ([]byte, error) {
	rec, err := r.db.Artifact(ctx, runId, path)
	if errors.Is(err, domerr.ErrNotFound) {
		return nil, domerr.ArtifactMissing{RunId: runId, Path: path}
	} else if err != nil {
		return nil, xe.Wrap(err)
	}

	content, err := r.store.Get(ctx, runId, path)
	if errors.Is(err, artifacts.ErrMissing) {
		return nil, domerr.ArtifactMissing{RunId: runId, Path: path}
	} else if err != nil {
		return nil, xe.Wrap(err)
	}

	digest, size, err := v1.SHA256(bytes.NewReader(content))
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if digest.String() != rec.Digest || size != rec.Size {
		return nil, domerr.ArtifactMissing{
			RunId: runId, Path: path,
			Cause: fmt.Errorf("content is changed: %s (%d bytes), expected %s (%d bytes)", digest, size, rec.Digest, rec.Size),
		}
	}
	return content, nil
}

func (r *registry) FetchConfig(ctx context.Context, mv domain.ModelVersion) (domain.TrainingConfig, error) {
	content, err := r.artifact(ctx, mv.RunId, ConfigArtifact)
	if err != nil {
		return domain.TrainingConfig{}, err
	}
	cfg, err := training.Unmarshal(content)
	if err != nil {
		return domain.TrainingConfig{}, domerr.ArtifactMissing{RunId: mv.RunId, Path: ConfigArtifact, Cause: err}
	}
	return cfg, nil
}

func (r *registry) LoadPipeline(ctx context.Context, mv domain.ModelVersion) (pipeline.Model, error) {
	content, err := r.artifact(ctx, mv.RunId, ModelArtifact)
	if err != nil {
		return nil, err
	}
	p := &pipeline.Pipeline{}
	if err := json.Unmarshal(content, p); err != nil {
		return nil, domerr.ArtifactMissing{RunId: mv.RunId, Path: ModelArtifact, Cause: err}
	}
	return p, nil
}

func (r *registry) put(ctx context.Context, runId string, path string, content []byte) (kdb.Artifact, error) {
	digest, size, err := v1.SHA256(bytes.NewReader(content))
	if err != nil {
		return kdb.Artifact{}, err
	}
	if err := r.store.Put(ctx, runId, path, content); err != nil {
		return kdb.Artifact{}, xe.WrapWithNote("storing "+path, err)
	}
	return kdb.Artifact{Path: path, Size: size, Digest: digest.String()}, nil
}

func (r *registry) Publish(ctx context.Context, run Run) (string, error) {
	if run.Model == nil {
		return "", xe.New("publish: no model")
	}
	model, err := json.Marshal(run.Model)
	if err != nil {
		return "", xe.WrapWithNote("serializing model", err)
	}

	runId := uuid.NewString()
	arts := []kdb.Artifact{}

	a, err := r.put(ctx, runId, ModelArtifact, model)
	if err != nil {
		return "", err
	}
	arts = append(arts, a)

	if len(run.Config.Document) != 0 {
		a, err := r.put(ctx, runId, ConfigArtifact, run.Config.Document)
		if err != nil {
			return "", err
		}
		arts = append(arts, a)
	}

	params := map[string]string{}
	for k, v := range run.Config.Params {
		params[k] = v
	}
	if run.Config.Model != nil {
		params[".model.family"] = run.Config.Model.Family().String()
	}

	if _, err := r.db.CreateRun(ctx, domain.Run{
		Id:         runId,
		Experiment: r.experiment,
		Metrics:    run.Metrics,
		Params:     params,
	}, arts); err != nil {
		return "", xe.Wrap(err)
	}
	return runId, nil
}

func (r *registry) Register(ctx context.Context, name string, runId string) (domain.ModelVersion, error) {
	mv, err := r.db.Register(ctx, name, runId)
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return mv, nil
}

func (r *registry) Promote(ctx context.Context, name string, version int, alias string) error {
	if err := r.db.SetAlias(ctx, name, alias, version); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (r *registry) Describe(ctx context.Context, mv domain.ModelVersion) (domain.ModelInfo, error) {
	cfg, err := r.FetchConfig(ctx, mv)
	if errors.Is(err, domerr.ErrArtifactMissing) {
		return domain.ModelInfo{ModelVersion: mv}, nil
	} else if err != nil {
		return domain.ModelInfo{}, err
	}
	return domain.ModelInfo{ModelVersion: mv, Config: &cfg}, nil
}
