// Package postgres opens every store of mlserve on a PostgreSQL database.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"

	kmlserve "github.com/opst/mlserve/pkg/configs/mlserve"
	kpool "github.com/opst/mlserve/pkg/conn/db/postgres/pool"
	kpgschema "github.com/opst/mlserve/pkg/db/postgres/schema"
	kfeedback "github.com/opst/mlserve/pkg/domain/feedback/db"
	kpgfeedback "github.com/opst/mlserve/pkg/domain/feedback/db/postgres"
	kpred "github.com/opst/mlserve/pkg/domain/prediction/db"
	kpgpred "github.com/opst/mlserve/pkg/domain/prediction/db/postgres"
	"github.com/opst/mlserve/pkg/domain/registry"
	"github.com/opst/mlserve/pkg/domain/registry/artifacts"
	"github.com/opst/mlserve/pkg/domain/registry/artifacts/fs"
	"github.com/opst/mlserve/pkg/domain/registry/artifacts/oci"
	kpgregistry "github.com/opst/mlserve/pkg/domain/registry/db/postgres"
	xe "github.com/opst/mlserve/pkg/errors"
	"github.com/opst/mlserve/pkg/lock"
	"github.com/opst/mlserve/pkg/utils/retry"
)

type Database struct {
	pool        kpool.Pool
	feedback    kfeedback.Interface
	predictions kpred.Interface
	registry    registry.Interface
	locker      lock.Locker
	schema      *kpgschema.Schema
}

type Config struct {
	Experiment       string
	Artifacts        artifacts.Store
	SchemaRepository string

	// backoff between connection attempts. nil means "try once".
	Backoff retry.Backoff
}

type Option func(*Config) *Config

func WithExperiment(experiment string) Option {
	return func(c *Config) *Config {
		c.Experiment = experiment
		return c
	}
}

func WithArtifacts(store artifacts.Store) Option {
	return func(c *Config) *Config {
		c.Artifacts = store
		return c
	}
}

func WithSchemaRepository(repository string) Option {
	return func(c *Config) *Config {
		c.SchemaRepository = repository
		return c
	}
}

// WithRetry retries connecting while the database is not reachable.
func WithRetry(b retry.Backoff) Option {
	return func(c *Config) *Config {
		c.Backoff = b
		return c
	}
}

// Artifacts opens the artifact store declared in the config.
func Artifacts(conf *kmlserve.ArtifactsConfig) (artifacts.Store, error) {
	if root := conf.Filesystem(); root != "" {
		return fs.New(root), nil
	}
	o := conf.OCI()
	opts := []oci.Option{}
	if o.Insecure() {
		opts = append(opts, oci.Insecure())
	}
	return oci.New(o.Repository(), opts...)
}

// FromConfig is New with options derived from the config.
func FromConfig(ctx context.Context, conf *kmlserve.Config, options ...Option) (*Database, error) {
	store, err := Artifacts(conf.Artifacts())
	if err != nil {
		return nil, xe.Wrap(err)
	}
	opts := append(
		[]Option{WithExperiment(conf.Experiment()), WithArtifacts(store)},
		options...,
	)
	return New(ctx, conf.Database(), opts...)
}

func New(ctx context.Context, url string, options ...Option) (*Database, error) {
	c := &Config{Experiment: kmlserve.DefaultExperiment}
	for _, option := range options {
		c = option(c)
	}

	connect := func() (kpool.Pool, error) {
		p, err := kpool.Connect(ctx, url)
		if err == nil {
			return p, nil
		}
		if c.Backoff != nil && connectionRefused(err) {
			return nil, errors.Join(retry.ErrRetry, err)
		}
		return nil, err
	}
	var p kpool.Pool
	var err error
	if c.Backoff == nil {
		p, err = connect()
	} else {
		p, err = retry.Blocking(ctx, c.Backoff, connect)
	}
	if err != nil {
		return nil, xe.Wrap(err)
	}

	db := &Database{
		pool:        p,
		feedback:    kpgfeedback.New(p),
		predictions: kpgpred.New(p),
		locker:      lock.Postgres(p),
	}
	if c.Artifacts != nil {
		db.registry = registry.New(c.Experiment, kpgregistry.New(p), c.Artifacts)
	}
	if c.SchemaRepository != "" {
		db.schema = kpgschema.New(p, c.SchemaRepository)
	}
	return db, nil
}

func connectionRefused(err error) bool {
	var cerr *pgconn.ConnectError
	return errors.As(err, &cerr)
}

// DefaultBackoff for connecting at start-up.
func DefaultBackoff() retry.Backoff {
	return retry.ExponentialBackoff(500*time.Millisecond, 2, 30*time.Second)
}

func (d *Database) Pool() kpool.Pool {
	return d.pool
}

func (d *Database) Feedback() kfeedback.Interface {
	return d.feedback
}

func (d *Database) Predictions() kpred.Interface {
	return d.predictions
}

// Registry is nil unless an artifact store is given.
func (d *Database) Registry() registry.Interface {
	return d.registry
}

func (d *Database) Locker() lock.Locker {
	return d.locker
}

// Schema is nil unless a schema repository is given.
func (d *Database) Schema() *kpgschema.Schema {
	return d.schema
}

func (d *Database) Close() error {
	d.pool.Close()
	return nil
}
