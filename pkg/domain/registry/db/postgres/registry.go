package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/mlserve/pkg/conn/db/postgres/pool"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	kdb "github.com/opst/mlserve/pkg/domain/registry/db"
	xe "github.com/opst/mlserve/pkg/errors"
)

type pgRegistry struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgRegistry{pool: pool}
}

func (r *pgRegistry) CreateRun(ctx context.Context, run domain.Run, artifacts []kdb.Artifact) (domain.Run, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Run{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(
		ctx,
		`insert into "registry"."run" ("run_id", "experiment") values ($1, $2) returning "created_at"`,
		run.Id, run.Experiment,
	).Scan(&run.CreatedAt); err != nil {
		return domain.Run{}, xe.Wrap(err)
	}

	for k, v := range run.Metrics {
		if _, err := tx.Exec(
			ctx,
			`insert into "registry"."run_metric" ("run_id", "key", "value") values ($1, $2, $3)`,
			run.Id, k, v,
		); err != nil {
			return domain.Run{}, xe.Wrap(err)
		}
	}
	for k, v := range run.Params {
		if _, err := tx.Exec(
			ctx,
			`insert into "registry"."run_param" ("run_id", "key", "value") values ($1, $2, $3)`,
			run.Id, k, v,
		); err != nil {
			return domain.Run{}, xe.Wrap(err)
		}
	}
	for _, a := range artifacts {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "registry"."run_artifact" ("run_id", "path", "size", "digest")
			values ($1, $2, $3, $4)
			`,
			run.Id, a.Path, a.Size, a.Digest,
		); err != nil {
			return domain.Run{}, xe.Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Run{}, xe.Wrap(err)
	}
	return run, nil
}

func (r *pgRegistry) GetRun(ctx context.Context, runId string) (domain.Run, error) {
	run := domain.Run{Id: runId, Metrics: map[string]float64{}, Params: map[string]string{}}
	if err := r.pool.QueryRow(
		ctx,
		`select "experiment", "created_at" from "registry"."run" where "run_id" = $1`,
		runId,
	).Scan(&run.Experiment, &run.CreatedAt); errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, xe.Wrap(domerr.Missing{Table: "registry.run", Identity: "run " + runId})
	} else if err != nil {
		return domain.Run{}, xe.Wrap(err)
	}

	{
		rows, err := r.pool.Query(
			ctx, `select "key", "value" from "registry"."run_metric" where "run_id" = $1`, runId,
		)
		if err != nil {
			return domain.Run{}, xe.Wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			var v float64
			if err := rows.Scan(&k, &v); err != nil {
				return domain.Run{}, xe.Wrap(err)
			}
			run.Metrics[k] = v
		}
		if err := rows.Err(); err != nil {
			return domain.Run{}, xe.Wrap(err)
		}
	}
	{
		rows, err := r.pool.Query(
			ctx, `select "key", "value" from "registry"."run_param" where "run_id" = $1`, runId,
		)
		if err != nil {
			return domain.Run{}, xe.Wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return domain.Run{}, xe.Wrap(err)
			}
			run.Params[k] = v
		}
		if err := rows.Err(); err != nil {
			return domain.Run{}, xe.Wrap(err)
		}
	}
	return run, nil
}

func (r *pgRegistry) Artifact(ctx context.Context, runId string, path string) (kdb.Artifact, error) {
	a := kdb.Artifact{Path: path}
	if err := r.pool.QueryRow(
		ctx,
		`select "size", "digest" from "registry"."run_artifact" where "run_id" = $1 and "path" = $2`,
		runId, path,
	).Scan(&a.Size, &a.Digest); errors.Is(err, pgx.ErrNoRows) {
		return kdb.Artifact{}, xe.Wrap(domerr.Missing{
			Table: "registry.run_artifact", Identity: fmt.Sprintf("%s of run %s", path, runId),
		})
	} else if err != nil {
		return kdb.Artifact{}, xe.Wrap(err)
	}
	return a, nil
}

func (r *pgRegistry) Register(ctx context.Context, name string, runId string) (domain.ModelVersion, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	// numbering versions of a name one by one.
	if _, err := tx.Exec(
		ctx, `select pg_advisory_xact_lock(hashtext($1))`, "registry/model_version/"+name,
	); err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}

	mv := domain.ModelVersion{Name: name, RunId: runId}
	if err := tx.QueryRow(
		ctx,
		`
		insert into "registry"."model_version" ("name", "version", "run_id")
		select $1, coalesce(max("version"), 0) + 1, $2
		from "registry"."model_version" where "name" = $1
		returning "version", "created_at"
		`,
		name, runId,
	).Scan(&mv.Version, &mv.CreatedAt); err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.ForeignKeyViolation {
			return domain.ModelVersion{}, xe.Wrap(domerr.Missing{Table: "registry.run", Identity: "run " + runId})
		}
		return domain.ModelVersion{}, xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return mv, nil
}

func (r *pgRegistry) Resolve(ctx context.Context, name string, alias string) (domain.ModelVersion, error) {
	mv := domain.ModelVersion{}
	if err := r.pool.QueryRow(
		ctx,
		`
		select "v"."name", "v"."version", "v"."run_id", "v"."created_at"
		from "registry"."model_alias" as "a"
		inner join "registry"."model_version" as "v"
			on "v"."name" = "a"."name" and "v"."version" = "a"."version"
		where "a"."name" = $1 and "a"."alias" = $2
		`,
		name, alias,
	).Scan(&mv.Name, &mv.Version, &mv.RunId, &mv.CreatedAt); errors.Is(err, pgx.ErrNoRows) {
		return domain.ModelVersion{}, xe.Wrap(domerr.Missing{
			Table: "registry.model_alias", Identity: name + "@" + alias,
		})
	} else if err != nil {
		return domain.ModelVersion{}, xe.Wrap(err)
	}
	return mv, nil
}

func (r *pgRegistry) SetAlias(ctx context.Context, name string, alias string, version int) error {
	if _, err := r.pool.Exec(
		ctx,
		`
		insert into "registry"."model_alias" ("name", "alias", "version")
		values ($1, $2, $3)
		on conflict ("name", "alias") do update
		set "version" = excluded."version", "updated_at" = now()
		`,
		name, alias, version,
	); err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.ForeignKeyViolation {
			return xe.Wrap(domerr.Missing{
				Table: "registry.model_version", Identity: fmt.Sprintf("%s version %d", name, version),
			})
		}
		return xe.Wrap(err)
	}
	return nil
}
