// Package schema upgrades the database schema from a schema repository.
//
// A schema repository is a directory of versions:
//
//	repository/
//	  1/
//	    00_schema_version.sql
//	    10_predictions.sql
//	  2/
//	    ...
//
// Each version directory holds .sql files, applied in lexical order of their paths.
// The applied version is recorded in the table "schema_version".
package schema

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	kpool "github.com/opst/mlserve/pkg/conn/db/postgres/pool"
)

// key of the advisory lock held while upgrading.
const upgradeLockKey = "mlserve/schema-upgrade"

type Schema struct {
	pool             kpool.Pool
	schemaRepository string
}

// New creates a new Schema.
//
// # Args
//
// - schemaRepository: The path to the schema repository directory.
func New(pool kpool.Pool, schemaRepository string) *Schema {
	return &Schema{
		pool:             pool,
		schemaRepository: schemaRepository,
	}
}

type version struct {
	Version int
	Root    string
}

func (v version) apply(ctx context.Context, conn kpool.Queryer) error {
	return filepath.WalkDir(v.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, string(query)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
}

// Version returns the schema version applied to the database.
//
// It is 0 for a fresh database.
func (s *Schema) Version(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.pool)
}

func currentVersion(ctx context.Context, q kpool.Queryer) (int, error) {
	var version *int
	if err := q.QueryRow(
		ctx, `select max("version") from "schema_version"`,
	).Scan(&version); err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UndefinedTable {
			return 0, nil
		}
		return -1, err
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

// Upgrade applies versions newer than the current one, in a transaction.
//
// # Returns
//
// - []int: applied versions.
func (s *Schema) Upgrade(ctx context.Context) ([]int, error) {
	schemaVersions, err := s.versions()
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx, `select pg_advisory_xact_lock(hashtext($1))`, upgradeLockKey,
	); err != nil {
		return nil, err
	}

	// in the tx, a failed statement aborts the tx. Look up the table in catalog instead.
	var exists bool
	if err := tx.QueryRow(
		ctx, `select to_regclass('"schema_version"') is not null`,
	).Scan(&exists); err != nil {
		return nil, err
	}
	current := 0
	if exists {
		if current, err = currentVersion(ctx, tx); err != nil {
			return nil, err
		}
	}

	applied := []int{}
	for _, v := range schemaVersions {
		if v.Version <= current {
			continue
		}
		if err := v.apply(ctx, tx); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `delete from "schema_version"`); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(
			ctx, `insert into "schema_version" ("version") values ($1)`, v.Version,
		); err != nil {
			return nil, err
		}
		applied = append(applied, v.Version)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return applied, nil
}

// Context returns a context which is cancelled when the database schema gets outdated,
// that is, a newer version appears in the schema repository.
func (s *Schema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, can := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		can(err)
		return cctx, func() {}
	}
	if err := w.Add(s.schemaRepository); err != nil {
		w.Close()
		can(err)
		return cctx, func() {}
	}

	checkVersion := func() {
		vs, err := s.versions()
		if err != nil {
			can(fmt.Errorf("failed to read schema repository: %w", err))
			return
		}
		current, err := s.Version(ctx)
		if err != nil {
			can(fmt.Errorf("failed to get current schema version: %w", err))
			return
		}
		if len(vs) != 0 && current < vs[len(vs)-1].Version {
			can(fmt.Errorf(
				"schema is outdated: %d (in db) < %d (in repository)",
				current, vs[len(vs)-1].Version,
			))
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if s.schemaRepository != filepath.Dir(ev.Name) {
					continue
				}
				checkVersion()
			}
		}
	}()

	checkVersion()
	return cctx, func() { can(nil) }
}

// versions lookup the schema from the schema repository, sorted by version number.
func (s *Schema) versions() ([]version, error) {
	dir, err := os.ReadDir(s.schemaRepository)
	if err != nil {
		return nil, err
	}

	schemaVersions := make([]version, 0, len(dir))
	for _, entry := range dir {
		if !entry.IsDir() {
			continue
		}
		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		schemaVersions = append(schemaVersions, version{
			Version: v,
			Root:    filepath.Join(s.schemaRepository, entry.Name()),
		})
	}
	slices.SortFunc(
		schemaVersions,
		func(i, j version) int { return cmp.Compare(i.Version, j.Version) },
	)
	return schemaVersions, nil
}
