// Package fs stores artifacts as files under a root directory: "<root>/<run id>/<path>".
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opst/mlserve/pkg/domain/registry/artifacts"
)

type Store struct {
	root string
}

var _ artifacts.Store = &Store{}

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) locate(runId string, path string) (string, error) {
	if !filepath.IsLocal(runId) || !filepath.IsLocal(path) {
		return "", fmt.Errorf("invalid artifact location: run %q, path %q", runId, path)
	}
	return filepath.Join(s.root, runId, filepath.FromSlash(path)), nil
}

// Put writes content to a temporary file, then renames it.
// Readers never see partially written artifacts.
func (s *Store) Put(ctx context.Context, runId string, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := s.locate(runId, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (s *Store) Get(ctx context.Context, runId string, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := s.locate(runId, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", artifacts.ErrMissing, src)
	} else if err != nil {
		return nil, err
	}
	return content, nil
}
