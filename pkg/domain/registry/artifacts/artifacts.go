// Package artifacts defines blob stores for run artifacts.
package artifacts

import (
	"context"
	"errors"
)

// ErrMissing is returned by Store.Get when the blob does not exist.
var ErrMissing = errors.New("no such artifact")

type Store interface {
	// Put stores content as the artifact `path` of the run. Existing one is overwritten.
	Put(ctx context.Context, runId string, path string, content []byte) error

	// Get reads the artifact `path` of the run.
	//
	// Return
	//
	// - error: ErrMissing when it does not exist.
	Get(ctx context.Context, runId string, path string) ([]byte, error)
}
