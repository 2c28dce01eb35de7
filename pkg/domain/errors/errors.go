// Package errors holds the error taxonomy of the model lifecycle.
//
// Stores and the registry return errors which unwrap to one of the sentinels here,
// so callers can branch with errors.Is without knowing the backend.
package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// requested record or alias is missing.
	ErrNotFound = errors.New("not found")

	// too few unconsumed feedback to retrain. This is not a failure.
	ErrInsufficientFeedback = errors.New("insufficient feedback")

	// model family in a training config is unknown.
	ErrUnsupportedModel = errors.New("unsupported model")

	// feature names/order of a sample do not match the base dataset.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// configuration document is malformed or has invalid values.
	ErrInvalidConfig = errors.New("invalid config")

	// artifact of a run is absent or cannot be decoded.
	ErrArtifactMissing = errors.New("artifact missing")

	// state has been changed by someone else.
	ErrConflict = errors.New("conflict")
)

// requested data is missing.
type Missing struct {
	Table    string
	Identity string
}

var _ error = Missing{}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}

func (m Missing) Unwrap() error {
	return ErrNotFound
}

// artifact of a run is missing or broken.
type ArtifactMissing struct {
	RunId string
	Path  string
	Cause error
}

var _ error = ArtifactMissing{}

func (a ArtifactMissing) Error() string {
	if a.Cause == nil {
		return fmt.Sprintf("artifact %s of run %s is missing", a.Path, a.RunId)
	}
	return fmt.Sprintf("artifact %s of run %s is unavailable: %s", a.Path, a.RunId, a.Cause)
}

func (a ArtifactMissing) Unwrap() []error {
	if a.Cause == nil {
		return []error{ErrArtifactMissing}
	}
	return []error{ErrArtifactMissing, a.Cause}
}

// Kind classifies err into a short, stable name.
//
// Errors not in the taxonomy are "transient": the caller may try again later.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientFeedback):
		return "insufficient-feedback"
	case errors.Is(err, ErrUnsupportedModel):
		return "unsupported-model"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema-mismatch"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid-config"
	case errors.Is(err, ErrArtifactMissing):
		return "artifact-missing"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transient"
	}
}

// Fatal reports whether retrying the same work cannot succeed without an operator's action.
func Fatal(err error) bool {
	switch Kind(err) {
	case "unsupported-model", "schema-mismatch", "invalid-config", "artifact-missing", "not-found":
		return true
	}
	return false
}
