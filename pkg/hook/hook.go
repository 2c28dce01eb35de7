// Package hook notifies external systems around a piece of work.
package hook

import (
	"context"
	"errors"

	cfg_hook "github.com/opst/mlserve/pkg/configs/hook"
)

var ErrHookFailed = errors.New("hook failed")

// Hook is called before/after the value T is processed.
type Hook[T any] interface {
	// Before is called before the value T is processed.
	//
	// When it returns error, the value should not be processed.
	Before(context.Context, T) error

	// After is called after the value T is processed.
	After(context.Context, T) error
}

// Build creates a webhook from config.
//
// If no URLs are configured, it returns None.
func Build[T any](cfg cfg_hook.WebHook) Hook[T] {
	if len(cfg.Before) == 0 && len(cfg.After) == 0 {
		return None[T]{}
	}
	return Web[T]{BeforeURL: cfg.Before, AfterURL: cfg.After}
}

// None is a hook that does nothing.
type None[T any] struct{}

func (None[T]) Before(context.Context, T) error { return nil }
func (None[T]) After(context.Context, T) error  { return nil }

// Func is a hook that calls functions before and after processing the value T.
type Func[T any] struct {
	// If BeforeFn is nil, it is not called.
	BeforeFn func(context.Context, T) error

	// If AfterFn is nil, it is not called.
	AfterFn func(context.Context, T) error
}

func (f Func[T]) Before(ctx context.Context, value T) error {
	if f.BeforeFn == nil {
		return nil
	}
	if err := f.BeforeFn(ctx, value); err != nil {
		return errors.Join(err, ErrHookFailed)
	}
	return nil
}

func (f Func[T]) After(ctx context.Context, value T) error {
	if f.AfterFn == nil {
		return nil
	}
	if err := f.AfterFn(ctx, value); err != nil {
		return errors.Join(err, ErrHookFailed)
	}
	return nil
}
