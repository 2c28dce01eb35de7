// Package loop runs a task repeatedly, with interval between runs.
package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue loop after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break loop. To break without error, pass nil.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is called with (sub-)context and the value returned last time.
//
// Zero value of Next equals Continue(0).
type Task[T any] func(context.Context, T) (T, Next)

// Start task in loop.
//
// task is called as task(ctx, init) at first, and then with the value it returned last time,
// until it returns Break or ctx is done.
//
// For example, run retraining cycles every hour until a fatal error:
//
//	Start(ctx, retrain.Outcome{}, func(ctx context.Context, _ retrain.Outcome) (retrain.Outcome, Next) {
//		o, err := orchestrator.Cycle(ctx)
//		if errors.Fatal(err) {
//			return o, Break(err)
//		}
//		return o, Continue(time.Hour)
//	})
//
// # Returns
//
// - T: T task returns at last. It is returned with error, too.
//
// - error: error in Break(error), or ctx.Err() if ctx is done.
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	if err := ctx.Err(); err != nil {
		return init, err
	}

	value := init
	for {
		lc := &loopConfig{ctx: ctx}
		for _, opt := range options {
			lc = opt(lc)
		}

		v, n := func() (T, Next) {
			if lc.deferred != nil {
				defer lc.deferred()
			}
			return task(lc.ctx, value)
		}()

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutting down comes first.
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

type loopConfig struct {
	ctx      context.Context
	deferred func()
}

type LoopOption func(*loopConfig) *loopConfig

// WithTimeout sets timeout per run.
//
// The timeout is set on context.Context passed to task.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		ctx, cancel := context.WithTimeout(lc.ctx, d)
		return &loopConfig{
			ctx: ctx,
			deferred: func() {
				if lc.deferred != nil {
					defer lc.deferred()
				}
				cancel()
			},
		}
	}
}
