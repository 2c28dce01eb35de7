package main

import (
	"context"
	"log"
	"time"

	"github.com/opst/mlserve/pkg/hook"
	"github.com/opst/mlserve/pkg/loop"
	"github.com/opst/mlserve/pkg/retrain"
)

type Cycler interface {
	Cycle(context.Context) (retrain.Outcome, error)
	Bootstrap(context.Context) (retrain.Outcome, error)
}

type Manifest struct {
	ModelName string
	Alias     string

	Policy loop.Policy
	Hooks  hook.Hook[retrain.Outcome]

	// train the first version instead of retraining.
	Bootstrap bool

	// called with the outcome of each cycle. Optional.
	Observe func(retrain.Outcome)
}

// Run runs cycles under the policy of the manifest.
//
// Before-hooks are sent an Outcome having only names and StartedAt.
// When a before-hook fails, the cycle does not run and the policy sees the error.
// Failures of after-hooks are logged only.
func Run(ctx context.Context, logger *log.Logger, cycler Cycler, m Manifest) (retrain.Outcome, error) {
	observe := m.Observe
	if observe == nil {
		observe = func(retrain.Outcome) {}
	}
	hooks := m.Hooks
	if hooks == nil {
		hooks = hook.None[retrain.Outcome]{}
	}
	run := cycler.Cycle
	if m.Bootstrap {
		run = cycler.Bootstrap
	}

	return loop.Start(
		ctx, retrain.Outcome{},
		func(ctx context.Context, _ retrain.Outcome) (retrain.Outcome, loop.Next) {
			head := retrain.Outcome{
				ModelName: m.ModelName, Alias: m.Alias, StartedAt: time.Now(),
			}
			if err := hooks.Before(ctx, head); err != nil {
				logger.Printf("before-hook failed. cycle is not started: %v", err)
				return head, m.Policy.Next(err)
			}

			o, err := run(ctx)
			observe(o)
			logger.Printf("cycle: %s", o)

			if herr := hooks.After(ctx, o); herr != nil {
				logger.Printf("after-hook failed: %v", herr)
			}
			return o, m.Policy.Next(err)
		},
	)
}
