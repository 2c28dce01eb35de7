package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	cfg_hook "github.com/opst/mlserve/pkg/configs/hook"
	kmlserve "github.com/opst/mlserve/pkg/configs/mlserve"
	"github.com/opst/mlserve/pkg/configs/training"
	kpg "github.com/opst/mlserve/pkg/db/postgres"
	"github.com/opst/mlserve/pkg/hook"
	"github.com/opst/mlserve/pkg/loop"
	"github.com/opst/mlserve/pkg/metrics"
	"github.com/opst/mlserve/pkg/ml/dataset"
	"github.com/opst/mlserve/pkg/retrain"
	"github.com/opst/mlserve/pkg/utils/args"
	"github.com/opst/mlserve/pkg/utils/filewatch"
	"github.com/opst/mlserve/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String(
		"config", os.Getenv("MLSERVE_CONFIG"), "path to config file",
	)
	pSchemaRepo := flag.String(
		"schema-repo", os.Getenv("MLSERVE_SCHEMA"), "schema repository path. When set, quit on schema upgrade",
	)
	phooks := flag.String(
		"hooks", os.Getenv("MLSERVE_HOOK_CONFIG"), "path to hook config file",
	)
	policy := args.ParserWithDefault(loop.ParsePolicy, loop.Once())
	flag.Var(
		policy, "policy",
		`loop policy (syntax: once|forever[:INTERVAL]).`+
			` "once" = run a cycle and exit (default).`+
			` "forever[:INTERVAL]" = run cycles until a fatal error, waiting INTERVAL between them.`,
	)
	pbootstrap := flag.Bool(
		"bootstrap", false, "train the first version when no version is bound to the alias, then exit",
	)
	ppushgateway := flag.String(
		"pushgateway", os.Getenv("MLSERVE_PUSHGATEWAY"), "URL of prometheus pushgateway. optional",
	)
	flag.Parse()

	{
		// config changes take effect on restart.
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig, *phooks)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(kmlserve.Load(*pconfig)).OrFatal(logger)

	hooks := cfg_hook.Config{}
	if hookPath := *phooks; hookPath != "" {
		hooks = try.To(cfg_hook.Load(hookPath)).OrFatal(logger)
	}

	db := try.To(kpg.FromConfig(
		ctx, conf,
		kpg.WithRetry(kpg.DefaultBackoff()),
		kpg.WithSchemaRepository(*pSchemaRepo),
	)).OrFatal(logger)
	defer db.Close()

	if schema := db.Schema(); schema != nil {
		sctx, cancel := schema.Context(ctx)
		defer cancel()
		ctx = sctx
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	observe := m.Observe
	if url := *ppushgateway; url != "" {
		pusher := push.New(url, "mlserve_retrainer").Gatherer(reg)
		observe = func(o retrain.Outcome) {
			m.Observe(o)
			if err := pusher.Push(); err != nil {
				logger.Printf("failed to push metrics: %v", err)
			}
		}
	}

	tc := conf.Training()
	var base dataset.Source = dataset.Synthetic(tc.Seed(), dataset.DefaultSyntheticSize)
	if path := tc.Dataset(); path != "" {
		base = dataset.CSV(path, dataset.CaliforniaTarget)
	}

	rc := conf.Retraining()
	orchestrator := retrain.New(
		retrain.Config{
			ModelName:           conf.Model().Name(),
			Alias:               conf.Model().Alias(),
			MinFeedback:         rc.MinFeedback(),
			MinImprovementDelta: rc.MinImprovementDelta(),
			PublishDiscarded:    rc.PublishDiscarded(),
		},
		db.Feedback(),
		db.Registry(),
		dataset.NewAssembler(base, tc.Seed(), tc.TestFraction()),
		training.FileSource(tc.Config()),
		retrain.WithLocker(db.Locker()),
		retrain.WithLogger(logger),
		retrain.WithObserver(m.Observer()),
	)

	p := policy.Value()
	if *pbootstrap {
		p = loop.Once()
	}
	logger.Printf(
		`start retraining "%s@%s" /w policy "%s" (bootstrap: %v)`,
		conf.Model().Name(), conf.Model().Alias(), p, *pbootstrap,
	)

	_, err := Run(ctx, logger, orchestrator, Manifest{
		ModelName: conf.Model().Name(),
		Alias:     conf.Model().Alias(),
		Policy:    loop.UntilFatal(p),
		Hooks:     hook.Build[retrain.Outcome](hooks.Retraining),
		Bootstrap: *pbootstrap,
		Observe:   observe,
	})

	if err == nil {
		return
	} else if errors.Is(err, context.Canceled) {
		logger.Fatal(err, " (loop context is cancelled by: ", context.Cause(ctx), ")")
	}
	logger.Fatal(err)
}
