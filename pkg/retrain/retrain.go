// Package retrain decides when to retrain the served model, and whether to promote the result.
//
// A cycle goes:
//
//	Idle -> FeedbackCheck -> AbortInsufficient -> Idle
//	                      -> Training -> Evaluating -> Promoting  -> Idle
//	                                                -> Discarding -> Idle
//
// and any state but Idle may go to Failed, then Idle.
//
// Feedback is marked as consumed only when the challenger is promoted,
// and only after the alias points the new version.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opst/mlserve/pkg/configs/training"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	kfeedback "github.com/opst/mlserve/pkg/domain/feedback/db"
	"github.com/opst/mlserve/pkg/domain/registry"
	"github.com/opst/mlserve/pkg/lock"
	"github.com/opst/mlserve/pkg/ml/dataset"
	"github.com/opst/mlserve/pkg/ml/pipeline"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultMinFeedback         = 10
	DefaultMinImprovementDelta = 0.01
)

type Config struct {
	ModelName string
	Alias     string

	// cycles with fewer unconsumed feedback are skipped.
	MinFeedback int

	// challenger is promoted when incumbent RMSE - challenger RMSE >= MinImprovementDelta.
	MinImprovementDelta float64

	// record runs of discarded challengers in the registry.
	PublishDiscarded bool
}

func DefaultConfig(modelName string) Config {
	return Config{
		ModelName:           modelName,
		Alias:               domain.ProductionAlias,
		MinFeedback:         DefaultMinFeedback,
		MinImprovementDelta: DefaultMinImprovementDelta,
		PublishDiscarded:    true,
	}
}

// Trainable is a model which can be fitted.
type Trainable interface {
	pipeline.Model
	Fit(ctx context.Context, features []string, X mat.Matrix, y []float64) error
}

// Builder creates an unfitted model from a training config.
type Builder func(domain.TrainingConfig) (Trainable, error)

// BuildPipeline is the Builder of pipeline.Pipeline.
func BuildPipeline(cfg domain.TrainingConfig) (Trainable, error) {
	p, err := pipeline.Build(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Assembler provides train/test data including feedback.
type Assembler interface {
	Assemble(ctx context.Context, examples []domain.FeedbackExample) (dataset.Split, error)
}

type Orchestrator struct {
	config    Config
	feedback  kfeedback.Interface
	registry  registry.Interface
	assembler Assembler
	source    training.Source

	build     Builder
	locker    lock.Locker
	logger    *log.Logger
	observers []Observer
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithBuilder(b Builder) Option {
	return func(o *Orchestrator) { o.build = b }
}

// WithLocker sets the lock serializing cycles. By default, the lock is effective in the process.
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithObserver(ob Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, ob) }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
//
// # Args
//
// - config: thresholds and the target model.
//
// - feedback: source of unconsumed feedback, and where they are marked as consumed.
//
// - reg: model registry.
//
// - assembler: provides training data.
//
// - source: provides the training config. It is called on each cycle.
func New(
	config Config,
	feedback kfeedback.Interface,
	reg registry.Interface,
	assembler Assembler,
	source training.Source,
	options ...Option,
) *Orchestrator {
	o := &Orchestrator{
		config:    config,
		feedback:  feedback,
		registry:  reg,
		assembler: assembler,
		source:    source,
		build:     BuildPipeline,
		locker:    lock.Local(),
		logger:    log.Default(),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

type cycle struct {
	o     *Orchestrator
	state State
	out   Outcome
}

func (o *Orchestrator) begin() *cycle {
	return &cycle{
		o:     o,
		state: Idle,
		out: Outcome{
			ModelName: o.config.ModelName,
			Alias:     o.config.Alias,
			StartedAt: o.now(),
		},
	}
}

func (c *cycle) to(next State) {
	prev := c.state
	c.state = next
	for _, ob := range c.o.observers {
		ob(prev, next, c.out)
	}
}

func (c *cycle) finish() Outcome {
	c.out.FinishedAt = c.o.now()
	if c.state != Idle {
		c.to(Idle)
	}
	return c.out
}

func (c *cycle) fail(err error) (Outcome, error) {
	at := c.state
	c.out.Kind = KindFailed
	c.out.ErrorKind = domerr.Kind(err)
	c.out.Reason = err.Error()
	c.to(Failed)
	c.o.logger.Printf("retraining %s failed in %s (%s): %v", c.o.config.ModelName, at, c.out.ErrorKind, err)
	return c.finish(), err
}

func (c *cycle) skip(reason string) (Outcome, error) {
	c.out.Kind = KindSkipped
	c.out.Reason = reason
	c.o.logger.Printf("retraining %s is skipped: %s", c.o.config.ModelName, reason)
	return c.finish(), nil
}

// Cycle runs a retraining cycle.
//
// # Returns
//
// - Outcome: what happened. It is returned also with error.
//
// - error: non-nil when the Outcome is Failed.
// Too few feedback is not an error. Then Outcome is Skipped.
func (o *Orchestrator) Cycle(ctx context.Context) (Outcome, error) {
	c := o.begin()

	unlock, ok, err := o.locker.TryLock(ctx, o.lockKey())
	if err != nil {
		return c.fail(err)
	}
	if !ok {
		return c.skip("another cycle is running")
	}
	defer unlock()

	c.to(FeedbackCheck)
	examples := []domain.FeedbackExample{}
	for ex, err := range o.feedback.Unconsumed(ctx) {
		if err != nil {
			return c.fail(err)
		}
		examples = append(examples, ex)
	}
	c.out.FeedbackCount = len(examples)

	if len(examples) < o.config.MinFeedback {
		c.to(AbortInsufficient)
		return c.skip(fmt.Sprintf(
			"%s: %d < %d", domerr.ErrInsufficientFeedback, len(examples), o.config.MinFeedback,
		))
	}

	return o.train(ctx, c, examples)
}

// Bootstrap trains a model with the base dataset only, and promotes it.
//
// If the alias already points a version, it does nothing and returns Skipped.
func (o *Orchestrator) Bootstrap(ctx context.Context) (Outcome, error) {
	c := o.begin()

	unlock, ok, err := o.locker.TryLock(ctx, o.lockKey())
	if err != nil {
		return c.fail(err)
	}
	if !ok {
		return c.skip("another cycle is running")
	}
	defer unlock()

	mv, err := o.registry.Resolve(ctx, o.config.ModelName, o.config.Alias)
	if err == nil {
		c.out.IncumbentVersion = mv.Version
		return c.skip(fmt.Sprintf("%s@%s is bound to version %d already", mv.Name, o.config.Alias, mv.Version))
	} else if !errors.Is(err, domerr.ErrNotFound) {
		return c.fail(err)
	}

	return o.train(ctx, c, nil)
}

func (o *Orchestrator) lockKey() string {
	return "mlserve/retrain/" + o.config.ModelName
}

func (o *Orchestrator) train(ctx context.Context, c *cycle, examples []domain.FeedbackExample) (Outcome, error) {
	c.to(Training)

	// configuration errors are found before touching the registry.
	cfg, err := o.source(ctx)
	if err != nil {
		return c.fail(err)
	}
	challenger, err := o.build(cfg)
	if err != nil {
		return c.fail(err)
	}
	split, err := o.assembler.Assemble(ctx, examples)
	if err != nil {
		return c.fail(err)
	}

	var incumbent pipeline.Model
	mv, err := o.registry.Resolve(ctx, o.config.ModelName, o.config.Alias)
	switch {
	case errors.Is(err, domerr.ErrNotFound):
		c.out.Bootstrap = true
	case err != nil:
		return c.fail(err)
	default:
		c.out.IncumbentVersion = mv.Version
		if incumbent, err = o.registry.LoadPipeline(ctx, mv); err != nil {
			return c.fail(err)
		}
	}

	if err := challenger.Fit(ctx, split.Train.Names, split.Train.Matrix(), split.Train.Targets); err != nil {
		return c.fail(err)
	}

	c.to(Evaluating)
	testX := split.Test.Matrix()
	challengerRMSE, err := pipeline.Evaluate(challenger, testX, split.Test.Targets)
	if err != nil {
		return c.fail(err)
	}
	c.out.ChallengerRMSE = &challengerRMSE

	metrics := map[string]float64{
		"rmse":           challengerRMSE,
		"train_size":     float64(split.Train.Len()),
		"test_size":      float64(split.Test.Len()),
		"feedback_count": float64(len(examples)),
	}

	promote := c.out.Bootstrap
	if incumbent != nil {
		incumbentRMSE, err := pipeline.Evaluate(incumbent, testX, split.Test.Targets)
		if err != nil {
			return c.fail(err)
		}
		c.out.IncumbentRMSE = &incumbentRMSE
		metrics["incumbent_rmse"] = incumbentRMSE
		promote = incumbentRMSE-challengerRMSE >= o.config.MinImprovementDelta
	}

	// cancelled cycle leaves the registry as it was.
	if err := ctx.Err(); err != nil {
		return c.fail(err)
	}

	run := registry.Run{Model: challenger, Metrics: metrics, Config: cfg}
	if promote {
		return o.promote(ctx, c, run, domain.FeedbackIds(examples))
	}
	return o.discard(ctx, c, run)
}

func (o *Orchestrator) promote(ctx context.Context, c *cycle, run registry.Run, ids []int64) (Outcome, error) {
	c.to(Promoting)

	// once started, promotion runs through.
	ctx = context.WithoutCancel(ctx)

	runId, err := o.registry.Publish(ctx, run)
	if err != nil {
		return c.fail(err)
	}
	c.out.RunId = runId

	mv, err := o.registry.Register(ctx, o.config.ModelName, runId)
	if err != nil {
		return c.fail(err)
	}
	if err := o.registry.Promote(ctx, o.config.ModelName, mv.Version, o.config.Alias); err != nil {
		return c.fail(err)
	}
	c.out.Version = mv.Version

	if len(ids) != 0 {
		if err := o.feedback.MarkConsumed(ctx, ids, runId); err != nil {
			return c.fail(err)
		}
	}

	c.out.Kind = KindPromoted
	if c.out.Bootstrap {
		c.out.Reason = "no version is bound to the alias"
	} else {
		d, _ := c.out.Improvement()
		c.out.Reason = fmt.Sprintf("improvement %g >= %g", d, o.config.MinImprovementDelta)
	}
	o.logger.Printf(
		"%s version %d (run %s) is promoted to %s: %s",
		o.config.ModelName, mv.Version, runId, o.config.Alias, c.out.Reason,
	)
	return c.finish(), nil
}

func (o *Orchestrator) discard(ctx context.Context, c *cycle, run registry.Run) (Outcome, error) {
	c.to(Discarding)

	if o.config.PublishDiscarded {
		runId, err := o.registry.Publish(ctx, run)
		if err != nil {
			return c.fail(err)
		}
		c.out.RunId = runId
	}

	d, _ := c.out.Improvement()
	c.out.Kind = KindDiscarded
	c.out.Reason = fmt.Sprintf("improvement %g < %g", d, o.config.MinImprovementDelta)
	o.logger.Printf("challenger for %s is discarded: %s", o.config.ModelName, c.out.Reason)
	return c.finish(), nil
}
