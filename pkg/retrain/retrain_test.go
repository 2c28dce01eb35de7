package retrain_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"slices"
	"testing"

	"github.com/opst/mlserve/pkg/configs/training"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	fbmock "github.com/opst/mlserve/pkg/domain/feedback/db/mock"
	"github.com/opst/mlserve/pkg/domain/registry"
	regmock "github.com/opst/mlserve/pkg/domain/registry/mock"
	"github.com/opst/mlserve/pkg/lock"
	"github.com/opst/mlserve/pkg/ml/dataset"
	"github.com/opst/mlserve/pkg/ml/pipeline"
	"github.com/opst/mlserve/pkg/retrain"
	"gonum.org/v1/gonum/mat"
)

const modelName = "housing"

// constModel predicts a constant. Evaluated on zero targets, its RMSE is the constant.
type constModel struct {
	value float64
	fit   func(ctx context.Context) error
}

func (c *constModel) Predict(X mat.Matrix) ([]float64, error) {
	r, _ := X.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = c.value
	}
	return out, nil
}

func (c *constModel) Fit(ctx context.Context, _ []string, _ mat.Matrix, _ []float64) error {
	if c.fit == nil {
		return nil
	}
	return c.fit(ctx)
}

type assembler struct {
	calls [][]domain.FeedbackExample
}

func (a *assembler) Assemble(_ context.Context, examples []domain.FeedbackExample) (dataset.Split, error) {
	a.calls = append(a.calls, examples)
	names := []string{"x"}
	return dataset.Split{
		Train: dataset.Table{Names: names, Rows: [][]float64{{1}, {2}}, Targets: []float64{0, 0}},
		Test:  dataset.Table{Names: names, Rows: [][]float64{{1}, {2}, {3}, {4}}, Targets: []float64{0, 0, 0, 0}},
	}, nil
}

// world is registry and feedback store on memory.
type world struct {
	versions []domain.ModelVersion
	alias    map[string]int
	models   map[string]pipeline.Model
	runs     map[string]registry.Run
	feedback []domain.FeedbackExample
	consumed map[int64]string

	// names of mutating calls, in order.
	calls []string

	registry *regmock.Registry
	db       *fbmock.MockFeedbackInterface
}

func newWorld(nFeedback int) *world {
	w := &world{
		alias:    map[string]int{},
		models:   map[string]pipeline.Model{},
		runs:     map[string]registry.Run{},
		consumed: map[int64]string{},
	}
	for i := range nFeedback {
		w.feedback = append(w.feedback, domain.FeedbackExample{
			Record: domain.FeedbackRecord{Id: int64(i + 1), PredictionId: int64(100 + i), Feedback: 1},
			Input:  domain.Features{{Name: "x", Value: float64(i)}},
			Target: 1,
		})
	}

	reg := regmock.New()
	reg.Impl.Resolve = func(_ context.Context, name string, alias string) (domain.ModelVersion, error) {
		v, ok := w.alias[alias]
		if !ok {
			return domain.ModelVersion{}, domerr.Missing{Table: "model_alias", Identity: name + "@" + alias}
		}
		return w.versions[v-1], nil
	}
	reg.Impl.LoadPipeline = func(_ context.Context, mv domain.ModelVersion) (pipeline.Model, error) {
		m, ok := w.models[mv.RunId]
		if !ok {
			return nil, domerr.ArtifactMissing{RunId: mv.RunId, Path: registry.ModelArtifact}
		}
		return m, nil
	}
	reg.Impl.Publish = func(_ context.Context, run registry.Run) (string, error) {
		w.calls = append(w.calls, "publish")
		id := fmt.Sprintf("run-%d", len(w.runs)+1)
		w.runs[id] = run
		w.models[id] = run.Model
		return id, nil
	}
	reg.Impl.Register = func(_ context.Context, name string, runId string) (domain.ModelVersion, error) {
		w.calls = append(w.calls, "register")
		mv := domain.ModelVersion{Name: name, Version: len(w.versions) + 1, RunId: runId}
		w.versions = append(w.versions, mv)
		return mv, nil
	}
	reg.Impl.Promote = func(_ context.Context, name string, version int, alias string) error {
		w.calls = append(w.calls, "promote")
		if version < 1 || len(w.versions) < version {
			return domerr.Missing{Table: "model_version", Identity: fmt.Sprint(version)}
		}
		w.alias[alias] = version
		return nil
	}

	db := fbmock.NewMockFeedbackInterface()
	db.Impl.Unconsumed = func(ctx context.Context) iter.Seq2[domain.FeedbackExample, error] {
		rest := []domain.FeedbackExample{}
		for _, ex := range w.feedback {
			if _, ok := w.consumed[ex.Record.Id]; !ok {
				rest = append(rest, ex)
			}
		}
		return fbmock.Examples(rest...)(ctx)
	}
	db.Impl.MarkConsumed = func(_ context.Context, ids []int64, runId string) error {
		w.calls = append(w.calls, "mark")
		for _, id := range ids {
			if _, ok := w.consumed[id]; ok {
				return domerr.ErrConflict
			}
		}
		for _, id := range ids {
			w.consumed[id] = runId
		}
		return nil
	}

	w.registry = reg
	w.db = db
	return w
}

// withIncumbent registers a constant model as version 1, and binds the alias to it.
func (w *world) withIncumbent(value float64) *world {
	w.versions = append(w.versions, domain.ModelVersion{Name: modelName, Version: 1, RunId: "run-0"})
	w.models["run-0"] = &constModel{value: value}
	w.alias[domain.ProductionAlias] = 1
	return w
}

func config() retrain.Config {
	return retrain.DefaultConfig(modelName)
}

func source(context.Context) (domain.TrainingConfig, error) {
	return domain.TrainingConfig{Model: domain.DefaultLinearRegression()}, nil
}

func challenger(value float64) retrain.Option {
	return retrain.WithBuilder(func(domain.TrainingConfig) (retrain.Trainable, error) {
		return &constModel{value: value}, nil
	})
}

func quiet() retrain.Option {
	return retrain.WithLogger(log.New(io.Discard, "", 0))
}

type transition struct {
	from retrain.State
	to   retrain.State
}

func recorder(into *[]transition) retrain.Option {
	return retrain.WithObserver(func(from, to retrain.State, _ retrain.Outcome) {
		*into = append(*into, transition{from: from, to: to})
	})
}

func TestCycle_InsufficientFeedback(t *testing.T) {
	w := newWorld(9).withIncumbent(2.5)
	asm := &assembler{}
	transitions := []transition{}

	testee := retrain.New(
		config(), w.db, w.registry, asm,
		func(context.Context) (domain.TrainingConfig, error) {
			t.Fatal("training config should not be loaded")
			return domain.TrainingConfig{}, nil
		},
		challenger(0), quiet(), recorder(&transitions),
	)

	got, err := testee.Cycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != retrain.KindSkipped {
		t.Errorf("kind: %s", got)
	}
	if got.FeedbackCount != 9 {
		t.Errorf("feedback count: %d", got.FeedbackCount)
	}
	if len(w.calls) != 0 || len(asm.calls) != 0 {
		t.Errorf("something is changed: calls=%v, assembled=%d", w.calls, len(asm.calls))
	}
	if w.alias[domain.ProductionAlias] != 1 {
		t.Errorf("alias is moved")
	}

	want := []transition{
		{retrain.Idle, retrain.FeedbackCheck},
		{retrain.FeedbackCheck, retrain.AbortInsufficient},
		{retrain.AbortInsufficient, retrain.Idle},
	}
	if !slices.Equal(transitions, want) {
		t.Errorf("transitions:\n===actual===\n%v\n===expected===\n%v", transitions, want)
	}
}

func TestCycle_Promotes(t *testing.T) {
	w := newWorld(12).withIncumbent(2.5)
	asm := &assembler{}
	transitions := []transition{}

	testee := retrain.New(config(), w.db, w.registry, asm, source, challenger(2.0), quiet(), recorder(&transitions))

	got, err := testee.Cycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Kind != retrain.KindPromoted || got.Version != 2 || got.IncumbentVersion != 1 || got.Bootstrap {
		t.Errorf("outcome: %s", got)
	}
	if d, ok := got.Improvement(); !ok || d != 0.5 {
		t.Errorf("improvement: %v, %v", d, ok)
	}
	if w.alias[domain.ProductionAlias] != 2 {
		t.Errorf("alias points %d", w.alias[domain.ProductionAlias])
	}

	if want := []string{"publish", "register", "promote", "mark"}; !slices.Equal(w.calls, want) {
		t.Errorf("calls: %v, want %v", w.calls, want)
	}

	if len(w.consumed) != 12 {
		t.Errorf("consumed: %d", len(w.consumed))
	}
	for id, runId := range w.consumed {
		if runId != got.RunId {
			t.Errorf("feedback %d is consumed by %s, want %s", id, runId, got.RunId)
		}
	}

	if len(asm.calls) != 1 || len(asm.calls[0]) != 12 {
		t.Errorf("assembled with unexpected feedback: %v", asm.calls)
	}

	run := w.runs[got.RunId]
	for name, want := range map[string]float64{
		"rmse":           2.0,
		"incumbent_rmse": 2.5,
		"feedback_count": 12,
		"train_size":     2,
		"test_size":      4,
	} {
		if run.Metrics[name] != want {
			t.Errorf("metric %s = %v, want %v", name, run.Metrics[name], want)
		}
	}

	wantTransitions := []transition{
		{retrain.Idle, retrain.FeedbackCheck},
		{retrain.FeedbackCheck, retrain.Training},
		{retrain.Training, retrain.Evaluating},
		{retrain.Evaluating, retrain.Promoting},
		{retrain.Promoting, retrain.Idle},
	}
	if !slices.Equal(transitions, wantTransitions) {
		t.Errorf("transitions:\n===actual===\n%v\n===expected===\n%v", transitions, wantTransitions)
	}
}

func TestCycle_Decision(t *testing.T) {
	type when struct {
		incumbent        float64
		challenger       float64
		delta            float64
		publishDiscarded bool
	}
	type then struct {
		kind  retrain.OutcomeKind
		calls []string
	}

	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			w := newWorld(12).withIncumbent(when.incumbent)
			conf := config()
			conf.MinImprovementDelta = when.delta
			conf.PublishDiscarded = when.publishDiscarded

			testee := retrain.New(conf, w.db, w.registry, &assembler{}, source, challenger(when.challenger), quiet())
			got, err := testee.Cycle(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind != then.kind {
				t.Errorf("kind: %s", got)
			}
			if !slices.Equal(w.calls, then.calls) {
				t.Errorf("calls: %v, want %v", w.calls, then.calls)
			}

			if then.kind == retrain.KindDiscarded {
				if w.alias[domain.ProductionAlias] != 1 {
					t.Errorf("alias is moved")
				}
				if len(w.consumed) != 0 {
					t.Errorf("feedback are consumed: %v", w.consumed)
				}
				if got.Version != 0 {
					t.Errorf("version: %d", got.Version)
				}
			}
		}
	}

	t.Run("better enough challenger is promoted", theory(
		when{incumbent: 2.5, challenger: 2.0, delta: 0.01, publishDiscarded: true},
		then{kind: retrain.KindPromoted, calls: []string{"publish", "register", "promote", "mark"}},
	))
	t.Run("improvement just at the threshold is promoted", theory(
		when{incumbent: 2.5, challenger: 2.25, delta: 0.25, publishDiscarded: true},
		then{kind: retrain.KindPromoted, calls: []string{"publish", "register", "promote", "mark"}},
	))
	t.Run("improvement below the threshold is discarded", theory(
		when{incumbent: 2.5, challenger: 2.495, delta: 0.01, publishDiscarded: true},
		then{kind: retrain.KindDiscarded, calls: []string{"publish"}},
	))
	t.Run("improvement of 2.5 to 2.49 falls short of 0.01 in float64, and is discarded", theory(
		when{incumbent: 2.5, challenger: 2.49, delta: 0.01, publishDiscarded: true},
		then{kind: retrain.KindDiscarded, calls: []string{"publish"}},
	))
	t.Run("tie is discarded", theory(
		when{incumbent: 2.5, challenger: 2.5, delta: 0.01, publishDiscarded: true},
		then{kind: retrain.KindDiscarded, calls: []string{"publish"}},
	))
	t.Run("worse challenger is discarded", theory(
		when{incumbent: 2.5, challenger: 3.0, delta: 0.01, publishDiscarded: true},
		then{kind: retrain.KindDiscarded, calls: []string{"publish"}},
	))
	t.Run("discarded challenger is not recorded when it is not wanted", theory(
		when{incumbent: 2.5, challenger: 3.0, delta: 0.01, publishDiscarded: false},
		then{kind: retrain.KindDiscarded, calls: []string{}},
	))
}

func TestCycle_WithoutIncumbent(t *testing.T) {
	w := newWorld(12)

	testee := retrain.New(config(), w.db, w.registry, &assembler{}, source, challenger(100), quiet())
	got, err := testee.Cycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Kind != retrain.KindPromoted || !got.Bootstrap || got.Version != 1 {
		t.Errorf("outcome: %s", got)
	}
	if got.IncumbentRMSE != nil {
		t.Errorf("incumbent rmse: %v", *got.IncumbentRMSE)
	}
	if w.alias[domain.ProductionAlias] != 1 {
		t.Errorf("alias points %d", w.alias[domain.ProductionAlias])
	}
	if len(w.consumed) != 12 {
		t.Errorf("consumed: %d", len(w.consumed))
	}
	if _, ok := w.runs[got.RunId].Metrics["incumbent_rmse"]; ok {
		t.Errorf("incumbent_rmse is recorded")
	}
}

func TestCycle_SecondRunIsSkipped(t *testing.T) {
	w := newWorld(12).withIncumbent(2.5)
	testee := retrain.New(config(), w.db, w.registry, &assembler{}, source, challenger(2.0), quiet())

	first, err := testee.Cycle(context.Background())
	if err != nil || first.Kind != retrain.KindPromoted {
		t.Fatalf("first cycle: %s, %v", first, err)
	}
	calls := slices.Clone(w.calls)

	second, err := testee.Cycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Kind != retrain.KindSkipped || second.FeedbackCount != 0 {
		t.Errorf("second cycle: %s", second)
	}
	if !slices.Equal(w.calls, calls) {
		t.Errorf("registry is changed: %v -> %v", calls, w.calls)
	}
	if w.alias[domain.ProductionAlias] != 2 {
		t.Errorf("alias points %d", w.alias[domain.ProductionAlias])
	}
}

func TestCycle_Failures(t *testing.T) {
	type when struct {
		source  training.Source
		builder retrain.Builder
		prepare func(*world)
	}
	type then struct {
		err       error
		errorKind string
		state     retrain.State // where the cycle has failed
	}

	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			w := newWorld(12).withIncumbent(2.5)
			if when.prepare != nil {
				when.prepare(w)
			}
			src := when.source
			if src == nil {
				src = source
			}
			opts := []retrain.Option{quiet(), challenger(2.0)}
			if when.builder != nil {
				opts = append(opts, retrain.WithBuilder(when.builder))
			}
			failedAt := retrain.Idle
			opts = append(opts, retrain.WithObserver(func(from, to retrain.State, _ retrain.Outcome) {
				if to == retrain.Failed {
					failedAt = from
				}
			}))

			testee := retrain.New(config(), w.db, w.registry, &assembler{}, src, opts...)
			got, err := testee.Cycle(context.Background())

			if !errors.Is(err, then.err) {
				t.Fatalf("error: %v, want %v", err, then.err)
			}
			if got.Kind != retrain.KindFailed || got.ErrorKind != then.errorKind {
				t.Errorf("outcome: %s", got)
			}
			if failedAt != then.state {
				t.Errorf("failed at %s, want %s", failedAt, then.state)
			}
			if len(w.calls) != 0 {
				t.Errorf("registry is changed: %v", w.calls)
			}
			if w.alias[domain.ProductionAlias] != 1 {
				t.Errorf("alias is moved")
			}
			if len(w.consumed) != 0 {
				t.Errorf("feedback are consumed")
			}
		}
	}

	t.Run("unsupported model", theory(
		when{
			source: func(context.Context) (domain.TrainingConfig, error) {
				return training.Unmarshal([]byte("model:\n  type: svm\n"))
			},
		},
		then{err: domerr.ErrUnsupportedModel, errorKind: "unsupported-model", state: retrain.Training},
	))
	t.Run("invalid hyperparameter", theory(
		when{
			builder: func(domain.TrainingConfig) (retrain.Trainable, error) {
				return nil, fmt.Errorf("n_estimators: %w", domerr.ErrInvalidConfig)
			},
		},
		then{err: domerr.ErrInvalidConfig, errorKind: "invalid-config", state: retrain.Training},
	))
	t.Run("incumbent artifact is missing", theory(
		when{prepare: func(w *world) { delete(w.models, "run-0") }},
		then{err: domerr.ErrArtifactMissing, errorKind: "artifact-missing", state: retrain.Training},
	))
	errFit := errors.New("singular")
	t.Run("fitting fails", theory(
		when{
			builder: func(domain.TrainingConfig) (retrain.Trainable, error) {
				return &constModel{fit: func(context.Context) error { return errFit }}, nil
			},
		},
		then{err: errFit, errorKind: "transient", state: retrain.Training},
	))
}

func TestCycle_Cancelled(t *testing.T) {
	w := newWorld(12).withIncumbent(2.5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testee := retrain.New(
		config(), w.db, w.registry, &assembler{}, source, quiet(),
		retrain.WithBuilder(func(domain.TrainingConfig) (retrain.Trainable, error) {
			return &constModel{value: 0, fit: func(context.Context) error {
				// cancelled while training, but the model is fitted.
				cancel()
				return nil
			}}, nil
		}),
	)

	got, err := testee.Cycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error: %v", err)
	}
	if got.Kind != retrain.KindFailed || got.ErrorKind != "canceled" {
		t.Errorf("outcome: %s", got)
	}
	if len(w.calls) != 0 || len(w.consumed) != 0 || w.alias[domain.ProductionAlias] != 1 {
		t.Errorf("something is changed: %v", w.calls)
	}
}

func TestCycle_MarkingFails(t *testing.T) {
	w := newWorld(12).withIncumbent(2.5)
	errDB := errors.New("connection reset")
	aliasWhenMarking := 0
	w.db.Impl.MarkConsumed = func(context.Context, []int64, string) error {
		aliasWhenMarking = w.alias[domain.ProductionAlias]
		return errDB
	}

	testee := retrain.New(config(), w.db, w.registry, &assembler{}, source, challenger(2.0), quiet())
	got, err := testee.Cycle(context.Background())
	if !errors.Is(err, errDB) {
		t.Fatalf("error: %v", err)
	}
	if aliasWhenMarking != 2 {
		t.Errorf("alias is %d when marking feedback", aliasWhenMarking)
	}
	if got.Kind != retrain.KindFailed || got.Version != 2 {
		t.Errorf("outcome: %s", got)
	}

	// feedback are left unconsumed, and used in the next cycle.
	w.db.Impl.MarkConsumed = nil
	testee2 := retrain.New(config(), newWorldFeedbackOnly(w), w.registry, &assembler{}, source, challenger(2.0), quiet())
	next, err := testee2.Cycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.FeedbackCount != 12 {
		t.Errorf("feedback count: %d", next.FeedbackCount)
	}
	// incumbent is the promoted challenger, so there is no improvement.
	if next.Kind != retrain.KindDiscarded || next.IncumbentVersion != 2 {
		t.Errorf("next outcome: %s", next)
	}
}

// newWorldFeedbackOnly is a feedback store which shares records with w, and can mark them.
func newWorldFeedbackOnly(w *world) *fbmock.MockFeedbackInterface {
	db := fbmock.NewMockFeedbackInterface()
	db.Impl.Unconsumed = fbmock.Examples(w.feedback...)
	db.Impl.MarkConsumed = func(context.Context, []int64, string) error { return nil }
	return db
}

func TestCycle_Locked(t *testing.T) {
	w := newWorld(12).withIncumbent(2.5)
	w.db.Impl.Unconsumed = nil // not to be called

	locker := lock.Local()
	unlock, ok, err := locker.TryLock(context.Background(), "mlserve/retrain/"+modelName)
	if err != nil || !ok {
		t.Fatalf("cannot take lock: %v, %v", ok, err)
	}
	defer unlock()

	testee := retrain.New(
		config(), w.db, w.registry, &assembler{}, source, challenger(2.0), quiet(),
		retrain.WithLocker(locker),
	)
	got, err := testee.Cycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != retrain.KindSkipped {
		t.Errorf("outcome: %s", got)
	}
	if len(w.calls) != 0 {
		t.Errorf("registry is changed: %v", w.calls)
	}
}

func TestBootstrap(t *testing.T) {
	t.Run("when no version is bound, it trains with base dataset and promotes", func(t *testing.T) {
		w := newWorld(3)
		asm := &assembler{}
		testee := retrain.New(config(), w.db, w.registry, asm, source, challenger(0.7), quiet())

		got, err := testee.Bootstrap(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Kind != retrain.KindPromoted || !got.Bootstrap || got.Version != 1 {
			t.Errorf("outcome: %s", got)
		}
		if want := []string{"publish", "register", "promote"}; !slices.Equal(w.calls, want) {
			t.Errorf("calls: %v, want %v", w.calls, want)
		}
		if len(asm.calls) != 1 || len(asm.calls[0]) != 0 {
			t.Errorf("assembled with feedback: %v", asm.calls)
		}
		if len(w.consumed) != 0 {
			t.Errorf("feedback are consumed: %v", w.consumed)
		}
	})

	t.Run("when a version is bound already, it does nothing", func(t *testing.T) {
		w := newWorld(3).withIncumbent(2.5)
		asm := &assembler{}
		testee := retrain.New(config(), w.db, w.registry, asm, source, challenger(0.7), quiet())

		got, err := testee.Bootstrap(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Kind != retrain.KindSkipped || got.IncumbentVersion != 1 {
			t.Errorf("outcome: %s", got)
		}
		if len(w.calls) != 0 || len(asm.calls) != 0 {
			t.Errorf("something is done: %v", w.calls)
		}
	})
}

func TestState_String(t *testing.T) {
	for s, want := range map[retrain.State]string{
		retrain.Idle:              "idle",
		retrain.FeedbackCheck:     "feedback-check",
		retrain.AbortInsufficient: "abort-insufficient",
		retrain.Training:          "training",
		retrain.Evaluating:        "evaluating",
		retrain.Promoting:         "promoting",
		retrain.Discarding:        "discarding",
		retrain.Failed:            "failed",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d: %s, want %s", s, got, want)
		}
	}
}
