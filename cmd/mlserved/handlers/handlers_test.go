package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opst/mlserve/cmd/mlserved/handlers"
	httptestutil "github.com/opst/mlserve/internal/testutils/http"
	apierr "github.com/opst/mlserve/pkg/api/types/errors"
	apipred "github.com/opst/mlserve/pkg/api/types/predictions"
	"github.com/opst/mlserve/pkg/auth"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	fbmock "github.com/opst/mlserve/pkg/domain/feedback/db/mock"
	"github.com/opst/mlserve/pkg/echoutil"
	"github.com/opst/mlserve/pkg/serving"
	"github.com/opst/mlserve/pkg/utils/try"
)

type mockPredictor struct {
	Impl struct {
		Predict   func(context.Context, domain.Features) (serving.Prediction, error)
		ModelInfo func(context.Context) (domain.ModelInfo, error)
	}
}

func (m *mockPredictor) Predict(ctx context.Context, sample domain.Features) (serving.Prediction, error) {
	if m.Impl.Predict == nil {
		return serving.Prediction{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Predict(ctx, sample)
}

func (m *mockPredictor) ModelInfo(ctx context.Context) (domain.ModelInfo, error) {
	if m.Impl.ModelInfo == nil {
		return domain.ModelInfo{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.ModelInfo(ctx)
}

type counter struct {
	failed   int
	feedback []string
}

func (c *counter) PredictionFailed()      { c.failed++ }
func (c *counter) Feedback(result string) { c.feedback = append(c.feedback, result) }

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = echoutil.NewValidator()
	return e
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	herr := new(echo.HTTPError)
	if !errors.As(err, &herr) {
		t.Fatalf("unmatch: error type: %+v is not echo.HTTPError", err)
	}
	return herr.Code
}

func TestPredictHandler(t *testing.T) {
	t.Run("it responds the prediction with its id and model", func(t *testing.T) {
		predictor := &mockPredictor{}
		var got domain.Features
		predictor.Impl.Predict = func(_ context.Context, sample domain.Features) (serving.Prediction, error) {
			got = sample
			return serving.Prediction{
				Record: domain.PredictionRecord{
					Id: 42, Prediction: 2.5,
					ModelName: "mlserve-housing-regressor", ModelVersion: "3",
				},
				Metadata: map[string]any{"type": "random_forest"},
			}, nil
		}
		obs := &counter{}

		e := newEcho()
		c, respRec := httptestutil.Post(
			e, "/api/predict", strings.NewReader(`{"MedInc": 8.3, "HouseAge": 41}`),
			httptestutil.ContentType(echo.MIMEApplicationJSON),
		)
		if err := handlers.PredictHandler(predictor, obs)(c); err != nil {
			t.Fatal(err)
		}

		want := domain.Features{{Name: "MedInc", Value: 8.3}, {Name: "HouseAge", Value: 41}}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("sample: %v", got)
		}
		if respRec.Code != http.StatusOK {
			t.Errorf("status code: %d", respRec.Code)
		}
		actual := apipred.PredictionResponse{}
		try.To(0, json.Unmarshal(respRec.Body.Bytes(), &actual)).OrFatal(t)
		if actual.PredictionId != 42 || actual.Prediction != 2.5 ||
			actual.ModelName != "mlserve-housing-regressor" || actual.ModelVersion != "3" ||
			actual.ModelMetadata["type"] != "random_forest" {
			t.Errorf("body: %+v", actual)
		}
		if obs.failed != 0 {
			t.Errorf("failures are counted: %d", obs.failed)
		}
	})

	type when struct {
		body string
		err  error
	}
	type then struct {
		status int
		failed int
	}
	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			predictor := &mockPredictor{}
			predictor.Impl.Predict = func(context.Context, domain.Features) (serving.Prediction, error) {
				return serving.Prediction{}, when.err
			}
			obs := &counter{}

			e := newEcho()
			c, _ := httptestutil.Post(
				e, "/api/predict", strings.NewReader(when.body),
				httptestutil.ContentType(echo.MIMEApplicationJSON),
			)
			err := handlers.PredictHandler(predictor, obs)(c)
			if got := statusOf(t, err); got != then.status {
				t.Errorf("status: %d, want %d", got, then.status)
			}
			if obs.failed != then.failed {
				t.Errorf("failed: %d, want %d", obs.failed, then.failed)
			}
		}
	}

	t.Run("it rejects non-object body", theory(
		when{body: `[1, 2]`}, then{status: http.StatusBadRequest},
	))
	t.Run("it rejects empty features", theory(
		when{body: `{}`}, then{status: http.StatusBadRequest},
	))
	t.Run("it responds 422 on schema mismatch", theory(
		when{body: `{"x": 1}`, err: domerr.ErrSchemaMismatch},
		then{status: http.StatusUnprocessableEntity, failed: 1},
	))
	t.Run("it responds 503 when no model is serving", theory(
		when{body: `{"x": 1}`, err: domerr.Missing{Table: "model alias", Identity: "production"}},
		then{status: http.StatusServiceUnavailable, failed: 1},
	))
	t.Run("it responds 500 on unexpected errors", theory(
		when{body: `{"x": 1}`, err: errors.New("fake error")},
		then{status: http.StatusInternalServerError, failed: 1},
	))
}

func TestModelInfoHandler(t *testing.T) {
	created := try.To(time.Parse(time.RFC3339, "2025-01-02T03:04:05Z")).OrFatal(t)

	t.Run("it responds the serving model with its config", func(t *testing.T) {
		predictor := &mockPredictor{}
		predictor.Impl.ModelInfo = func(context.Context) (domain.ModelInfo, error) {
			return domain.ModelInfo{
				ModelVersion: domain.ModelVersion{
					Name: "mlserve-housing-regressor", Version: 7, RunId: "run-7", CreatedAt: created,
				},
				Config: &domain.TrainingConfig{
					Document: []byte("model:\n  type: linear_regression\n"),
				},
			}, nil
		}

		e := newEcho()
		c, respRec := httptestutil.Get(e, "/api/model-info")
		if err := handlers.ModelInfoHandler(predictor)(c); err != nil {
			t.Fatal(err)
		}

		actual := apipred.ModelInfoResponse{}
		try.To(0, json.Unmarshal(respRec.Body.Bytes(), &actual)).OrFatal(t)
		if actual.Name != "mlserve-housing-regressor" || actual.Version != "7" ||
			actual.RunId != "run-7" || actual.CreationTime != "2025-01-02T03:04:05Z" {
			t.Errorf("body: %+v", actual)
		}
		model, ok := actual.Config["model"].(map[string]any)
		if !ok || model["type"] != "linear_regression" {
			t.Errorf("config: %+v", actual.Config)
		}
	})

	t.Run("it responds null config when it is missing", func(t *testing.T) {
		predictor := &mockPredictor{}
		predictor.Impl.ModelInfo = func(context.Context) (domain.ModelInfo, error) {
			return domain.ModelInfo{
				ModelVersion: domain.ModelVersion{Name: "m", Version: 1, RunId: "run-1", CreatedAt: created},
			}, nil
		}

		e := newEcho()
		c, respRec := httptestutil.Get(e, "/api/model-info")
		if err := handlers.ModelInfoHandler(predictor)(c); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(respRec.Body.String(), `"config":null`) {
			t.Errorf("body: %s", respRec.Body.String())
		}
	})

	t.Run("it responds 503 when the alias is unbound", func(t *testing.T) {
		predictor := &mockPredictor{}
		predictor.Impl.ModelInfo = func(context.Context) (domain.ModelInfo, error) {
			return domain.ModelInfo{}, domerr.ErrNotFound
		}

		e := newEcho()
		c, _ := httptestutil.Get(e, "/api/model-info")
		err := handlers.ModelInfoHandler(predictor)(c)
		if got := statusOf(t, err); got != http.StatusServiceUnavailable {
			t.Errorf("status: %d", got)
		}
	})
}

func TestFeedbackHandler(t *testing.T) {
	t.Run("it records feedback of a prediction", func(t *testing.T) {
		feedback := fbmock.NewMockFeedbackInterface()
		type submitted struct {
			id    int64
			value float64
		}
		var got []submitted
		feedback.Impl.Submit = func(_ context.Context, predictionId int64, value float64) (domain.FeedbackRecord, error) {
			got = append(got, submitted{predictionId, value})
			return domain.FeedbackRecord{Id: 9, PredictionId: predictionId, Feedback: value}, nil
		}
		obs := &counter{}

		e := newEcho()
		c, respRec := httptestutil.Post(
			e, "/api/feedback", strings.NewReader(`{"prediction_id": 42, "feedback": 0}`),
			httptestutil.ContentType(echo.MIMEApplicationJSON),
		)
		if err := handlers.FeedbackHandler(feedback, obs)(c); err != nil {
			t.Fatal(err)
		}

		if len(got) != 1 || got[0] != (submitted{42, 0}) {
			t.Errorf("submitted: %+v", got)
		}
		actual := apipred.FeedbackResponse{}
		try.To(0, json.Unmarshal(respRec.Body.Bytes(), &actual)).OrFatal(t)
		if actual != (apipred.FeedbackResponse{Id: 9, PredictionId: 42, Feedback: 0}) {
			t.Errorf("body: %+v", actual)
		}
		if len(obs.feedback) != 1 || obs.feedback[0] != "ok" {
			t.Errorf("observed: %v", obs.feedback)
		}
	})

	type when struct {
		body string
		err  error
	}
	type then struct {
		status   int
		observed string
		reason   string
	}
	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			feedback := fbmock.NewMockFeedbackInterface()
			feedback.Impl.Submit = func(context.Context, int64, float64) (domain.FeedbackRecord, error) {
				return domain.FeedbackRecord{}, when.err
			}
			obs := &counter{}

			e := newEcho()
			c, _ := httptestutil.Post(
				e, "/api/feedback", strings.NewReader(when.body),
				httptestutil.ContentType(echo.MIMEApplicationJSON),
			)
			err := handlers.FeedbackHandler(feedback, obs)(c)
			if got := statusOf(t, err); got != then.status {
				t.Errorf("status: %d, want %d", got, then.status)
			}
			if len(obs.feedback) != 1 || obs.feedback[0] != then.observed {
				t.Errorf("observed: %v", obs.feedback)
			}
			if then.reason != "" {
				msg := apierr.ErrorMessage{}
				if !errors.As(err, &msg) || msg.Reason != then.reason {
					t.Errorf("reason: %+v", msg)
				}
			}
		}
	}

	t.Run("it responds 404 for unknown prediction", theory(
		when{
			body: `{"prediction_id": 404, "feedback": 1.5}`,
			err:  domerr.Missing{Table: "predictions", Identity: "404"},
		},
		then{
			status: http.StatusNotFound, observed: "not-found",
			reason: "Prediction with id 404 not found",
		},
	))
	t.Run("it rejects missing feedback", theory(
		when{body: `{"prediction_id": 1}`},
		then{status: http.StatusBadRequest, observed: "invalid"},
	))
	t.Run("it rejects non-positive prediction id", theory(
		when{body: `{"prediction_id": 0, "feedback": 1}`},
		then{status: http.StatusBadRequest, observed: "invalid"},
	))
	t.Run("it rejects malformed body", theory(
		when{body: `{"prediction_id": `},
		then{status: http.StatusBadRequest, observed: "invalid"},
	))
	t.Run("it responds 500 on unexpected errors", theory(
		when{body: `{"prediction_id": 1, "feedback": 1}`, err: errors.New("fake error")},
		then{status: http.StatusInternalServerError, observed: "error"},
	))
}

func TestBearerAuth(t *testing.T) {
	secret := []byte("s3cret")
	ok := func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("subject").(string))
	}

	t.Run("it passes requests with a valid token", func(t *testing.T) {
		token := try.To(auth.NewToken(secret, "labeler", "mlserve", time.Minute)).OrFatal(t)

		e := newEcho()
		c, respRec := httptestutil.Post(e, "/api/feedback", strings.NewReader(""), httptestutil.Bearer(token))
		if err := handlers.BearerAuth(secret, "mlserve")(ok)(c); err != nil {
			t.Fatal(err)
		}
		if respRec.Body.String() != "labeler" {
			t.Errorf("body: %s", respRec.Body.String())
		}
	})

	for name, header := range map[string]string{
		"without token":    "",
		"with basic auth":  "Basic dXNlcjpwYXNz",
		"with a bad token": "Bearer " + try.To(auth.NewToken([]byte("other"), "x", "mlserve", time.Minute)).OrFatal(t),
	} {
		t.Run("it rejects requests "+name, func(t *testing.T) {
			e := newEcho()
			opts := []httptestutil.RequestOption{}
			if header != "" {
				opts = append(opts, httptestutil.WithHeader("Authorization", header))
			}
			c, _ := httptestutil.Post(e, "/api/feedback", strings.NewReader(""), opts...)
			err := handlers.BearerAuth(secret, "mlserve")(ok)(c)
			if got := statusOf(t, err); got != http.StatusUnauthorized {
				t.Errorf("status: %d", got)
			}
		})
	}
}
