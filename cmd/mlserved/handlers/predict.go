package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	apierr "github.com/opst/mlserve/pkg/api/types/errors"
	apipred "github.com/opst/mlserve/pkg/api/types/predictions"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	"github.com/opst/mlserve/pkg/serving"
)

type Predictor interface {
	Predict(ctx context.Context, sample domain.Features) (serving.Prediction, error)
	ModelInfo(ctx context.Context) (domain.ModelInfo, error)
}

// Observer counts requests. *metrics.Metrics is an Observer.
type Observer interface {
	PredictionFailed()
	Feedback(result string)
}

type nop struct{}

func (nop) PredictionFailed()      {}
func (nop) Feedback(result string) {}

// Nop is an Observer doing nothing.
var Nop Observer = nop{}

func noModel(err error) *echo.HTTPError {
	return apierr.ServiceUnavailable("no model is serving now. train one with `retrainer -bootstrap`.", err)
}

func PredictHandler(predictor Predictor, obs Observer) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := apipred.PredictionRequest{}
		if err := c.Bind(&req); err != nil {
			return apierr.BadRequest("request body should be a JSON object of features", err)
		}
		if len(req) == 0 {
			return apierr.BadRequest("request body should be a JSON object of features", nil)
		}

		p, err := predictor.Predict(c.Request().Context(), domain.Features(req))
		if err != nil {
			obs.PredictionFailed()
			if errors.Is(err, domerr.ErrNotFound) {
				return noModel(err)
			}
			return apierr.FromDomain(err)
		}

		return c.JSON(http.StatusOK, apipred.PredictionResponse{
			PredictionId:  p.Record.Id,
			Prediction:    p.Record.Prediction,
			ModelName:     p.Record.ModelName,
			ModelVersion:  p.Record.ModelVersion,
			ModelMetadata: p.Metadata,
		})
	}
}

func ModelInfoHandler(predictor Predictor) echo.HandlerFunc {
	return func(c echo.Context) error {
		info, err := predictor.ModelInfo(c.Request().Context())
		if errors.Is(err, domerr.ErrNotFound) {
			return noModel(err)
		} else if err != nil {
			return apierr.FromDomain(err)
		}

		resp := apipred.ModelInfoResponse{
			Name:         info.Name,
			Version:      strconv.Itoa(info.Version),
			RunId:        info.RunId,
			CreationTime: info.CreatedAt.Format(time.RFC3339),
		}
		if info.Config != nil {
			conf := map[string]any{}
			if err := yaml.Unmarshal(info.Config.Document, &conf); err != nil {
				return apierr.InternalServerError(err)
			}
			resp.Config = conf
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func RootHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "API running"})
}
