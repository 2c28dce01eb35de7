package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierr "github.com/opst/mlserve/pkg/api/types/errors"
	apipred "github.com/opst/mlserve/pkg/api/types/predictions"
	"github.com/opst/mlserve/pkg/auth"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	kfeedback "github.com/opst/mlserve/pkg/domain/feedback/db"
	"github.com/opst/mlserve/pkg/echoutil"
)

func FeedbackHandler(feedback kfeedback.Interface, obs Observer) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, err := echoutil.BindValid[apipred.FeedbackRequest](c)
		if verr := (validator.ValidationErrors{}); errors.As(err, &verr) {
			obs.Feedback("invalid")
			return apierr.BadRequest(
				`body should be {"prediction_id": positive integer, "feedback": number}`, err,
			)
		} else if err != nil {
			obs.Feedback("invalid")
			return apierr.BadRequest("request body should be JSON", err)
		}

		rec, err := feedback.Submit(c.Request().Context(), req.PredictionId, *req.Feedback)
		if errors.Is(err, domerr.ErrNotFound) {
			obs.Feedback("not-found")
			return apierr.NotFound(
				fmt.Sprintf("Prediction with id %d not found", req.PredictionId), err,
			)
		} else if err != nil {
			obs.Feedback("error")
			return apierr.InternalServerError(err)
		}

		obs.Feedback("ok")
		return c.JSON(http.StatusOK, apipred.FeedbackResponse{
			Id:           rec.Id,
			PredictionId: rec.PredictionId,
			Feedback:     rec.Feedback,
		})
	}
}

// BearerAuth requires a bearer token signed with secret, issued by issuer (if not empty).
func BearerAuth(secret []byte, issuer string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || token == "" {
				return apierr.Unauthorized("send a token as `Authorization: Bearer TOKEN`", nil)
			}
			claims, err := auth.Verify(secret, issuer, token)
			if err != nil {
				return apierr.Unauthorized("token is not acceptable", err)
			}
			c.Set("subject", claims.Subject)
			return next(c)
		}
	}
}
