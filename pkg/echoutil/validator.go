package echoutil

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Validator is an echo.Validator checking `validate` struct tags.
type Validator struct {
	v *validator.Validate
}

var _ echo.Validator = &Validator{}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validator) Validate(i any) error {
	return v.v.Struct(i)
}

// BindValid binds the request into a new T, and validates it.
func BindValid[T any](c echo.Context) (T, error) {
	var t T
	if err := c.Bind(&t); err != nil {
		return t, err
	}
	if err := c.Validate(&t); err != nil {
		return t, err
	}
	return t, nil
}
