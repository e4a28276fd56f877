package handler

import (
	"errors"
	"reflect"
	"strings"

	"beatstore/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type requestValidator struct {
	validate *validator.Validate
}

// NewValidator returns an echo.Validator that reports the first failing
// field by its JSON name as an apperr.ValidationError.
func NewValidator() echo.Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (rv *requestValidator) Validate(i any) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Invalid("body", "%v", err)
	}

	fe := fieldErrs[0]
	// Namespace is "CreateOrderRequest.items[0].id"; drop the struct name.
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	if fe.Param() != "" {
		return apperr.Invalid(field, "failed %s=%s", fe.Tag(), fe.Param())
	}
	return apperr.Invalid(field, "failed %s", fe.Tag())
}
