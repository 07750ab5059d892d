package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	FailedField string `json:"field"`
	Tag         string `json:"tag"`
	Value       string `json:"param,omitempty"`
}

// ValidationError is returned for input rejected before any store call.
type ValidationError struct {
	Errors []*ErrorResponse
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Value != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.FailedField, fe.Tag, fe.Value))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.FailedField, fe.Tag))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a single-field ValidationError.
func Invalid(field, tag, param string) *ValidationError {
	return &ValidationError{Errors: []*ErrorResponse{{FailedField: field, Tag: tag, Value: param}}}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = validator.New()

func init() {
	// Report JSON field names so errors match the request body.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Decimals validate as float64, so gte/gt/lte work on prices.
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		if d, ok := v.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

func ValidateStruct(data interface{}) []*ErrorResponse {
	var errs []*ErrorResponse
	err := validate.Struct(data)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []*ErrorResponse{{FailedField: "body", Tag: "invalid", Value: err.Error()}}
	}
	for _, fe := range fieldErrs {
		var element ErrorResponse
		element.FailedField = fe.Field()
		element.Tag = fe.Tag()
		element.Value = fe.Param()
		errs = append(errs, &element)
	}
	return errs
}

// Validate is ValidateStruct as an error.
func Validate(data interface{}) error {
	if errs := ValidateStruct(data); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
