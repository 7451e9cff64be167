package common

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// NewValidator returns a validator that reports JSON field names and
// compares decimal.Decimal fields numerically (gt, gte, lt, lte).
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// ValidationDetail names one failed field constraint.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError converts validator output into a 422 AppError.
func ValidationError(err error) *AppError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &AppError{Code: "VALIDATION_ERROR", Message: "request validation failed", HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	}
	details := make([]ValidationDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ValidationDetail{Field: fe.Namespace(), Message: validationMessage(fe)})
	}
	return &AppError{Code: "VALIDATION_ERROR", Message: "request validation failed", HTTPStatus: http.StatusUnprocessableEntity, Err: err, Details: details}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "max":
		return "must have at most " + fe.Param() + " entries"
	case "email":
		return "must be a valid email"
	default:
		return "is invalid"
	}
}
