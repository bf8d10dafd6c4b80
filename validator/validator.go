// Package validator wraps go-playground/validator with JSON field names,
// readable messages and the tags used by probe targets and API payloads.
package validator

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/reconai/auditkit/auditfetch"
)

const (
	TagHTTPMethod = "httpmethod"
	TagAPIPath    = "apipath"
	TagRequestID  = "requestid"
	TagConfidence = "confidence"
)

type Validator struct {
	Validator *validator.Validate
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, err := range v {
		msgs = append(msgs, err.Message)
	}

	return strings.Join(msgs, "; ")
}

// New returns a validator with JSON tag names and the domain tags registered.
func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			return val.String()
		}

		return nil
	}, decimal.Decimal{})

	for tag, fn := range map[string]validator.Func{
		TagHTTPMethod: isHTTPMethod,
		TagAPIPath:    isAPIPath,
		TagRequestID:  isRequestID,
		TagConfidence: isConfidence,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("validator: register %s: %v", tag, err))
		}
	}

	return &Validator{Validator: validate}
}

func (v *Validator) Validate(i any) error {
	err := v.Validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(fieldErrs))

	for _, fe := range fieldErrs {
		field := fe.Field()
		if field == "" {
			field = fe.StructField()
		}

		out = append(out, ValidationError{
			Field:   field,
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: message(field, fe),
		})
	}

	return out
}

func (v *Validator) RegisterCustomValidation(tag string, fn validator.Func) error {
	return v.Validator.RegisterValidation(tag, fn)
}

//nolint:cyclop
func message(field string, fe validator.FieldError) string {
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return field + " must be a valid URL"
	case "uuid":
		return field + " must be a valid UUID"
	case TagHTTPMethod:
		return field + " must be an HTTP method"
	case TagAPIPath:
		return field + " must be a path starting with / or an absolute http(s) URL"
	case TagRequestID:
		return field + " must be a non-empty request id without whitespace"
	case TagConfidence:
		return field + " must be a number between 0 and 1"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, param)
	default:
		return fmt.Sprintf("%s failed validation on '%s'", field, fe.Tag())
	}
}

func isHTTPMethod(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func isAPIPath(fl validator.FieldLevel) bool {
	path := fl.Field().String()

	return strings.HasPrefix(path, "/") || auditfetch.IsAbsoluteURL(path)
}

func isRequestID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return false
	}

	return strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}

func isConfidence(fl validator.FieldLevel) bool {
	var value decimal.Decimal

	switch field := fl.Field(); field.Kind() { //nolint:exhaustive
	case reflect.String:
		parsed, err := decimal.NewFromString(field.String())
		if err != nil {
			return false
		}

		value = parsed
	case reflect.Float32, reflect.Float64:
		value = decimal.NewFromFloat(field.Float())
	default:
		return false
	}

	return !value.IsNegative() && value.LessThanOrEqual(decimal.NewFromInt(1))
}
