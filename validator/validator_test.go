package validator_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/validator"
)

type probeTarget struct {
	Name   string `json:"name"   validate:"required,min=2,max=64"`
	Path   string `json:"path"   validate:"required,apipath"`
	Method string `json:"method" validate:"required,httpmethod"`
}

type scored struct {
	Score   decimal.Decimal `json:"score"   validate:"confidence"`
	Raw     string          `json:"raw"     validate:"omitempty,confidence"`
	TraceID string          `json:"traceId" validate:"requestid"`
}

func validationErrors(t *testing.T, err error) validator.ValidationErrors {
	t.Helper()

	var errs validator.ValidationErrors
	require.True(t, errors.As(err, &errs), "expected ValidationErrors, got %v", err)

	return errs
}

func TestValidate_ProbeTarget(t *testing.T) {
	t.Parallel()

	v := validator.New()

	tests := []struct {
		name    string
		input   probeTarget
		field   string
		tag     string
		message string
	}{
		{
			name:  "valid relative path",
			input: probeTarget{Name: "things", Path: "/v1/things", Method: "GET"},
		},
		{
			name:  "valid absolute url and lower-case method",
			input: probeTarget{Name: "ext", Path: "https://api.example.com/health", Method: "post"},
		},
		{
			name:    "missing name",
			input:   probeTarget{Name: "", Path: "/v1/things", Method: "GET"},
			field:   "name",
			tag:     "required",
			message: "name is required",
		},
		{
			name:    "bare path",
			input:   probeTarget{Name: "things", Path: "v1/things", Method: "GET"},
			field:   "path",
			tag:     validator.TagAPIPath,
			message: "path must be a path starting with / or an absolute http(s) URL",
		},
		{
			name:    "unknown method",
			input:   probeTarget{Name: "things", Path: "/v1/things", Method: "FETCH"},
			field:   "method",
			tag:     validator.TagHTTPMethod,
			message: "method must be an HTTP method",
		},
		{
			name:    "short name",
			input:   probeTarget{Name: "x", Path: "/v1/things", Method: "GET"},
			field:   "name",
			tag:     "min",
			message: "name must be at least 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Validate(tt.input)
			if tt.field == "" {
				require.NoError(t, err)

				return
			}

			errs := validationErrors(t, err)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Equal(t, tt.tag, errs[0].Tag)
			assert.Equal(t, tt.message, errs[0].Message)
		})
	}
}

func TestValidate_ConfidenceAndRequestID(t *testing.T) {
	t.Parallel()

	v := validator.New()

	require.NoError(t, v.Validate(scored{
		Score:   decimal.RequireFromString("0.85"),
		Raw:     "1",
		TraceID: "req-123",
	}))

	err := v.Validate(scored{
		Score:   decimal.RequireFromString("1.5"),
		Raw:     "abc",
		TraceID: "has space",
	})

	errs := validationErrors(t, err)
	require.Len(t, errs, 3)

	fields := map[string]string{}
	for _, e := range errs {
		fields[e.Field] = e.Tag
	}

	assert.Equal(t, map[string]string{
		"score":   validator.TagConfidence,
		"raw":     validator.TagConfidence,
		"traceId": validator.TagRequestID,
	}, fields)
	assert.Contains(t, err.Error(), "score must be a number between 0 and 1")
}

func TestValidate_NonStructInput(t *testing.T) {
	t.Parallel()

	err := validator.New().Validate("not a struct")

	require.Error(t, err)

	var errs validator.ValidationErrors
	assert.False(t, errors.As(err, &errs))
}
