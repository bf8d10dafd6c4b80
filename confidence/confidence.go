// Package confidence formats reconciliation confidence scores.
package confidence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

var ErrInvalidScore = errors.New("confidence: invalid score")

//nolint:gochecknoglobals
var (
	highThreshold   = decimal.RequireFromString("0.85")
	mediumThreshold = decimal.RequireFromString("0.6")
	hundred         = decimal.NewFromInt(100)
)

// Score is a confidence in [0, 1].
type Score struct {
	value decimal.Decimal
}

// New clamps value into [0, 1].
func New(value decimal.Decimal) Score {
	switch {
	case value.IsNegative():
		value = decimal.Zero
	case value.GreaterThan(decimal.NewFromInt(1)):
		value = decimal.NewFromInt(1)
	}

	return Score{value: value}
}

func FromFloat(value float64) Score {
	return New(decimal.NewFromFloat(value))
}

// Parse accepts a fraction ("0.91") or a percentage ("91%").
func Parse(raw string) (Score, error) {
	raw = strings.TrimSpace(raw)

	percent := strings.HasSuffix(raw, "%")
	if percent {
		raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return Score{}, fmt.Errorf("%w: %q", ErrInvalidScore, raw)
	}

	if percent {
		value = value.Div(hundred)
	}

	return New(value), nil
}

func (s Score) Decimal() decimal.Decimal {
	return s.value
}

// Percent renders the score as a percentage with one decimal, e.g. "91.5%".
func (s Score) Percent() string {
	return s.value.Mul(hundred).StringFixed(1) + "%"
}

func (s Score) Band() Band {
	switch {
	case s.value.GreaterThanOrEqual(highThreshold):
		return BandHigh
	case s.value.GreaterThanOrEqual(mediumThreshold):
		return BandMedium
	default:
		return BandLow
	}
}

func (s Score) String() string {
	return s.Percent()
}

// Ratio is part/total as a score; an empty total yields zero.
func Ratio(part, total int64) Score {
	if total <= 0 {
		return Score{value: decimal.Zero}
	}

	return New(decimal.NewFromInt(part).Div(decimal.NewFromInt(total)))
}
