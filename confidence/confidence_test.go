package confidence_test

import (
	"testing"

	"github.com/reconai/auditkit/confidence"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		percent string
		band    confidence.Band
	}{
		{"0.91", "91.0%", confidence.BandHigh},
		{"0.85", "85.0%", confidence.BandHigh},
		{"0.8499", "85.0%", confidence.BandMedium},
		{"0.6", "60.0%", confidence.BandMedium},
		{"0.5999", "60.0%", confidence.BandLow},
		{"72.35%", "72.4%", confidence.BandMedium},
		{" 1.7 ", "100.0%", confidence.BandHigh},
		{"-0.2", "0.0%", confidence.BandLow},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			score, err := confidence.Parse(tt.raw)

			require.NoError(t, err)
			assert.Equal(t, tt.percent, score.Percent())
			assert.Equal(t, tt.band, score.Band())
		})
	}
}

func TestParse_RejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "high", "%", "0.9.1"} {
		_, err := confidence.Parse(raw)
		require.ErrorIs(t, err, confidence.ErrInvalidScore, raw)
	}
}

func TestRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "75.0%", confidence.Ratio(3, 4).String())
	assert.Equal(t, "0.0%", confidence.Ratio(3, 0).String())
	assert.True(t, confidence.Ratio(2, 3).Decimal().GreaterThan(decimal.RequireFromString("0.66")))
}

func TestFromFloat_Clamps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "100.0%", confidence.FromFloat(3).Percent())
	assert.Equal(t, confidence.BandLow, confidence.FromFloat(0.1).Band())
}
