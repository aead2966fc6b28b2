package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/kalshibot/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestParseBoundsFromStrikes(t *testing.T) {
	t.Parallel()

	b, ok := ParseBounds(models.Market{FloorStrike: floatPtr(84), CapStrike: floatPtr(87)})
	require.True(t, ok)
	assert.Equal(t, 84.0, *b.Low)
	assert.Equal(t, 87.0, *b.High)
}

func TestParseBoundsFromText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		low   *float64
		high  *float64
	}{
		{"below", "High temp below 80 in NYC", nil, floatPtr(80)},
		{"above", "High temp at least 90", floatPtr(90), nil},
		{"plus", "Will the high be 95+ today", floatPtr(95), nil},
		{"inclusive range", "High of 84 to 86", floatPtr(84), floatPtr(87)},
		{"fractional range", "High of 84.5 to 86.5", floatPtr(84.5), floatPtr(86.5)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, ok := ParseBounds(models.Market{Title: tc.title})
			require.True(t, ok)
			if tc.low == nil {
				assert.Nil(t, b.Low)
			} else {
				require.NotNil(t, b.Low)
				assert.Equal(t, *tc.low, *b.Low)
			}
			if tc.high == nil {
				assert.Nil(t, b.High)
			} else {
				require.NotNil(t, b.High)
				assert.Equal(t, *tc.high, *b.High)
			}
		})
	}
}

func TestParseBoundsUnrecognized(t *testing.T) {
	t.Parallel()

	_, ok := ParseBounds(models.Market{Title: "Will it rain tomorrow?"})
	assert.False(t, ok)
}

func TestBoundsHalfOpen(t *testing.T) {
	t.Parallel()

	b := Bounds{Low: floatPtr(84), High: floatPtr(87)}
	assert.False(t, b.Contains(83.9))
	assert.True(t, b.Contains(84))
	assert.True(t, b.Contains(86.9))
	assert.False(t, b.Contains(87), "upper bound is exclusive")
}

func TestResultForBounds(t *testing.T) {
	t.Parallel()

	b := Bounds{Low: floatPtr(84), High: floatPtr(87)}
	assert.Equal(t, "yes", ResultForBounds(85, b))
	assert.Equal(t, "no", ResultForBounds(87, b))
	assert.Equal(t, "no", ResultForBounds(80, b))

	openAbove := Bounds{Low: floatPtr(90)}
	assert.Equal(t, "yes", ResultForBounds(95, openAbove))
	assert.Equal(t, "no", ResultForBounds(89, openAbove))
}
