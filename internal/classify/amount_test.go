package classify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberFormatParse(t *testing.T) {
	tests := []struct {
		name   string
		format NumberFormat
		in     string
		want   string
	}{
		{"comma thousands", DecimalComma, "1.234,56", "1234.56"},
		{"comma plain", DecimalComma, "50", "50"},
		{"comma negative", DecimalComma, "-12,5", "-12.5"},
		{"comma currency", DecimalComma, "R$ 1.000,00", "1000"},
		{"point thousands", DecimalPoint, "1,234.56", "1234.56"},
		{"point plain", DecimalPoint, "0.10", "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.format.Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestNumberFormatParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "1,2,3x"} {
		_, err := DecimalComma.Parse(in)
		assert.Error(t, err, in)
	}
}

// The same text reads differently under each declared format.
func TestNumberFormatIsDeclaredNotGuessed(t *testing.T) {
	comma, err := DecimalComma.Parse("1.500")
	require.NoError(t, err)
	point, err := DecimalPoint.Parse("1.500")
	require.NoError(t, err)

	assert.True(t, comma.Equal(decimal.NewFromInt(1500)))
	assert.True(t, point.Equal(decimal.RequireFromString("1.5")))
}

func TestParseNumberFormat(t *testing.T) {
	f, err := ParseNumberFormat("")
	require.NoError(t, err)
	assert.Equal(t, DecimalComma, f)

	f, err = ParseNumberFormat("Decimal_Point")
	require.NoError(t, err)
	assert.Equal(t, DecimalPoint, f)
	assert.Equal(t, "decimal_point", f.String())

	_, err = ParseNumberFormat("european")
	assert.Error(t, err)
}
