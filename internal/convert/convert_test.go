package convert

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		balance  string
		decimals int
		expected string
	}{
		{name: "eth wei conversion", balance: "0.026380882267770930", decimals: 18, expected: "26380882267770930"},
		{name: "pads short fraction", balance: "100.5", decimals: 6, expected: "100500000"},
		{name: "truncates excess fraction", balance: "100.1234567890123", decimals: 6, expected: "100123456"},
		{name: "integer only", balance: "42", decimals: 6, expected: "42000000"},
		{name: "zero", balance: "0", decimals: 18, expected: "0"},
		{name: "zero with fraction", balance: "0.0", decimals: 8, expected: "0"},
		{name: "leading dot treated as zero", balance: ".5", decimals: 2, expected: "50"},
		{name: "zero decimals truncates whole fraction", balance: "7.999", decimals: 0, expected: "7"},
		{name: "36 significant digits", balance: "123456789012345678.901234567890123456", decimals: 18, expected: "123456789012345678901234567890123456"},
		{name: "leading zeros preserved semantically", balance: "007.1", decimals: 2, expected: "710"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ToMinorUnits(tt.balance, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestToMinorUnits_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		balance  string
		decimals int
	}{
		{name: "empty string", balance: "", decimals: 6},
		{name: "bare dot", balance: ".", decimals: 6},
		{name: "trailing dot", balance: "5.", decimals: 6},
		{name: "two dots", balance: "1.2.3", decimals: 6},
		{name: "letters", balance: "abc", decimals: 6},
		{name: "exponent notation", balance: "1e18", decimals: 6},
		{name: "negative sign", balance: "-1.5", decimals: 6},
		{name: "plus sign", balance: "+1.5", decimals: 6},
		{name: "embedded space", balance: "1 0", decimals: 6},
		{name: "hex prefix", balance: "0x10", decimals: 6},
		{name: "negative decimals", balance: "1", decimals: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ToMinorUnits(tt.balance, tt.decimals)
			require.Error(t, err)
		})
	}
}

// Re-deriving the decimal string from the integer must reproduce the input
// up to trailing-zero padding, i.e. no precision is lost on the way in.
func TestToMinorUnits_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		balance  string
		decimals int
	}{
		{"0.026380882267770930", 18},
		{"1.000000000000000001", 18},
		{"999999999999999999.999999999999999999", 18},
		{"0.1", 6},
		{"123456", 0},
	}

	for _, tt := range tests {
		got, err := ToMinorUnits(tt.balance, tt.decimals)
		require.NoError(t, err)

		rendered := renderDecimal(got, tt.decimals)
		assert.Equal(t, strings.TrimRight(strings.TrimRight(tt.balance, "0"), "."), strings.TrimRight(strings.TrimRight(rendered, "0"), "."),
			"balance %s at %d decimals", tt.balance, tt.decimals)
	}
}

func renderDecimal(v *big.Int, decimals int) string {
	s := v.String()
	if decimals == 0 {
		return s
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	return s[:len(s)-decimals] + "." + s[len(s)-decimals:]
}
