package money

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cents    int64
		currency string
		want     int64
	}{
		{"positive cents", 1234, USD, 1234},
		{"zero", 0, USD, 0},
		{"negative cents", -5000, USD, -5000},
		{"euro", 1000, EUR, 1000},
		{"yen (no decimals)", 10000, JPY, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.cents, tt.currency)
			assert.Equal(t, tt.want, m.Amount())
			assert.Equal(t, tt.currency, m.Currency())
		})
	}
}

func TestNewFromDecimal(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"precise decimal", "123.45", USD, 12345},
		{"many decimals", "99.999", USD, 10000},
		{"half rounds away from zero", "0.005", USD, 1},
		{"whole number", "500", USD, 50000},
		{"negative", "-25.50", USD, -2550},
		{"yen", "1234.5", JPY, 1235},
		{"lowercase code", "1", "usd", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewFromDecimal(decimal.RequireFromString(tt.amount), tt.currency)
			assert.Equal(t, tt.want, m.Amount())
		})
	}
}

func TestNewFromDecimal_UnknownCurrencyFallsBackToUSD(t *testing.T) {
	m := NewFromDecimal(decimal.RequireFromString("1.5"), "HOURS")
	assert.Equal(t, USD, m.Currency())
	assert.Equal(t, int64(150), m.Amount())
}

func TestIsCurrency(t *testing.T) {
	assert.True(t, IsCurrency("USD"))
	assert.True(t, IsCurrency("eur"))
	assert.False(t, IsCurrency(""))
	assert.False(t, IsCurrency("hours"))
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		name     string
		cents    int64
		currency string
		want     string
	}{
		{"USD", 123456, USD, "$1,234.56"},
		{"EUR", 12345, EUR, "€"},
		{"negative", -5000, USD, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, New(tt.cents, tt.currency).Display(), tt.want)
		})
	}
}

func TestNilSafety(t *testing.T) {
	var m *Money
	assert.Equal(t, int64(0), m.Amount())
	assert.Equal(t, "", m.Currency())
	assert.Equal(t, "$0.00", m.Display())
}

func TestCostGenerator(t *testing.T) {
	g := NewCostGeneratorWithSeed(7)
	lines := g.Lines(25)
	require.Len(t, lines, 25)

	for _, l := range lines {
		amount, err := decimal.NewFromString(l.Amount)
		require.NoError(t, err)
		assert.True(t, amount.IsPositive())
		assert.LessOrEqual(t, amount.InexactFloat64(), 5000.0)
		assert.NotEmpty(t, l.Vendor)
		assert.Len(t, l.Date, len("2006-01-02"))
	}

	data, err := g.CSV(lines)
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 26)
	assert.Equal(t, []string{"date", "amount", "vendor", "service", "department", "team", "description"}, records[0])

	js, err := g.JSON(lines[:2])
	require.NoError(t, err)
	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(js, &decoded))
	assert.Equal(t, lines[1].Amount, decoded[1]["amount"])
}

func TestCostGenerator_Deterministic(t *testing.T) {
	a := NewCostGeneratorWithSeed(99).Amount(1, 100)
	b := NewCostGeneratorWithSeed(99).Amount(1, 100)
	assert.True(t, a.Equal(b))
}
