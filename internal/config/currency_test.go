package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCurrencyConfigRound(t *testing.T) {
	cfg := LoadCurrencyConfig()

	tests := []struct {
		name     string
		currency string
		in       string
		want     string
	}{
		{"half rounds up", "INR", "10.005", "10.01"},
		{"truncating digits", "INR", "10.004", "10"},
		{"already exact", "USD", "99.10", "99.1"},
		{"zero-decimal currency", "JPY", "100.4", "100"},
		{"three-decimal currency", "KWD", "1.2345", "1.235"},
		{"unknown currency falls back to two places", "XYZ", "5.555", "5.56"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := cfg.Round(tc.currency, decimal.RequireFromString(tc.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), got.String())
		})
	}
}

func TestCurrencyConfigPlaces(t *testing.T) {
	cfg := LoadCurrencyConfig()
	assert.Equal(t, int32(2), cfg.Places("INR"))
	assert.Equal(t, int32(0), cfg.Places("JPY"))
	assert.Equal(t, int32(2), cfg.Places("UNKNOWN"))
	assert.Equal(t, "INR", cfg.DefaultCurrency)
}
