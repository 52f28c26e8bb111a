package config

import (
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// CurrencyConfig holds per-currency precision used to normalize amounts
// before they reach the posting engine.
type CurrencyConfig struct {
	DefaultCurrency string
	DecimalPlaces   map[string]int32
}

func LoadCurrencyConfig() *CurrencyConfig {
	viper.SetDefault("currency.default", "INR")

	cfg := &CurrencyConfig{
		DefaultCurrency: viper.GetString("currency.default"),
		DecimalPlaces: map[string]int32{
			"INR": 2,
			"USD": 2,
			"EUR": 2,
			"JPY": 0,
			"KWD": 3,
		},
	}
	if env := os.Getenv("CURRENCY_DEFAULT_PLACES"); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			cfg.DecimalPlaces[cfg.DefaultCurrency] = int32(val)
		}
	}
	return cfg
}

// Places returns the configured decimal places for a currency code,
// falling back to 2.
func (c *CurrencyConfig) Places(currency string) int32 {
	if p, ok := c.DecimalPlaces[currency]; ok {
		return p
	}
	return 2
}

// Round normalizes an amount to the currency's precision using
// round-half-up, the convention bank amounts arrive in.
func (c *CurrencyConfig) Round(currency string, amount decimal.Decimal) decimal.Decimal {
	return amount.Round(c.Places(currency))
}
