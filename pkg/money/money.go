// Package money formats currency amounts. Values are held in minor units
// (cents) so that display never drifts.
package money

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	JPY = "JPY" // no decimal places
)

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a Money value from minor units and a currency code.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{
		m: money.New(amountCents, currencyCode),
	}
}

// NewFromDecimal creates Money from a decimal amount, rounding half away from
// zero to the currency's minor unit. Unknown currencies fall back to USD
// precision.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(strings.ToUpper(currencyCode))
	if currency == nil {
		currency = money.GetCurrency(USD)
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := amount.Mul(multiplier).Round(0).IntPart()

	return New(cents, currency.Code)
}

// IsCurrency reports whether code is a known ISO-4217 currency.
func IsCurrency(code string) bool {
	if code == "" {
		return false
	}
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// Amount returns the amount in minor units (cents)
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// Display returns a formatted string for display (e.g., "$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}
