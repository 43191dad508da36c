package domain

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits stored for every amount.
const MoneyScale = 2

// MaxAmount is the exclusive magnitude bound for stored amounts and
// balances. It matches the 16 integer digits of a NUMERIC(18,2) column.
var MaxAmount = decimal.New(1, 16)

// ParseAmount parses a decimal amount string such as "12.50".
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, Invalid(field, "must be a decimal number")
	}
	return d, nil
}

// CheckPositive rejects zero, negative, over-precise and out-of-range amounts.
func CheckPositive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return Invalid(field, "must be greater than zero")
	}
	return checkScale(field, d)
}

// CheckNonNegative rejects negative, over-precise and out-of-range amounts.
func CheckNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return Invalid(field, "must not be negative")
	}
	return checkScale(field, d)
}

func checkScale(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(MoneyScale)) {
		return Invalid(field, "must have at most %d decimal places", MoneyScale)
	}
	if d.Abs().GreaterThanOrEqual(MaxAmount) {
		return Invalid(field, "must be less than %s", MaxAmount.String())
	}
	return nil
}

// NormalizeCurrency upper-cases code and checks it is a known ISO 4217 currency.
func NormalizeCurrency(code, fallback string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = strings.ToUpper(strings.TrimSpace(fallback))
	}
	if code == "" || money.GetCurrency(code) == nil {
		return "", Invalid("currency", "unknown currency %q", code)
	}
	return code, nil
}

// FormatAmount renders amount in the currency's display format, e.g. "$1,200.50".
// Unknown currencies fall back to the plain decimal string.
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(MoneyScale)
	}
	factor := decimal.New(1, int32(cur.Fraction))
	minor := amount.Mul(factor).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}
