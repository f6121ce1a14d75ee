// Package money converts between domain decimals and the cent columns stored in Postgres.
package money

import "github.com/shopspring/decimal"

// Cent is the smallest currency unit (R$0.01).
var Cent = decimal.New(1, -2)

func ToCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// Round2 rounds half away from zero to two places, which is half-up for amounts.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Format renders d with exactly two decimals, the gateway wire format.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
