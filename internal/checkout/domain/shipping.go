package domain

import (
	"github.com/shopspring/decimal"
)

// ShippingRule sets the shipping charged on an order. A flat rate replaces
// the amount the client sent. Without one the client amount is kept only
// inside [Min, Max]; a zero Max means no ceiling.
type ShippingRule struct {
	Flat decimal.NullDecimal
	Min  decimal.Decimal
	Max  decimal.Decimal
}

func FlatShipping(rate decimal.Decimal) ShippingRule {
	return ShippingRule{Flat: decimal.NewNullDecimal(rate)}
}

func (r ShippingRule) Charge(requested decimal.Decimal) (decimal.Decimal, error) {
	if r.Flat.Valid {
		return r.Flat.Decimal.Round(2), nil
	}
	if requested.IsNegative() {
		return decimal.Zero, Invalid("shipping", "must not be negative")
	}
	if requested.LessThan(r.Min) {
		return decimal.Zero, Invalid("shipping", "below "+r.Min.StringFixed(2))
	}
	if r.Max.IsPositive() && requested.GreaterThan(r.Max) {
		return decimal.Zero, Invalid("shipping", "above "+r.Max.StringFixed(2))
	}
	return requested.Round(2), nil
}
