package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CouponKind string

const (
	CouponPercent CouponKind = "PERCENT"
	CouponFixed   CouponKind = "FIXED"
)

type Coupon struct {
	Code     string
	Kind     CouponKind
	Value    decimal.Decimal
	MinOrder decimal.Decimal
	// UsageLimit counts paid orders; zero means unlimited.
	UsageLimit int
	StartsAt   *time.Time
	EndsAt     *time.Time
	Active     bool
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check validates the coupon against an order value and the number of paid
// orders that already used it.
func (c Coupon) Check(now time.Time, orderValue decimal.Decimal, used int) error {
	reject := func(reason string) error {
		return &ValidationError{Field: "couponCode", Reason: reason, Err: ErrInvalidCoupon}
	}
	switch {
	case !c.Active:
		return reject("coupon is inactive")
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		return reject("coupon is not valid yet")
	case c.EndsAt != nil && now.After(*c.EndsAt):
		return reject("coupon has expired")
	case c.UsageLimit > 0 && used >= c.UsageLimit:
		return reject("coupon usage limit reached")
	case orderValue.LessThan(c.MinOrder):
		return reject("order value below coupon minimum " + c.MinOrder.StringFixed(2))
	case !c.Value.IsPositive():
		return reject("coupon has no value")
	}
	return nil
}

// Discount is the raw rule applied to orderValue, before any clamp.
func (c Coupon) Discount(orderValue decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Kind {
	case CouponPercent:
		d = orderValue.Mul(c.Value).Div(decimal.NewFromInt(100))
	default:
		d = c.Value
	}
	return d.Round(2)
}
