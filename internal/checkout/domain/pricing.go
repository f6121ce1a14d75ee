package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
)

// MinUnit is the smallest amount a discounted order may cost.
var MinUnit = money.Cent

type Book struct {
	ID     string
	Title  string
	Price  decimal.Decimal
	Active bool
}

type PricedLine struct {
	Book     Book
	Quantity int
}

func (l PricedLine) Amount() decimal.Decimal {
	return l.Book.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Quote struct {
	Lines      []PricedLine
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Original   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	CouponCode string
}

// Price sums catalog prices and shipping, then applies the coupon. The
// discount never takes the total below MinUnit.
func Price(lines []PricedLine, shipping decimal.Decimal, coupon *Coupon) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, Invalid("items", "cart is empty")
	}
	if shipping.IsNegative() {
		return Quote{}, Invalid("shipping", "must not be negative")
	}

	q := Quote{Lines: lines, Shipping: shipping.Round(2)}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Quote{}, Invalid("items", fmt.Sprintf("quantity for %s must be positive", l.Book.ID))
		}
		q.Subtotal = q.Subtotal.Add(l.Amount())
	}
	q.Subtotal = q.Subtotal.Round(2)
	q.Original = q.Subtotal.Add(q.Shipping)
	q.Total = q.Original

	if coupon != nil {
		d := coupon.Discount(q.Original)
		if ceiling := q.Original.Sub(MinUnit); d.GreaterThan(ceiling) {
			d = decimal.Max(ceiling, decimal.Zero)
		}
		q.Discount = d
		q.Total = q.Original.Sub(d)
		q.CouponCode = coupon.Code
	}
	return q, nil
}
