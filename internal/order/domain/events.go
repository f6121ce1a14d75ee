package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderPaidLate  = "OrderPaidLate"
)

type OrderConfirmed struct {
	OrderID   int64           `json:"orderId"`
	Method    PaymentMethod   `json:"method"`
	Reference string          `json:"reference"`
	Total     decimal.Decimal `json:"total"`
	PaidAt    time.Time       `json:"paidAt"`
	Source    string          `json:"source"`
}

type OrderPaidLate struct {
	OrderID   int64           `json:"orderId"`
	Method    PaymentMethod   `json:"method"`
	Reference string          `json:"reference"`
	Total     decimal.Decimal `json:"total"`
	ExpiredAt time.Time       `json:"expiredAt"`
	PaidAt    time.Time       `json:"paidAt"`
	Source    string          `json:"source"`
}

// Outcome is the result of one confirmation attempt. Every value except Confirmed is a no-op.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeNotWaiting  Outcome = "not_waiting"
	OutcomePaidLate    Outcome = "paid_late"
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
)
