package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusNew               OrderStatus = "NEW"
	StatusWaiting           OrderStatus = "WAITING"
	StatusConfirmed         OrderStatus = "CONFIRMED"
	StatusPaid              OrderStatus = "PAID"
	StatusRefunded          OrderStatus = "REFUNDED"
	StatusPartiallyRefunded OrderStatus = "PARTIALLY_REFUNDED"
	StatusCanceled          OrderStatus = "CANCELED"
	StatusDeclined          OrderStatus = "DECLINED"
	StatusUnpaid            OrderStatus = "UNPAID"
	StatusExpired           OrderStatus = "EXPIRED"
)

// IsFinal reports states that nothing but payment confirmation may leave.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case StatusRefunded, StatusPartiallyRefunded, StatusCanceled, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// Settled is IsFinal plus CONFIRMED, the guard for re-entrant payment handlers.
func (s OrderStatus) Settled() bool {
	return s == StatusConfirmed || s.IsFinal()
}

type PaymentMethod string

const (
	MethodPix  PaymentMethod = "pix"
	MethodCard PaymentMethod = "card"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrAlreadyPaid       = errors.New("order already paid")
	ErrNotWaiting        = errors.New("order is not waiting for payment")
	ErrReservationLapsed = errors.New("reservation expired before payment")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Customer holds the checkout form; the core never interprets it.
type Customer struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	CPF        string `json:"cpf"`
	CEP        string `json:"cep"`
	Address    string `json:"address"`
	Number     string `json:"number"`
	Complement string `json:"complement"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	Note       string `json:"note"`
}

func (c Customer) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

type OrderItem struct {
	BookID   string
	Title    string
	Quantity int
	Price    decimal.Decimal
}

type Order struct {
	ID               int64
	Customer         Customer
	Items            []OrderItem
	Shipping         decimal.Decimal
	Total            decimal.Decimal
	DiscountAmount   decimal.Decimal
	CouponCode       string
	Method           PaymentMethod
	TxID             string
	ChargeID         string
	Paid             bool
	PaidAt           *time.Time
	Status           OrderStatus
	ReserveExpiresAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reference is the gateway-side handle used to find an order from a webhook or poll.
type Reference struct {
	Method PaymentMethod
	Value  string
}

func PixRef(txid string) Reference { return Reference{Method: MethodPix, Value: txid} }

func CardRef(chargeID string) Reference { return Reference{Method: MethodCard, Value: chargeID} }

func (r Reference) String() string { return string(r.Method) + ":" + r.Value }

func (o Order) Reference() Reference {
	if o.Method == MethodCard {
		return CardRef(o.ChargeID)
	}
	return PixRef(o.TxID)
}

func (o *Order) Attach(ref Reference) {
	switch ref.Method {
	case MethodCard:
		o.ChargeID = ref.Value
	case MethodPix:
		o.TxID = ref.Value
	}
}

func (o Order) Lapsed(now time.Time) bool {
	return o.ReserveExpiresAt != nil && now.After(*o.ReserveExpiresAt)
}

// Wait opens the payment window.
func (o *Order) Wait(now time.Time, ttl time.Duration) (time.Time, error) {
	if o.Status != StatusNew {
		return time.Time{}, ErrIllegalTransition
	}
	exp := now.Add(ttl)
	o.Status = StatusWaiting
	o.ReserveExpiresAt = &exp
	o.UpdatedAt = now
	return exp, nil
}

// Confirm records payment. Only a WAITING order inside its window can be confirmed.
func (o *Order) Confirm(now time.Time) error {
	if o.Paid {
		return ErrAlreadyPaid
	}
	if o.Status != StatusWaiting {
		return ErrNotWaiting
	}
	if o.Lapsed(now) {
		return ErrReservationLapsed
	}
	o.Paid = true
	o.PaidAt = &now
	o.Status = StatusConfirmed
	o.UpdatedAt = now
	return nil
}

// Close moves an unpaid order to a terminal status and drops its window.
func (o *Order) Close(now time.Time, to OrderStatus) error {
	if o.Paid || o.Status.Settled() {
		return ErrIllegalTransition
	}
	o.Status = to
	o.ReserveExpiresAt = nil
	o.UpdatedAt = now
	return nil
}

func (o Order) HoldsStock() bool {
	return o.Status == StatusWaiting && !o.Paid
}
