package domain

import "errors"

type Kind string

const (
	KindOrderConfirmedClient Kind = "ORDER_CONFIRMED_CLIENT"
	KindOrderConfirmedSeller Kind = "ORDER_CONFIRMED_SELLER"
	KindOrderPaidLate        Kind = "ORDER_PAID_LATE"
	KindPayoutConfirmed      Kind = "PAYOUT_CONFIRMED"
	KindPayoutFailed         Kind = "PAYOUT_FAILED"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

var (
	ErrUnknownKind  = errors.New("unknown notification kind")
	ErrNoRecipient  = errors.New("notification has no recipient")
	ErrAlreadyTaken = errors.New("notification already sent or in flight")
)

// Message is a rendered email ready for a Mailer.
type Message struct {
	To      string
	Subject string
	HTML    string
}
