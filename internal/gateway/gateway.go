// Package gateway holds the provider-neutral request/response types and the
// error taxonomy shared by the Efí client and the sandbox stub.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrGateway  = errors.New("payment gateway error")
	ErrNotFound = errors.New("gateway resource not found")
	ErrTimeout  = errors.New("gateway timeout")
	ErrNetwork  = errors.New("gateway network error")
)

// Error carries enough context to reconcile a failed call by hand.
type Error struct {
	Op         string
	Ref        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Ref, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrGateway, e.Err} }

// IsRetriable reports timeouts and network or 5xx failures.
func IsRetriable(err error) bool {
	return err != nil && (errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork))
}

type PixChargeRequest struct {
	TxID        string
	Amount      decimal.Decimal
	Expiration  time.Duration
	PayerName   string
	PayerCPF    string
	Description string
}

type PixCharge struct {
	TxID        string
	Status      string
	LocationID  int64
	QRCode      string
	QRCodeImage string
}

type ChargeItem struct {
	Name     string
	Quantity int
	Amount   decimal.Decimal
}

type CardCustomer struct {
	Name  string
	Email string
	CPF   string
	Phone string
}

type CardChargeRequest struct {
	OrderID      int64
	Items        []ChargeItem
	Shipping     decimal.Decimal
	Discount     decimal.Decimal
	PaymentToken string
	Installments int
	Customer     CardCustomer
}

type CardCharge struct {
	ChargeID string
	Status   string
	Total    decimal.Decimal
}

type SendStatus struct {
	SendID     string
	Status     string
	EndToEndID string
	TxID       string
	Reason     string
}
