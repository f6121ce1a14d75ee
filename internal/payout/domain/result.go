package domain

import "github.com/shopspring/decimal"

type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
	ResultError   ResultStatus = "ERROR"
)

// Result is returned to every trigger caller, HTTP and CLI included.
type Result struct {
	Status      ResultStatus    `json:"status"`
	OrderID     int64           `json:"orderId,omitempty"`
	Payout      Status          `json:"payoutStatus,omitempty"`
	Gross       decimal.Decimal `json:"gross"`
	Fee         decimal.Decimal `json:"fee"`
	Margin      decimal.Decimal `json:"margin"`
	Net         decimal.Decimal `json:"net"`
	Minimum     decimal.Decimal `json:"minimum"`
	PixKey      string          `json:"pixKey,omitempty"`
	ProviderRef string          `json:"providerRef,omitempty"`
	Message     string          `json:"message"`
}
