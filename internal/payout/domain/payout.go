package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusSent      Status = "SENT"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrNotFound     = errors.New("payout not found")
	ErrBadReference = errors.New("malformed payout reference")
)

type Payout struct {
	OrderID     int64
	Status      Status
	Breakdown   Breakdown
	Policy      Policy
	PixKey      string
	SendID      string
	ProviderRef string
	EndToEndID  string
	FailReason  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      *time.Time
	ConfirmedAt *time.Time
	FailedAt    *time.Time
}

// OrderTotals is what the payout engine reads from the order_totals_v1 view.
type OrderTotals struct {
	OrderID int64
	Gross   decimal.Decimal
	// Known is false when the view had no total for the order.
	Known bool
	Paid  bool
}

// SendID is the deterministic provider-side id; resending it is idempotent at the gateway.
func SendID(orderID int64) string {
	return fmt.Sprintf("PAYOUT%d", orderID)
}

var refPattern = regexp.MustCompile(`(?i)^(PAYOUT|REPASSE)[-_]?(\d+)$`)

// ParseReference resolves PAYOUT<id> and the older REPASSE<id> form, with an
// optional - or _ after the prefix. A bare number is taken as the order id.
func ParseReference(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	digits := ref
	if m := refPattern.FindStringSubmatch(ref); m != nil {
		digits = m[2]
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q: %w", ref, ErrBadReference)
	}
	return id, nil
}

var providerRefPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,35}$`)

func ValidProviderRef(ref string) bool {
	return providerRefPattern.MatchString(ref)
}

// Policy is the fee and margin configuration, snapshotted onto each payout.
type Policy struct {
	FeePercent    decimal.Decimal
	FeeFixed      decimal.Decimal
	FeesIncluded  bool
	MarginPercent decimal.Decimal
	MarginFixed   decimal.Decimal
	MinSend       decimal.Decimal
	AbsoluteMin   decimal.Decimal
}

type Breakdown struct {
	Gross  decimal.Decimal
	Fee    decimal.Decimal
	Margin decimal.Decimal
	Net    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Compute splits gross into fee, margin and net. Each part is rounded half-up
// to cents. Net never exceeds gross minus one cent and never goes below zero.
func (p Policy) Compute(gross decimal.Decimal) Breakdown {
	gross = money.Round2(gross)
	b := Breakdown{Gross: gross}
	if p.FeesIncluded {
		b.Fee = money.Round2(gross.Mul(p.FeePercent).Div(hundred).Add(p.FeeFixed))
	}
	b.Margin = money.Round2(gross.Mul(p.MarginPercent).Div(hundred).Add(p.MarginFixed))

	deduction := b.Fee.Add(b.Margin)
	if !deduction.IsPositive() {
		b.Net = gross.Sub(money.Cent)
	} else {
		b.Net = gross.Sub(deduction)
	}
	if b.Net.IsNegative() {
		b.Net = decimal.Zero
	}
	return b
}

func (p Policy) EffectiveMinimum() decimal.Decimal {
	return decimal.Max(p.MinSend, p.AbsoluteMin)
}

// Notice is an inbound settlement report from the payout provider.
type Notice struct {
	Reference  string
	Status     string
	EndToEndID string
	TxID       string
	// Reason is the provider's failure code and message, when it sent one.
	Reason     string
}

// FailReason is what a failed settlement records on the payout.
func (n Notice) FailReason() string {
	if n.Reason != "" {
		return n.Reason
	}
	return "provider status " + n.Status
}

type Settlement int

const (
	SettlementPending Settlement = iota
	SettlementDone
	SettlementFailed
)

// Classify maps a provider send status to a settlement outcome.
func Classify(raw string) Settlement {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "REALIZADO", "CONCLUIDO", "CONCLUIDA", "CONFIRMED", "SUCCESS":
		return SettlementDone
	case "NAO_REALIZADO", "NÃO_REALIZADO", "FAILED", "REJEITADO", "DEVOLVIDO":
		return SettlementFailed
	}
	return SettlementPending
}
