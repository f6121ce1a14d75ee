// Package payouttest provides an in-memory payout repository with the same
// guarded transitions as the Postgres one.
package payouttest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
)

type Repository struct {
	mu      sync.Mutex
	totals  map[int64]domain.OrderTotals
	payouts map[int64]domain.Payout
	seller  string
	upserts int
}

func NewRepository(sellerKey string) *Repository {
	return &Repository{seller: sellerKey, totals: map[int64]domain.OrderTotals{}, payouts: map[int64]domain.Payout{}}
}

func (m *Repository) Totals(_ context.Context, orderID int64) (domain.OrderTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.totals[orderID]
	if !ok {
		return domain.OrderTotals{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *Repository) SellerPixKey(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seller, nil
}

func (m *Repository) Get(_ context.Context, orderID int64) (domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[orderID]
	if !ok {
		return domain.Payout{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *Repository) FindByProviderRef(_ context.Context, ref string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.payouts {
		if p.ProviderRef == ref || p.EndToEndID == ref {
			return id, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (m *Repository) UpsertCreated(_ context.Context, p domain.Payout, claimWindow time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if cur, ok := m.payouts[p.OrderID]; ok {
		switch {
		case cur.Status == domain.StatusSent, cur.Status == domain.StatusConfirmed:
			return false, nil
		case cur.Status == domain.StatusCreated && p.CreatedAt.Sub(cur.UpdatedAt) < claimWindow:
			return false, nil
		}
	}
	m.payouts[p.OrderID] = p
	return true, nil
}

func (m *Repository) MarkSent(_ context.Context, orderID int64, ref string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[orderID]
	if !ok || (p.Status != domain.StatusCreated && p.Status != domain.StatusFailed) {
		return false, nil
	}
	p.Status, p.ProviderRef, p.SentAt, p.UpdatedAt, p.FailReason = domain.StatusSent, ref, &at, at, ""
	m.payouts[orderID] = p
	return true, nil
}

func (m *Repository) MarkConfirmed(_ context.Context, orderID int64, e2e string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[orderID]
	if !ok || p.Status == domain.StatusConfirmed {
		return false, nil
	}
	p.Status, p.EndToEndID, p.ConfirmedAt, p.UpdatedAt = domain.StatusConfirmed, e2e, &at, at
	m.payouts[orderID] = p
	return true, nil
}

func (m *Repository) MarkFailed(_ context.Context, orderID int64, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[orderID]
	if !ok || p.Status == domain.StatusConfirmed {
		return false, nil
	}
	p.Status, p.FailReason, p.FailedAt, p.UpdatedAt = domain.StatusFailed, reason, &at, at
	m.payouts[orderID] = p
	return true, nil
}

// SetPaid records a paid order with the given gross total.
func (m *Repository) SetPaid(orderID int64, gross decimal.Decimal) {
	m.SetTotals(domain.OrderTotals{OrderID: orderID, Gross: gross, Known: true, Paid: true})
}

func (m *Repository) SetTotals(t domain.OrderTotals) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[t.OrderID] = t
}

func (m *Repository) SetSeller(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seller = key
}

func (m *Repository) Put(p domain.Payout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts[p.OrderID] = p
}

func (m *Repository) Payout(orderID int64) domain.Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payouts[orderID]
}

// Upserts counts UpsertCreated calls.
func (m *Repository) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}
