package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	notifydomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
)

// Repository writes payouts with conditional updates only. Each Mark method
// reports whether its guard let the write through.
type Repository interface {
	Totals(ctx context.Context, orderID int64) (domain.OrderTotals, error)
	SellerPixKey(ctx context.Context) (string, error)
	Get(ctx context.Context, orderID int64) (domain.Payout, error)
	FindByProviderRef(ctx context.Context, ref string) (int64, error)

	// UpsertCreated claims the payout row: it inserts or resets it to CREATED
	// unless it is SENT, CONFIRMED, or a CREATED claim younger than claimWindow.
	UpsertCreated(ctx context.Context, p domain.Payout, claimWindow time.Duration) (bool, error)
	// MarkSent moves CREATED or FAILED to SENT.
	MarkSent(ctx context.Context, orderID int64, providerRef string, at time.Time) (bool, error)
	// MarkConfirmed moves anything but CONFIRMED to CONFIRMED.
	MarkConfirmed(ctx context.Context, orderID int64, endToEndID string, at time.Time) (bool, error)
	// MarkFailed moves anything but CONFIRMED to FAILED.
	MarkFailed(ctx context.Context, orderID int64, reason string, at time.Time) (bool, error)
}

type Provider interface {
	SendPix(ctx context.Context, sendID string, amount decimal.Decimal, key string) (string, error)
	SendStatus(ctx context.Context, sendID string) (gateway.SendStatus, error)
}

// Notifier sends at most one message per order and kind.
type Notifier interface {
	Notify(ctx context.Context, orderID int64, kind notifydomain.Kind, data map[string]any) error
}
