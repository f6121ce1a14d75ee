package application

import (
	"context"

	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/domain"
)

// Orders is the part of the order service that payment reconciliation may call.
// Every status change goes through it.
type Orders interface {
	Get(ctx context.Context, id int64) (orderdomain.Order, error)
	MarkPaidIfNeeded(ctx context.Context, ref orderdomain.Reference, source string) (orderdomain.Outcome, error)
	ApplyProviderStatus(ctx context.Context, ref orderdomain.Reference, to orderdomain.OrderStatus, source string) (orderdomain.Outcome, error)
}

type ExpiringOrders interface {
	ExpiredWaiting(ctx context.Context, limit int) ([]orderdomain.Order, error)
	ExpireIfUnpaid(ctx context.Context, id int64) (bool, error)
}

type StatusGateway interface {
	PixStatus(ctx context.Context, txid string) (string, error)
	CardStatus(ctx context.Context, chargeID string) (string, error)
}

type CancelGateway interface {
	CancelPix(ctx context.Context, txid string) (bool, error)
	CancelCard(ctx context.Context, chargeID string) (bool, error)
}

// AuditLog appends to the webhook audit table; rows are never updated.
type AuditLog interface {
	Record(ctx context.Context, rec domain.AuditRecord) error
}
