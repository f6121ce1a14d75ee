package application

import (
	"context"
	"time"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	invdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
)

type Catalog interface {
	// Books returns the requested books keyed by id; unknown ids are absent.
	Books(ctx context.Context, ids []string) (map[string]domain.Book, error)
}

type Coupons interface {
	// Find returns domain.ErrUnknownCoupon when the code does not exist.
	Find(ctx context.Context, code string) (domain.Coupon, error)
	PaidUses(ctx context.Context, code string) (int, error)
}

type Inventory interface {
	Precheck(ctx context.Context, lines []invdomain.Line) error
	ReserveAll(ctx context.Context, lines []invdomain.Line) error
	ReleaseAll(ctx context.Context, lines []invdomain.Line) error
}

// Orders is the slice of the order service checkout drives.
type Orders interface {
	Place(ctx context.Context, o orderdomain.Order) (int64, error)
	OpenReservation(ctx context.Context, id int64, ttl time.Duration) (time.Time, error)
	AttachReference(ctx context.Context, id int64, ref orderdomain.Reference) error
	Abandon(ctx context.Context, id int64) error
	Decline(ctx context.Context, id int64) error
	MarkPaidIfNeeded(ctx context.Context, ref orderdomain.Reference, source string) (orderdomain.Outcome, error)
}

type PixGateway interface {
	CreatePixCharge(ctx context.Context, in gateway.PixChargeRequest) (gateway.PixCharge, error)
}

type CardGateway interface {
	CreateCardCharge(ctx context.Context, in gateway.CardChargeRequest) (gateway.CardCharge, error)
}

// Watcher polls a PIX collection until it settles or its window closes.
type Watcher interface {
	Schedule(orderID int64, txid string, expiresAt time.Time)
}
