package application

import (
	"context"
	"time"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
)

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) (int64, error)
	Get(ctx context.Context, id int64) (domain.Order, error)
	ListExpiredWaiting(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
	// InTx runs fn in one database transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the row-locked view of orders inside InTx.
type Tx interface {
	LockByID(ctx context.Context, id int64) (domain.Order, error)
	LockByReference(ctx context.Context, ref domain.Reference) (domain.Order, error)
	Update(ctx context.Context, o domain.Order) error
	ReleaseStock(ctx context.Context, items []domain.OrderItem) error
	Enqueue(ctx context.Context, msg outbox.Message) error
}
