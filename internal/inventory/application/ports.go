package application

import "context"

// StockRepository performs single-row conditional updates on the books table.
type StockRepository interface {
	TryReserve(ctx context.Context, bookID string, qty int) (int64, error)
	Release(ctx context.Context, bookID string, qty int) (int64, error)
	Stock(ctx context.Context, bookID string) (int, error)
}
