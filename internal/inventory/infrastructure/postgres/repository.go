package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so the same queries run inside an order transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	log *slog.Logger
	db  DBTX
}

func NewRepository(log *slog.Logger, db DBTX) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) TryReserve(ctx context.Context, bookID string, qty int) (int64, error) {
	ct, err := r.db.Exec(ctx, `UPDATE books SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`, bookID, qty)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repository) Release(ctx context.Context, bookID string, qty int) (int64, error) {
	ct, err := r.db.Exec(ctx, `UPDATE books SET stock = stock + $2, updated_at = now() WHERE id = $1`, bookID, qty)
	if err != nil {
		return 0, err
	}
	if ct.RowsAffected() == 0 {
		r.log.Warn("release hit no book row", "book_id", bookID, "qty", qty)
	}
	return ct.RowsAffected(), nil
}

func (r *Repository) Stock(ctx context.Context, bookID string) (int, error) {
	var stock int
	err := r.db.QueryRow(ctx, `SELECT stock FROM books WHERE id = $1 AND active`, bookID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrUnknownBook
	}
	return stock, err
}
