package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/domain"
)

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// Claim inserts a PENDING row, or takes back a FAILED one. A PENDING row
// older than ten minutes belongs to a sender that died and is taken too.
func (s *Store) Claim(ctx context.Context, orderID int64, kind domain.Kind, recipient string) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO notifications (order_id, kind, recipient, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 'PENDING', 1, now(), now())
		ON CONFLICT (order_id, kind) DO UPDATE
		SET status = 'PENDING', recipient = EXCLUDED.recipient, attempts = notifications.attempts + 1, last_error = NULL, updated_at = now()
		WHERE notifications.status = 'FAILED'
		   OR (notifications.status = 'PENDING' AND notifications.updated_at < now() - interval '10 minutes')
		RETURNING order_id`, orderID, kind, recipient).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkSent(ctx context.Context, orderID int64, kind domain.Kind) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET status = 'SENT', sent_at = now(), updated_at = now()
		WHERE order_id = $1 AND kind = $2`, orderID, kind)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, orderID int64, kind domain.Kind, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET status = 'FAILED', last_error = $3, updated_at = now()
		WHERE order_id = $1 AND kind = $2 AND status <> 'SENT'`, orderID, kind, reason)
	return err
}
