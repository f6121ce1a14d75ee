package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/domain"
)

// AuditLog writes webhook_events. The table has no UPDATE path.
type AuditLog struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewAuditLog(log *slog.Logger, pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{log: log, pool: pool}
}

func (a *AuditLog) Record(ctx context.Context, rec domain.AuditRecord) error {
	_, err := a.pool.Exec(ctx, `INSERT INTO webhook_events (source, reference, status, raw_body, received_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		rec.Source, rec.Reference, rec.Status, string(rec.Raw), rec.ReceivedAt)
	return err
}
