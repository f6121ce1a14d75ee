package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Enqueue writes m as a pending row using db, normally the caller's open transaction.
func Enqueue(ctx context.Context, db Execer, m Message) error {
	headers := m.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := db.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		m.AggregateType, m.AggregateID, m.Type, m.Payload, headers, m.Traceparent)
	return err
}

type PgStore struct {
	log        *slog.Logger
	pool       *pgxpool.Pool
	maxRetries int
}

func NewPgStore(log *slog.Logger, pool *pgxpool.Pool, maxRetries int) *PgStore {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &PgStore{log: log, pool: pool, maxRetries: maxRetries}
}

// LockBatch leases pending rows plus in_progress rows whose lease ran out.
func (s *PgStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, COALESCE(traceparent, ''), created_at, retry_count
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, err
	}

	var events []Event
	for rows.Next() {
		var event Event
		var headers map[string]string
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload, &headers, &event.Traceparent, &event.CreatedAt, &event.RetryCount); err != nil {
			rows.Close()
			return nil, err
		}
		event.Headers = headers
		event.Status = StatusInProgress
		events = append(events, event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	_, err = tx.Exec(ctx, `UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + make_interval(secs => $2::float8) WHERE id = ANY($3)`,
		relayID, lease.Seconds(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PgStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent', sent_at=now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("outbox: no rows updated")
	}
	return nil
}

// MarkFailed puts the row back to pending until maxRetries is reached, then parks it as failed.
func (s *PgStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox
		SET status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    last_error = $2,
		    retry_count = retry_count + 1,
		    lease_until = NULL
		WHERE id = $1`, id, errMsg, s.maxRetries)
	if err == nil {
		s.log.Warn("outbox event failed", "event_id", id, "err", errMsg)
	}
	return err
}

// Park stores m as an already failed row. The relay skips it until Retry.
func (s *PgStore) Park(ctx context.Context, m Message, reason string) error {
	headers := m.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status, last_error, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6,'failed',$7,$8)`,
		m.AggregateType, m.AggregateID, m.Type, m.Payload, headers, m.Traceparent, reason, s.maxRetries)
	if err == nil {
		s.log.Error("outbox event parked", "aggregate_id", m.AggregateID, "type", m.Type, "reason", reason)
	}
	return err
}

// Requeue appends m as a new pending row.
func (s *PgStore) Requeue(ctx context.Context, m Message) error {
	return Enqueue(ctx, s.pool, m)
}

// Retry puts a failed row back to pending with a fresh retry budget.
func (s *PgStore) Retry(ctx context.Context, id int64) (bool, error) {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox
		SET status = 'pending', retry_count = 0, lease_until = NULL, relay_id = NULL
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
