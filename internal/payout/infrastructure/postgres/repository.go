package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
)

const payoutColumns = `order_id, status, gross_cents, fee_cents, margin_cents, net_cents,
	fee_percent::text, fee_fixed_cents, fees_included, margin_percent::text, margin_fixed_cents, min_send_cents,
	pix_key, send_id, COALESCE(provider_ref, ''), COALESCE(end_to_end_id, ''), COALESCE(fail_reason, ''),
	created_at, updated_at, sent_at, confirmed_at, failed_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Totals reads the versioned totals view. A missing total is reported as
// zero with Known false.
func (r *Repository) Totals(ctx context.Context, orderID int64) (domain.OrderTotals, error) {
	var total *int64
	var paid bool
	err := r.pool.QueryRow(ctx, `SELECT total_cents, paid FROM order_totals_v1 WHERE order_id = $1`, orderID).Scan(&total, &paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderTotals{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderTotals{}, err
	}
	t := domain.OrderTotals{OrderID: orderID, Gross: decimal.Zero, Paid: paid}
	if total != nil {
		t.Gross, t.Known = money.FromCents(*total), true
	}
	return t, nil
}

func (r *Repository) SellerPixKey(ctx context.Context) (string, error) {
	var key string
	err := r.pool.QueryRow(ctx, `SELECT pix_key FROM sellers WHERE active AND pix_key <> '' ORDER BY id LIMIT 1`).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return key, err
}

func (r *Repository) Get(ctx context.Context, orderID int64) (domain.Payout, error) {
	return scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE order_id = $1`, orderID))
}

func (r *Repository) FindByProviderRef(ctx context.Context, ref string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT order_id FROM payouts WHERE provider_ref = $1 OR end_to_end_id = $1 LIMIT 1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return id, err
}

func (r *Repository) UpsertCreated(ctx context.Context, p domain.Payout, claimWindow time.Duration) (bool, error) {
	b, pol := p.Breakdown, p.Policy
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO payouts (order_id, status, gross_cents, fee_cents, margin_cents, net_cents,
			fee_percent, fee_fixed_cents, fees_included, margin_percent, margin_fixed_cents, min_send_cents,
			pix_key, send_id, created_at, updated_at)
		VALUES ($1, 'CREATED', $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (order_id) DO UPDATE
		SET status = 'CREATED', gross_cents = EXCLUDED.gross_cents, fee_cents = EXCLUDED.fee_cents,
		    margin_cents = EXCLUDED.margin_cents, net_cents = EXCLUDED.net_cents,
		    fee_percent = EXCLUDED.fee_percent, fee_fixed_cents = EXCLUDED.fee_fixed_cents,
		    fees_included = EXCLUDED.fees_included, margin_percent = EXCLUDED.margin_percent,
		    margin_fixed_cents = EXCLUDED.margin_fixed_cents, min_send_cents = EXCLUDED.min_send_cents,
		    pix_key = EXCLUDED.pix_key, fail_reason = NULL, failed_at = NULL, updated_at = EXCLUDED.updated_at
		WHERE payouts.status = 'FAILED'
		   OR (payouts.status = 'CREATED' AND payouts.updated_at < EXCLUDED.updated_at - $15::float8 * interval '1 second')
		RETURNING order_id`,
		p.OrderID, money.ToCents(b.Gross), money.ToCents(b.Fee), money.ToCents(b.Margin), money.ToCents(b.Net),
		pol.FeePercent.String(), money.ToCents(pol.FeeFixed), pol.FeesIncluded, pol.MarginPercent.String(), money.ToCents(pol.MarginFixed),
		money.ToCents(pol.EffectiveMinimum()), p.PixKey, p.SendID, p.CreatedAt, claimWindow.Seconds(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert payout %d: %w", p.OrderID, err)
	}
	return true, nil
}

func (r *Repository) MarkSent(ctx context.Context, orderID int64, providerRef string, at time.Time) (bool, error) {
	return r.guarded(ctx, `UPDATE payouts SET status = 'SENT', provider_ref = $2, sent_at = $3, updated_at = $3, fail_reason = NULL
		WHERE order_id = $1 AND status IN ('CREATED', 'FAILED')`, orderID, providerRef, at)
}

func (r *Repository) MarkConfirmed(ctx context.Context, orderID int64, endToEndID string, at time.Time) (bool, error) {
	return r.guarded(ctx, `UPDATE payouts SET status = 'CONFIRMED', end_to_end_id = NULLIF($2, ''), confirmed_at = $3, updated_at = $3
		WHERE order_id = $1 AND status <> 'CONFIRMED'`, orderID, endToEndID, at)
}

func (r *Repository) MarkFailed(ctx context.Context, orderID int64, reason string, at time.Time) (bool, error) {
	return r.guarded(ctx, `UPDATE payouts SET status = 'FAILED', fail_reason = $2, failed_at = $3, updated_at = $3
		WHERE order_id = $1 AND status <> 'CONFIRMED'`, orderID, reason, at)
}

func (r *Repository) guarded(ctx context.Context, sql string, args ...any) (bool, error) {
	ct, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		r.log.Info("payout guard rejected write", "order_id", args[0])
		return false, nil
	}
	return true, nil
}

func scanPayout(row pgx.Row) (domain.Payout, error) {
	var p domain.Payout
	var gross, fee, margin, net, feeFixed, marginFixed, minSend int64
	var feePct, marginPct string
	err := row.Scan(&p.OrderID, &p.Status, &gross, &fee, &margin, &net,
		&feePct, &feeFixed, &p.Policy.FeesIncluded, &marginPct, &marginFixed, &minSend,
		&p.PixKey, &p.SendID, &p.ProviderRef, &p.EndToEndID, &p.FailReason,
		&p.CreatedAt, &p.UpdatedAt, &p.SentAt, &p.ConfirmedAt, &p.FailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payout{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Payout{}, err
	}
	p.Breakdown = domain.Breakdown{
		Gross:  money.FromCents(gross),
		Fee:    money.FromCents(fee),
		Margin: money.FromCents(margin),
		Net:    money.FromCents(net),
	}
	p.Policy.FeePercent, _ = decimal.NewFromString(feePct)
	p.Policy.MarginPercent, _ = decimal.NewFromString(marginPct)
	p.Policy.FeeFixed = money.FromCents(feeFixed)
	p.Policy.MarginFixed = money.FromCents(marginFixed)
	p.Policy.MinSend = money.FromCents(minSend)
	return p, nil
}
