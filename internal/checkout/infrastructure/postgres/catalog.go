package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
)

type Catalog struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewCatalog(log *slog.Logger, pool *pgxpool.Pool) *Catalog {
	return &Catalog{log: log, pool: pool}
}

func (c *Catalog) Books(ctx context.Context, ids []string) (map[string]domain.Book, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, title, price_cents, active FROM books WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Book, len(ids))
	for rows.Next() {
		var (
			b     domain.Book
			cents int64
		)
		if err := rows.Scan(&b.ID, &b.Title, &cents, &b.Active); err != nil {
			return nil, err
		}
		b.Price = money.FromCents(cents)
		out[b.ID] = b
	}
	return out, rows.Err()
}

type Coupons struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewCoupons(log *slog.Logger, pool *pgxpool.Pool) *Coupons {
	return &Coupons{log: log, pool: pool}
}

func (c *Coupons) Find(ctx context.Context, code string) (domain.Coupon, error) {
	var (
		cp       domain.Coupon
		kind     string
		value    string
		minCents int64
	)
	err := c.pool.QueryRow(ctx, `SELECT code, kind, value::text, min_order_cents, usage_limit, starts_at, ends_at, active
		FROM coupons WHERE upper(code) = $1`, code,
	).Scan(&cp.Code, &kind, &value, &minCents, &cp.UsageLimit, &cp.StartsAt, &cp.EndsAt, &cp.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Coupon{}, domain.ErrUnknownCoupon
	}
	if err != nil {
		return domain.Coupon{}, err
	}

	cp.Kind = domain.CouponKind(kind)
	cp.Code = domain.NormalizeCode(cp.Code)
	cp.MinOrder = money.FromCents(minCents)
	if cp.Value, err = decimal.NewFromString(value); err != nil {
		return domain.Coupon{}, fmt.Errorf("coupon %s value %q: %w", code, value, err)
	}
	if cp.StartsAt != nil {
		t := cp.StartsAt.UTC()
		cp.StartsAt = &t
	}
	if cp.EndsAt != nil {
		t := cp.EndsAt.UTC()
		cp.EndsAt = &t
	}
	return cp, nil
}

// PaidUses counts paid orders carrying the code; abandoned checkouts do not consume a use.
func (c *Coupons) PaidUses(ctx context.Context, code string) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE upper(coupon_code) = $1 AND paid`, code).Scan(&n)
	return n, err
}
