package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	invpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/infrastructure/postgres"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
)

const orderColumns = `id, first_name, last_name, email, phone, cpf, cep, address, number, complement, district, city, state, note,
	shipping_cents, total_cents, discount_cents, COALESCE(coupon_code, ''), payment_method,
	COALESCE(txid, ''), COALESCE(charge_id, ''), paid, paid_at, status, reserve_expires_at, created_at, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	c := o.Customer
	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO orders (first_name, last_name, email, phone, cpf, cep, address, number, complement, district, city, state, note,
			shipping_cents, total_cents, discount_cents, coupon_code, payment_method, paid, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NULLIF($17,''),$18,false,$19,$20,$20)
		RETURNING id`,
		c.FirstName, c.LastName, c.Email, c.Phone, c.CPF, c.CEP, c.Address, c.Number, c.Complement, c.District, c.City, c.State, c.Note,
		money.ToCents(o.Shipping), money.ToCents(o.Total), money.ToCents(o.DiscountAmount), o.CouponCode, o.Method, o.Status, o.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, book_id, title, quantity, price_cents) VALUES ($1,$2,$3,$4,$5)`,
			id, item.BookID, item.Title, item.Quantity, money.ToCents(item.Price))
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("insert order items: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	o.Items, err = loadItems(ctx, r.pool, id)
	return o, err
}

func (r *Repository) ListExpiredWaiting(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = 'WAITING' AND NOT paid AND reserve_expires_at < $1
		ORDER BY reserve_expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) InTx(ctx context.Context, fn func(tx application.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&orderTx{tx: tx, stock: invpg.NewRepository(r.log, tx)}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type orderTx struct {
	tx    pgx.Tx
	stock *invpg.Repository
}

func (t *orderTx) LockByID(ctx context.Context, id int64) (domain.Order, error) {
	return t.lock(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *orderTx) LockByReference(ctx context.Context, ref domain.Reference) (domain.Order, error) {
	if ref.Value == "" {
		return domain.Order{}, domain.ErrNotFound
	}
	column := "txid"
	if ref.Method == domain.MethodCard {
		column = "charge_id"
	}
	return t.lock(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1 FOR UPDATE`, ref.Value)
}

func (t *orderTx) lock(ctx context.Context, sql string, arg any) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, sql, arg))
	if err != nil {
		return domain.Order{}, err
	}
	o.Items, err = loadItems(ctx, t.tx, o.ID)
	return o, err
}

func (t *orderTx) Update(ctx context.Context, o domain.Order) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders
		SET status = $2, paid = $3, paid_at = $4, reserve_expires_at = $5,
		    txid = NULLIF($6, ''), charge_id = NULLIF($7, ''), updated_at = now()
		WHERE id = $1`,
		o.ID, o.Status, o.Paid, o.PaidAt, o.ReserveExpiresAt, o.TxID, o.ChargeID)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *orderTx) ReleaseStock(ctx context.Context, items []domain.OrderItem) error {
	for _, it := range items {
		if _, err := t.stock.Release(ctx, it.BookID, it.Quantity); err != nil {
			return fmt.Errorf("release %s: %w", it.BookID, err)
		}
	}
	return nil
}

func (t *orderTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return outbox.Enqueue(ctx, t.tx, msg)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT book_id, title, quantity, price_cents FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		var price int64
		if err := rows.Scan(&it.BookID, &it.Title, &it.Quantity, &price); err != nil {
			return nil, err
		}
		it.Price = money.FromCents(price)
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var shipping, total, discount int64
	c := &o.Customer
	err := row.Scan(&o.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CPF, &c.CEP, &c.Address, &c.Number, &c.Complement, &c.District, &c.City, &c.State, &c.Note,
		&shipping, &total, &discount, &o.CouponCode, &o.Method,
		&o.TxID, &o.ChargeID, &o.Paid, &o.PaidAt, &o.Status, &o.ReserveExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.Shipping = money.FromCents(shipping)
	o.Total = money.FromCents(total)
	o.DiscountAmount = money.FromCents(discount)
	return o, nil
}
