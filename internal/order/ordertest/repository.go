// Package ordertest is an in-memory order store. InTx holds one lock for the
// whole callback and applies writes only on success, which gives the same
// serialisation the Postgres row lock gives per order.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
)

// Releaser gives stock back; inventorytest.Store satisfies it.
type Releaser interface {
	Release(ctx context.Context, bookID string, qty int) (int64, error)
}

type Repository struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]domain.Order
	stock  Releaser
	events []outbox.Message
	// FailUpdates makes every Update inside InTx fail.
	FailUpdates error
}

func NewRepository(stock Releaser) *Repository {
	return &Repository{nextID: 1, orders: map[int64]domain.Order{}, stock: stock}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.ID = r.nextID
	r.nextID++
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	r.orders[o.ID] = o
	return o.ID, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (r *Repository) ListExpiredWaiting(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.StatusWaiting && !o.Paid && o.Lapsed(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) InTx(ctx context.Context, fn func(tx application.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{repo: r, writes: map[int64]domain.Order{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, o := range tx.writes {
		r.orders[id] = o
	}
	for _, rel := range tx.releases {
		if _, err := r.stock.Release(ctx, rel.BookID, rel.Quantity); err != nil {
			return err
		}
	}
	r.events = append(r.events, tx.events...)
	return nil
}

// Events returns every committed outbox message.
func (r *Repository) Events() []outbox.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outbox.Message(nil), r.events...)
}

func (r *Repository) EventsOfType(t string) []outbox.Message {
	var out []outbox.Message
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Put overwrites an order, for arranging test state.
func (r *Repository) Put(o domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
	if o.ID >= r.nextID {
		r.nextID = o.ID + 1
	}
}

type memTx struct {
	repo     *Repository
	writes   map[int64]domain.Order
	releases []domain.OrderItem
	events   []outbox.Message
}

func (t *memTx) read(id int64) (domain.Order, bool) {
	if o, ok := t.writes[id]; ok {
		return o, true
	}
	o, ok := t.repo.orders[id]
	return o, ok
}

func (t *memTx) LockByID(ctx context.Context, id int64) (domain.Order, error) {
	o, ok := t.read(id)
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (t *memTx) LockByReference(ctx context.Context, ref domain.Reference) (domain.Order, error) {
	for id := range t.repo.orders {
		o, _ := t.read(id)
		if ref.Value == "" {
			continue
		}
		if (ref.Method == domain.MethodPix && o.TxID == ref.Value) || (ref.Method == domain.MethodCard && o.ChargeID == ref.Value) {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (t *memTx) Update(ctx context.Context, o domain.Order) error {
	if t.repo.FailUpdates != nil {
		return t.repo.FailUpdates
	}
	t.writes[o.ID] = o
	return nil
}

func (t *memTx) ReleaseStock(ctx context.Context, items []domain.OrderItem) error {
	t.releases = append(t.releases, items...)
	return nil
}

func (t *memTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	t.events = append(t.events, msg)
	return nil
}
