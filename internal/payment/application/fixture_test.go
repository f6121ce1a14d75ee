package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway/stub"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/inventorytest"
	orderapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/ordertest"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
)

type memAudit struct {
	mu   sync.Mutex
	rows []domain.AuditRecord
	err  error
}

func (a *memAudit) Record(ctx context.Context, rec domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, rec)
	return nil
}

func (a *memAudit) statuses() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.rows))
	for _, r := range a.rows {
		out = append(out, r.Status)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock  *clock
	stock  *inventorytest.Store
	repo   *ordertest.Repository
	orders *orderapp.Service
	gw     *stub.Provider
	audit  *memAudit
	rec    *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()
	c := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	stock := inventorytest.NewStore(map[string]int{"quincas": 4})
	repo := ordertest.NewRepository(stock)
	orders := orderapp.NewService(log, repo).WithClock(c.Now)
	gw := stub.New()
	audit := &memAudit{}
	rec := NewReconciler(log, orders, gw, audit)
	rec.now = c.Now
	return &fixture{clock: c, stock: stock, repo: repo, orders: orders, gw: gw, audit: audit, rec: rec}
}

// waiting places an order holding one copy behind ref, open for ttl.
func (f *fixture) waiting(t *testing.T, ref orderdomain.Reference, ttl time.Duration) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.orders.Place(ctx, orderdomain.Order{
		Method: ref.Method,
		Items:  []orderdomain.OrderItem{{BookID: "quincas", Title: "Quincas Borba", Quantity: 1, Price: decimal.RequireFromString("45.00")}},
		Total:  decimal.RequireFromString("45.00"),
	})
	require.NoError(t, err)
	n, err := f.stock.TryReserve(ctx, "quincas", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	_, err = f.orders.OpenReservation(ctx, id, ttl)
	require.NoError(t, err)
	require.NoError(t, f.orders.AttachReference(ctx, id, ref))
	return id
}

func (f *fixture) get(t *testing.T, id int64) orderdomain.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}
