package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/inventorytest"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
)

func TestReserveAllHoldsEveryLine(t *testing.T) {
	store := inventorytest.NewStore(map[string]int{"dom-casmurro": 5, "iracema": 2})
	svc := NewService(logging.Discard(), store)

	err := svc.ReserveAll(context.Background(), []domain.Line{
		{BookID: "dom-casmurro", Quantity: 2},
		{BookID: "iracema", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, store.Level("dom-casmurro"))
	assert.Equal(t, 0, store.Level("iracema"))
}

func TestReserveAllRollsBackOnShortage(t *testing.T) {
	store := inventorytest.NewStore(map[string]int{"dom-casmurro": 5, "iracema": 1})
	svc := NewService(logging.Discard(), store)

	err := svc.ReserveAll(context.Background(), []domain.Line{
		{BookID: "dom-casmurro", Quantity: 2},
		{BookID: "iracema", Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrOutOfStock)

	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, "iracema", oos.BookID)
	assert.Equal(t, 5, store.Level("dom-casmurro"))
	assert.Equal(t, 1, store.Level("iracema"))
}

func TestReserveAllMergesDuplicateLines(t *testing.T) {
	store := inventorytest.NewStore(map[string]int{"iracema": 3})
	svc := NewService(logging.Discard(), store)

	err := svc.ReserveAll(context.Background(), []domain.Line{
		{BookID: "iracema", Quantity: 2},
		{BookID: "iracema", Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, 3, store.Level("iracema"))
	assert.Zero(t, store.Reserves)
}

func TestReserveAllRejectsNonPositiveQuantity(t *testing.T) {
	svc := NewService(logging.Discard(), inventorytest.NewStore(map[string]int{"iracema": 3}))
	err := svc.ReserveAll(context.Background(), []domain.Line{{BookID: "iracema", Quantity: 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestPrecheck(t *testing.T) {
	svc := NewService(logging.Discard(), inventorytest.NewStore(map[string]int{"iracema": 1}))

	assert.NoError(t, svc.Precheck(context.Background(), []domain.Line{{BookID: "iracema", Quantity: 1}}))
	assert.ErrorIs(t, svc.Precheck(context.Background(), []domain.Line{{BookID: "iracema", Quantity: 2}}), domain.ErrOutOfStock)
	assert.ErrorIs(t, svc.Precheck(context.Background(), []domain.Line{{BookID: "missing", Quantity: 1}}), domain.ErrUnknownBook)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	const stock, buyers = 10, 50
	store := inventorytest.NewStore(map[string]int{"iracema": stock})
	svc := NewService(logging.Discard(), store)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.ReserveAll(context.Background(), []domain.Line{{BookID: "iracema", Quantity: 1}})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(stock), ok.Load())
	assert.Equal(t, int32(buyers-stock), rejected.Load())
	assert.Equal(t, 0, store.Level("iracema"))
}
