package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
)

const sweepBatch = 100

// Invalidator expires WAITING orders whose reservation lapsed and cancels
// their payment intent at the gateway.
type Invalidator struct {
	log      *slog.Logger
	orders   ExpiringOrders
	gw       CancelGateway
	interval time.Duration
}

func NewInvalidator(log *slog.Logger, orders ExpiringOrders, gw CancelGateway, interval time.Duration) *Invalidator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Invalidator{log: log, orders: orders, gw: gw, interval: interval}
}

func (v *Invalidator) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := v.Sweep(ctx)
			if err != nil {
				v.log.Error("reservation sweep", "expired", n, "err", err)
			} else if n > 0 {
				v.log.Info("reservation sweep", "expired", n)
			}
		}
	}
}

// Sweep runs until no lapsed WAITING order is left and returns how many it expired.
func (v *Invalidator) Sweep(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	seen := map[int64]bool{}
	for {
		batch, err := v.orders.ExpiredWaiting(ctx, sweepBatch)
		if err != nil {
			return total, errors.Join(append(errs, err)...)
		}
		progressed := false
		for _, o := range batch {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			progressed = true

			v.cancel(ctx, o)
			expired, err := v.orders.ExpireIfUnpaid(ctx, o.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("expire order %d: %w", o.ID, err))
				continue
			}
			if expired {
				total++
				metrics.Expired.Inc()
			}
		}
		if len(batch) < sweepBatch || !progressed {
			return total, errors.Join(errs...)
		}
	}
}

// cancel is best effort; not-found already counts as success inside the gateway client.
func (v *Invalidator) cancel(ctx context.Context, o orderdomain.Order) {
	var err error
	switch {
	case o.Method == orderdomain.MethodCard && o.ChargeID != "":
		_, err = v.gw.CancelCard(ctx, o.ChargeID)
	case o.Method == orderdomain.MethodPix && o.TxID != "":
		_, err = v.gw.CancelPix(ctx, o.TxID)
	default:
		return
	}
	if err != nil {
		v.log.Warn("gateway cancel failed, expiring anyway", "order_id", o.ID, "ref", o.Reference().String(), "err", err)
	}
}
