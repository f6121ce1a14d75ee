package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	notifydomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/domain"
	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	payoutapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/application"
	payoutdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
)

type Orders interface {
	Get(ctx context.Context, id int64) (orderdomain.Order, error)
}

type Notifier interface {
	Notify(ctx context.Context, orderID int64, kind notifydomain.Kind, data map[string]any) error
}

type Publisher interface {
	Publish(ctx context.Context, orderID int64, status string) error
}

type Payouts interface {
	TryTrigger(ctx context.Context, req payoutapp.Request) (payoutdomain.Result, error)
}

// Handler runs the work that follows a committed payment decision. Every
// step is idempotent, so a redelivered event is safe to run again.
type Handler struct {
	log      *slog.Logger
	orders   Orders
	notifier Notifier
	realtime Publisher
	payouts  Payouts
}

func NewHandler(log *slog.Logger, orders Orders, notifier Notifier, realtime Publisher, payouts Payouts) *Handler {
	return &Handler{log: log, orders: orders, notifier: notifier, realtime: realtime, payouts: payouts}
}

// Handle returns nil for event types it does not know.
func (h *Handler) Handle(ctx context.Context, eventID, eventType string, payload []byte) error {
	switch eventType {
	case orderdomain.EventOrderConfirmed:
		var ev orderdomain.OrderConfirmed
		if err := json.Unmarshal(payload, &ev); err != nil {
			h.log.Error("bad OrderConfirmed payload", "event_id", eventID, "err", err)
			return nil
		}
		return h.confirmed(ctx, eventID, ev)
	case orderdomain.EventOrderPaidLate:
		var ev orderdomain.OrderPaidLate
		if err := json.Unmarshal(payload, &ev); err != nil {
			h.log.Error("bad OrderPaidLate payload", "event_id", eventID, "err", err)
			return nil
		}
		return h.paidLate(ctx, ev)
	}
	h.log.Debug("event ignored", "event_id", eventID, "type", eventType)
	return nil
}

func (h *Handler) confirmed(ctx context.Context, eventID string, ev orderdomain.OrderConfirmed) error {
	o, err := h.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", ev.OrderID, err)
	}
	log := h.log.With("order_id", o.ID, "event_id", eventID)
	data := orderData(o)

	var errs []error
	if err := h.realtime.Publish(ctx, o.ID, string(orderdomain.StatusConfirmed)); err != nil {
		log.Warn("realtime publish failed", "err", err)
	}
	for _, kind := range []notifydomain.Kind{notifydomain.KindOrderConfirmedClient, notifydomain.KindOrderConfirmedSeller} {
		if err := h.notifier.Notify(ctx, o.ID, kind, data); err != nil {
			log.Error("notification failure", "kind", kind, "err", err)
			errs = append(errs, err)
		}
	}

	res, err := h.payouts.TryTrigger(ctx, payoutapp.Request{
		OrderRef:   strconv.FormatInt(o.ID, 10),
		ExternalID: eventID,
		Source:     "order-confirmed",
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("payout: %w", err))
	} else {
		log.Info("payout attempted", "result", res.Status, "payout_status", res.Payout, "message", res.Message)
	}
	return errors.Join(errs...)
}

func (h *Handler) paidLate(ctx context.Context, ev orderdomain.OrderPaidLate) error {
	o, err := h.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", ev.OrderID, err)
	}
	data := orderData(o)
	data["Reference"] = ev.Reference
	if err := h.notifier.Notify(ctx, o.ID, notifydomain.KindOrderPaidLate, data); err != nil {
		h.log.Error("notification failure", "order_id", o.ID, "kind", notifydomain.KindOrderPaidLate, "err", err)
		return err
	}
	return nil
}

func orderData(o orderdomain.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"Title":    it.Title,
			"Quantity": it.Quantity,
			"Price":    it.Price.StringFixed(2),
		})
	}
	data := map[string]any{
		"Name":   o.Customer.FullName(),
		"Email":  o.Customer.Email,
		"Method": string(o.Method),
		"Items":  items,
		"Total":  o.Total.StringFixed(2),
	}
	if o.DiscountAmount.IsPositive() {
		data["Discount"] = o.DiscountAmount.StringFixed(2)
	}
	return data
}
