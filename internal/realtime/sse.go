package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/httpx"
)

type Subscriber interface {
	Subscribe(ctx context.Context, orderID int64) (<-chan Update, func(), error)
}

type OrderReader interface {
	Get(ctx context.Context, id int64) (orderdomain.Order, error)
}

type Handler struct {
	log       *slog.Logger
	sub       Subscriber
	orders    OrderReader
	heartbeat time.Duration
}

func NewHandler(log *slog.Logger, sub Subscriber, orders OrderReader) *Handler {
	return &Handler{log: log, sub: sub, orders: orders, heartbeat: 15 * time.Second}
}

// Stream serves GET .../{id}/events. It sends the current status, then every
// change, and ends once the order leaves WAITING.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_order_id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	ctx := r.Context()
	updates, stop, err := h.sub.Subscribe(ctx, id)
	if err != nil {
		h.log.Error("realtime subscribe failed", "order_id", id, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "realtime_unavailable")
		return
	}
	defer stop()

	// Read after subscribing so a change between the two is not lost.
	o, err := h.orders.Get(ctx, id)
	if errors.Is(err, orderdomain.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "order_not_found")
		return
	}
	if err != nil {
		h.log.Error("realtime order lookup", "order_id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(u Update) bool {
		b, _ := json.Marshal(u)
		if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return u.Status == string(orderdomain.StatusWaiting) || u.Status == string(orderdomain.StatusNew)
	}
	if !send(Update{OrderID: id, Status: string(o.Status)}) {
		return
	}

	tick := time.NewTicker(h.heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-updates:
			if !ok || !send(u) {
				return
			}
		}
	}
}
