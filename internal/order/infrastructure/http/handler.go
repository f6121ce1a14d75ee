package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	events  http.HandlerFunc
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

type orderView struct {
	ID               int64              `json:"orderId"`
	Status           domain.OrderStatus `json:"status"`
	Paid             bool               `json:"paid"`
	PaidAt           *time.Time         `json:"paidAt,omitempty"`
	Method           string             `json:"paymentMethod"`
	Total            decimal.Decimal    `json:"total"`
	Discount         decimal.Decimal    `json:"discount"`
	ReserveExpiresAt *time.Time         `json:"reserveExpiresAt,omitempty"`
	RemainingSeconds int64              `json:"remainingSeconds"`
}

// WithEvents serves the order's live status stream at /{id}/events.
func (h *Handler) WithEvents(stream http.HandlerFunc) *Handler {
	h.events = stream
	return h
}

// Routes mounts under /api/orders.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/{id}", h.getOrder)
	if h.events != nil {
		r.Get("/{id}/events", h.events)
	}

	return r
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	o, err := h.service.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		httpx.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		h.log.Error("get order failed", "order_id", id, "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	view := orderView{
		ID:               o.ID,
		Status:           o.Status,
		Paid:             o.Paid,
		PaidAt:           o.PaidAt,
		Method:           string(o.Method),
		Total:            o.Total,
		Discount:         o.DiscountAmount,
		ReserveExpiresAt: o.ReserveExpiresAt,
	}
	if o.ReserveExpiresAt != nil {
		if left := time.Until(*o.ReserveExpiresAt); left > 0 {
			view.RemainingSeconds = int64(left.Seconds())
		}
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}
