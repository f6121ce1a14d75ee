package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/httpx"
)

const maxWebhookBody = 1 << 20

var WebhookAliases = map[string]string{
	"/webhook/payout":          "/webhooks/payout",
	"/webhooks/payout/pix":     "/webhooks/payout",
	"/api/webhooks/efi/payout": "/webhooks/payout",
}

type Handler struct {
	log      *slog.Logger
	svc      *application.Service
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, svc *application.Service) *Handler {
	return &Handler{
		log:      log,
		svc:      svc,
		validate: validator.New(),
		tracer:   otel.Tracer("payout-http"),
	}
}

// Routes mounts under /webhooks.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payout", h.webhook)

	return r
}

// AdminRoutes mounts under /api/admin behind a token check.
func (h *Handler) AdminRoutes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payouts/{orderId}/trigger", h.trigger)
	r.Post("/payouts/{orderId}/refresh", h.refresh)
	r.Get("/payouts/{orderId}", h.get)

	return r
}

type triggerRequest struct {
	PixKey string `json:"pixKey" validate:"omitempty,max=77"`
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TriggerPayout")
	defer span.End()

	var req triggerRequest
	if r.ContentLength != 0 {
		if err := httpx.BindAndValidate(w, r, &req, h.validate); err != nil {
			return
		}
	}

	res, err := h.svc.TryTrigger(ctx, application.Request{
		OrderRef:       chi.URLParam(r, "orderId"),
		ExternalID:     r.Header.Get("X-Request-Id"),
		Source:         "admin",
		OverridePixKey: req.PixKey,
	})
	if errors.Is(err, domain.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "order_not_found")
		return
	}
	if err != nil {
		span.RecordError(err)
		h.log.Error("payout trigger failed", "order_ref", chi.URLParam(r, "orderId"), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	status := http.StatusOK
	if res.Status == domain.ResultError {
		status = http.StatusConflict
	}
	httpx.WriteJSON(w, status, res)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RefreshPayout")
	defer span.End()

	id, ok := orderID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Refresh(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, gateway.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "payout_not_found")
	case errors.Is(err, gateway.ErrGateway):
		h.log.Error("payout refresh gateway failure", "order_id", id, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "gateway_error")
	case err != nil:
		span.RecordError(err)
		h.log.Error("payout refresh failed", "order_id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"orderId": id, "outcome": out})
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "payout_not_found")
		return
	}
	if err != nil {
		h.log.Error("load payout", "order_id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"orderId":     p.OrderID,
		"status":      p.Status,
		"gross":       p.Breakdown.Gross,
		"fee":         p.Breakdown.Fee,
		"margin":      p.Breakdown.Margin,
		"net":         p.Breakdown.Net,
		"pixKey":      p.PixKey,
		"providerRef": p.ProviderRef,
		"endToEndId":  p.EndToEndID,
		"failReason":  p.FailReason,
		"sentAt":      p.SentAt,
		"confirmedAt": p.ConfirmedAt,
	})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PayoutWebhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "unreadable_body")
		return
	}
	if err := h.svc.Webhook(ctx, body); err != nil {
		span.RecordError(err)
		h.log.Error("payout webhook not stored", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "not_stored")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_order_id")
		return 0, false
	}
	return id, true
}
