package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/httpx"
)

const maxWebhookBody = 1 << 20

// WebhookAliases maps path variants the gateway has been seen calling onto the
// canonical routes. The gateway appends "/pix" to the registered PIX URL.
var WebhookAliases = map[string]string{
	"/webhook/pix":              "/webhooks/pix",
	"/webhooks/pix/pix":         "/webhooks/pix",
	"/webhook/pix/pix":          "/webhooks/pix",
	"/api/webhooks/efi/pix":     "/webhooks/pix",
	"/api/webhooks/efi/pix/pix": "/webhooks/pix",
	"/webhook/card":             "/webhooks/card",
	"/api/webhooks/efi/card":    "/webhooks/card",
}

type Handler struct {
	log    *slog.Logger
	rec    *application.Reconciler
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, rec *application.Reconciler) *Handler {
	return &Handler{
		log:    log,
		rec:    rec,
		tracer: otel.Tracer("payment-http"),
	}
}

// Routes mounts under /webhooks.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/pix", h.webhook("PixWebhook", h.rec.PixWebhook))
	r.Post("/card", h.webhook("CardWebhook", h.rec.CardWebhook))

	return r
}

// AdminRoutes mounts under /api/admin behind a token check.
func (h *Handler) AdminRoutes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders/{id}/confirm", h.confirm)

	return r
}

// webhook acknowledges anything it managed to audit; the gateway retries hard on non-2xx.
func (h *Handler) webhook(name string, apply func(ctx context.Context, body []byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), name)
		defer span.End()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "unreadable_body")
			return
		}
		if err := apply(ctx, body); err != nil {
			span.RecordError(err)
			h.log.Error("webhook not stored", "handler", name, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "not_stored")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmOrder")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_order_id")
		return
	}

	outcome, status, err := h.rec.ConfirmManually(ctx, id)
	switch {
	case errors.Is(err, orderdomain.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "order_not_found")
	case errors.Is(err, application.ErrNoReference):
		httpx.WriteError(w, http.StatusConflict, "no_gateway_reference")
	case errors.Is(err, gateway.ErrGateway):
		h.log.Error("manual confirm gateway failure", "order_id", id, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "gateway_error")
	case err != nil:
		h.log.Error("manual confirm failed", "order_id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
	default:
		h.log.Info("manual confirm", "order_id", id, "provider_status", status, "outcome", outcome)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"orderId":        id,
			"providerStatus": status,
			"outcome":        outcome,
		})
	}
}
