package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	invdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/httpx"
)

type Handler struct {
	log      *slog.Logger
	service  *application.Service
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
		tracer:   otel.Tracer("checkout-http"),
	}
}

type cartItem struct {
	ID       string          `json:"id" validate:"required"`
	Title    string          `json:"title"`
	Quantity int             `json:"quantity" validate:"min=1,max=100"`
	Price    decimal.Decimal `json:"price"`
}

// checkoutRequest carries client totals for display only; the server recomputes them.
type checkoutRequest struct {
	orderdomain.Customer
	Email        string          `json:"email" validate:"required,email"`
	FirstName    string          `json:"firstName" validate:"required"`
	CPF          string          `json:"cpf" validate:"required,numeric,len=11"`
	Cart         []cartItem      `json:"cartItems" validate:"required,min=1,max=50,dive"`
	Shipping     decimal.Decimal `json:"shipping"`
	CouponCode   string          `json:"couponCode" validate:"omitempty,max=40"`
	Total        decimal.Decimal `json:"total"`
	Discount     decimal.Decimal `json:"discount"`
	PaymentToken string          `json:"paymentToken"`
	Installments int             `json:"installments" validate:"omitempty,min=1,max=12"`
}

type checkoutResponse struct {
	OrderID                  int64           `json:"orderId"`
	Method                   string          `json:"paymentMethod"`
	Total                    decimal.Decimal `json:"total"`
	Discount                 decimal.Decimal `json:"discount"`
	TxID                     string          `json:"txid,omitempty"`
	QRCode                   string          `json:"qrCode,omitempty"`
	QRCodeBase64             string          `json:"qrCodeBase64,omitempty"`
	ChargeID                 string          `json:"chargeId,omitempty"`
	Status                   string          `json:"status,omitempty"`
	Paid                     bool            `json:"paid"`
	ReserveTTLSeconds        int64           `json:"reserveTtlSeconds"`
	ReserveExpiresAt         time.Time       `json:"reserveExpiresAt"`
	WarningAtSeconds         int64           `json:"warningAtSeconds"`
	SecurityWarningAtSeconds int64           `json:"securityWarningAtSeconds"`
}

// Routes mounts under /api/checkout.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/pix", h.checkout(orderdomain.MethodPix))
	r.Post("/card", h.checkout(orderdomain.MethodCard))

	return r
}

func (h *Handler) checkout(method orderdomain.PaymentMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "Checkout", trace.WithAttributes(attribute.String("payment.method", string(method))))
		defer span.End()

		var req checkoutRequest
		if err := httpx.BindAndValidate(w, r, &req, h.validate); err != nil {
			return
		}

		customer := req.Customer
		customer.Email, customer.FirstName, customer.CPF = req.Email, req.FirstName, req.CPF
		in := application.Input{
			Method:       method,
			Customer:     customer,
			Shipping:     req.Shipping,
			CouponCode:   req.CouponCode,
			PaymentToken: req.PaymentToken,
			Installments: req.Installments,
		}
		for _, it := range req.Cart {
			in.Lines = append(in.Lines, application.CartLine{BookID: it.ID, Quantity: it.Quantity})
		}

		res, err := h.service.Checkout(ctx, in)
		if err != nil {
			span.RecordError(err)
			h.writeError(w, method, err)
			return
		}
		span.SetAttributes(attribute.Int64("order.id", res.OrderID))

		httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
			OrderID:                  res.OrderID,
			Method:                   string(res.Method),
			Total:                    res.Total,
			Discount:                 res.Discount,
			TxID:                     res.TxID,
			QRCode:                   res.QRCode,
			QRCodeBase64:             res.QRCodeImage,
			ChargeID:                 res.ChargeID,
			Status:                   res.ChargeStatus,
			Paid:                     res.Paid,
			ReserveTTLSeconds:        int64(res.Window.TTL.Seconds()),
			ReserveExpiresAt:         res.ReserveExpiresAt,
			WarningAtSeconds:         int64(res.Window.WarningAt.Seconds()),
			SecurityWarningAtSeconds: int64(res.Window.SecurityAt.Seconds()),
		})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, method orderdomain.PaymentMethod, err error) {
	var (
		oos *invdomain.OutOfStockError
		ve  *domain.ValidationError
	)
	switch {
	case errors.As(err, &oos):
		httpx.WriteJSON(w, http.StatusConflict, map[string]any{
			"error":     "out_of_stock",
			"bookId":    oos.BookID,
			"requested": oos.Requested,
		})
	case errors.As(err, &ve):
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "validation_failed",
			"field":  ve.Field,
			"reason": ve.Reason,
		})
	case errors.Is(err, application.ErrPaymentDeclined):
		httpx.WriteError(w, http.StatusPaymentRequired, "payment_declined")
	case errors.Is(err, gateway.ErrGateway):
		h.log.Error("checkout gateway failure", "method", method, "err", err)
		httpx.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"error":     "gateway_error",
			"retryable": gateway.IsRetriable(err),
		})
	default:
		h.log.Error("checkout failed", "method", method, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
	}
}
