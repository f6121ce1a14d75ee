package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
)

var ErrNoReference = errors.New("order has no gateway reference")

// Reconciler funnels webhooks, polls and manual checks into the order service.
type Reconciler struct {
	log     *slog.Logger
	orders  Orders
	gateway StatusGateway
	audit   AuditLog
	now     func() time.Time
}

func NewReconciler(log *slog.Logger, orders Orders, gw StatusGateway, audit AuditLog) *Reconciler {
	return &Reconciler{
		log:     log,
		orders:  orders,
		gateway: gw,
		audit:   audit,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs one provider status through the order service. Paid statuses go
// to MarkPaidIfNeeded; recognised non-paid ones only touch the status column.
func (r *Reconciler) Apply(ctx context.Context, n domain.Notice, source string) (orderdomain.Outcome, error) {
	if domain.IsPaid(n.Status) {
		return r.orders.MarkPaidIfNeeded(ctx, n.Reference, source)
	}
	if to, ok := domain.Classify(n.Status); ok {
		return r.orders.ApplyProviderStatus(ctx, n.Reference, to, source)
	}
	r.log.Debug("provider status ignored", "ref", n.Reference.String(), "status", n.Status, "source", source)
	return orderdomain.OutcomeUnchanged, nil
}

// PixWebhook audits the body and applies every notice in it. It returns an
// error only when the body could not be stored at all.
func (r *Reconciler) PixWebhook(ctx context.Context, body []byte) error {
	notices, err := domain.ParsePix(body)
	if err != nil {
		return r.auditRejected(ctx, domain.SourcePix, body, err)
	}
	for _, n := range notices {
		if err := r.handle(ctx, domain.SourcePix, n, body); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) CardWebhook(ctx context.Context, body []byte) error {
	n, err := domain.ParseCard(body)
	if err != nil {
		return r.auditRejected(ctx, domain.SourceCard, body, err)
	}
	return r.handle(ctx, domain.SourceCard, n, body)
}

func (r *Reconciler) handle(ctx context.Context, source string, n domain.Notice, body []byte) error {
	if err := r.record(ctx, source, n.Reference.Value, n.Status, body); err != nil {
		return err
	}
	outcome, err := r.Apply(ctx, n, "webhook-"+source)
	if err != nil {
		// Acknowledged anyway: the watcher, the sweep or an admin confirm converge later.
		r.log.Error("webhook apply failed", "source", source, "ref", n.Reference.String(), "status", n.Status, "err", err)
		return nil
	}
	r.log.Info("webhook applied", "source", source, "ref", n.Reference.String(), "status", n.Status, "outcome", outcome)
	return nil
}

func (r *Reconciler) auditRejected(ctx context.Context, source string, body []byte, cause error) error {
	status := domain.StatusNoReference
	if errors.Is(cause, domain.ErrMalformed) {
		status = domain.StatusInvalidJSON
	}
	r.log.Warn("webhook payload rejected", "source", source, "status", status, "err", cause)
	return r.record(ctx, source, "", status, body)
}

func (r *Reconciler) record(ctx context.Context, source, ref, status string, body []byte) error {
	metrics.Webhooks.WithLabelValues(source, status).Inc()
	err := r.audit.Record(ctx, domain.AuditRecord{
		Source:     source,
		Reference:  ref,
		Status:     status,
		Raw:        body,
		ReceivedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("audit %s webhook: %w", source, err)
	}
	return nil
}

// ConfirmManually re-queries the gateway for an order and applies the answer.
func (r *Reconciler) ConfirmManually(ctx context.Context, orderID int64) (orderdomain.Outcome, string, error) {
	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return "", "", err
	}
	ref := o.Reference()
	if ref.Value == "" {
		return "", "", fmt.Errorf("order %d: %w", orderID, ErrNoReference)
	}

	var status string
	switch ref.Method {
	case orderdomain.MethodCard:
		status, err = r.gateway.CardStatus(ctx, ref.Value)
	default:
		status, err = r.gateway.PixStatus(ctx, ref.Value)
	}
	if err != nil {
		return "", "", err
	}
	outcome, err := r.Apply(ctx, domain.Notice{Reference: ref, Status: status}, "admin")
	return outcome, status, err
}
