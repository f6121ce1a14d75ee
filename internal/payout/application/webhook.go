package application

import (
	"context"
	"encoding/json"
	"fmt"

	paymentdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
)

const SourcePayout = "payout"

type AuditLog interface {
	Record(ctx context.Context, rec paymentdomain.AuditRecord) error
}

func (s *Service) WithAudit(a AuditLog) *Service {
	s.audit = a
	return s
}

// Webhook stores the raw settlement callback and reconciles every notice in
// it. Only a failed audit write is returned; the provider retries on non-2xx.
func (s *Service) Webhook(ctx context.Context, body []byte) error {
	notices, perr := domain.ParseNotices(body)
	rec := paymentdomain.AuditRecord{Source: SourcePayout, Raw: body, ReceivedAt: s.now()}
	switch {
	case perr != nil && !json.Valid(body):
		rec.Status = paymentdomain.StatusInvalidJSON
	case perr != nil:
		rec.Status = paymentdomain.StatusNoReference
	default:
		rec.Reference, rec.Status = notices[0].Reference, notices[0].Status
		if rec.Reference == "" {
			rec.Reference = notices[0].EndToEndID
		}
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, rec); err != nil {
			metrics.Webhooks.WithLabelValues(SourcePayout, "not_stored").Inc()
			return fmt.Errorf("audit payout webhook: %w", err)
		}
	}
	if perr != nil {
		s.log.Warn("payout webhook rejected", "status", rec.Status, "err", perr)
		metrics.Webhooks.WithLabelValues(SourcePayout, rec.Status).Inc()
		return nil
	}

	for _, n := range notices {
		out, err := s.Reconcile(ctx, n)
		if err != nil {
			s.log.Error("payout notice not applied", "ref", n.Reference, "status", n.Status, "err", err)
			continue
		}
		metrics.Webhooks.WithLabelValues(SourcePayout, string(out)).Inc()
	}
	return nil
}
