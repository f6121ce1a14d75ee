package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/domain"
)

// Store guards delivery so each (order, kind) is sent at most once.
type Store interface {
	// Claim returns false when the notification was already sent or another
	// sender holds it.
	Claim(ctx context.Context, orderID int64, kind domain.Kind, recipient string) (bool, error)
	MarkSent(ctx context.Context, orderID int64, kind domain.Kind) error
	MarkFailed(ctx context.Context, orderID int64, kind domain.Kind, reason string) error
}

type Mailer interface {
	Send(ctx context.Context, msg domain.Message) error
}

type Service struct {
	log         *slog.Logger
	store       Store
	mailer      Mailer
	sellerEmail string
}

func NewService(log *slog.Logger, store Store, mailer Mailer, sellerEmail string) *Service {
	return &Service{log: log, store: store, mailer: mailer, sellerEmail: sellerEmail}
}

// Notify renders and sends one message. The client confirmation goes to
// data["Email"]; every other kind goes to the seller.
func (s *Service) Notify(ctx context.Context, orderID int64, kind domain.Kind, data map[string]any) error {
	to := s.recipient(kind, data)
	if to == "" {
		return fmt.Errorf("%s for order %d: %w", kind, orderID, domain.ErrNoRecipient)
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["OrderID"] = orderID
	subject, html, err := domain.Render(kind, payload)
	if err != nil {
		return err
	}

	ok, err := s.store.Claim(ctx, orderID, kind, to)
	if err != nil {
		return fmt.Errorf("claim %s for order %d: %w", kind, orderID, err)
	}
	if !ok {
		s.log.Info("notification already handled", "order_id", orderID, "kind", kind)
		return nil
	}

	if err := s.mailer.Send(ctx, domain.Message{To: to, Subject: subject, HTML: html}); err != nil {
		if mErr := s.store.MarkFailed(ctx, orderID, kind, err.Error()); mErr != nil {
			s.log.Error("mark notification failed", "order_id", orderID, "kind", kind, "err", mErr)
		}
		return fmt.Errorf("send %s for order %d: %w", kind, orderID, err)
	}
	if err := s.store.MarkSent(ctx, orderID, kind); err != nil {
		s.log.Error("mark notification sent", "order_id", orderID, "kind", kind, "err", err)
	}
	s.log.Info("notification sent", "order_id", orderID, "kind", kind)
	return nil
}

func (s *Service) recipient(kind domain.Kind, data map[string]any) string {
	if kind == domain.KindOrderConfirmedClient {
		email, _ := data["Email"].(string)
		return email
	}
	return s.sellerEmail
}
