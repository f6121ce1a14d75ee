package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/tracing"
)

// Service is the only writer of order status.
type Service struct {
	log  *slog.Logger
	repo OrderRepository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo OrderRepository) *Service {
	return &Service{log: log, repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

// Place stores a NEW order with its items and returns the assigned id.
func (s *Service) Place(ctx context.Context, o domain.Order) (int64, error) {
	now := s.now()
	o.Status = domain.StatusNew
	o.Paid = false
	o.PaidAt = nil
	o.ReserveExpiresAt = nil
	o.CreatedAt, o.UpdatedAt = now, now
	return s.repo.Create(ctx, o)
}

// OpenReservation moves a NEW order to WAITING and returns the payment deadline.
func (s *Service) OpenReservation(ctx context.Context, id int64, ttl time.Duration) (time.Time, error) {
	var exp time.Time
	err := s.repo.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if exp, err = o.Wait(s.now(), ttl); err != nil {
			return fmt.Errorf("order %d %s: %w", id, o.Status, err)
		}
		return tx.Update(ctx, o)
	})
	return exp, err
}

func (s *Service) AttachReference(ctx context.Context, id int64, ref domain.Reference) error {
	return s.repo.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		o.Attach(ref)
		o.UpdatedAt = s.now()
		return tx.Update(ctx, o)
	})
}

// Abandon expires an order whose checkout failed. Stock held by a WAITING order is returned in the same transaction.
func (s *Service) Abandon(ctx context.Context, id int64) error {
	return s.close(ctx, id, domain.StatusExpired)
}

// Decline marks a synchronous gateway rejection and returns held stock.
func (s *Service) Decline(ctx context.Context, id int64) error {
	return s.close(ctx, id, domain.StatusDeclined)
}

func (s *Service) close(ctx context.Context, id int64, to domain.OrderStatus) error {
	return s.repo.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		held := o.HoldsStock()
		if err := o.Close(s.now(), to); err != nil {
			s.log.Warn("order close skipped", "order_id", id, "status", o.Status, "paid", o.Paid, "to", to)
			return nil
		}
		if held {
			if err := tx.ReleaseStock(ctx, o.Items); err != nil {
				return err
			}
		}
		return tx.Update(ctx, o)
	})
}

// MarkPaidIfNeeded confirms the order behind ref at most once. The lock taken by
// LockByReference serialises racing webhooks, pollers and admin triggers: the
// loser re-reads paid=true and stops. On confirmation an OrderConfirmed event is
// enqueued in the same transaction, so notifications and the payout trigger
// survive a crash after commit.
func (s *Service) MarkPaidIfNeeded(ctx context.Context, ref domain.Reference, source string) (domain.Outcome, error) {
	var outcome domain.Outcome
	err := s.repo.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockByReference(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			outcome = domain.OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now()
		switch err := o.Confirm(now); {
		case errors.Is(err, domain.ErrAlreadyPaid):
			outcome = domain.OutcomeAlreadyPaid
			return nil
		case errors.Is(err, domain.ErrNotWaiting):
			outcome = domain.OutcomeNotWaiting
			return nil
		case errors.Is(err, domain.ErrReservationLapsed):
			outcome = domain.OutcomePaidLate
			return s.refundLate(ctx, tx, o, now, source)
		case err != nil:
			return err
		}

		if err := tx.Update(ctx, o); err != nil {
			return err
		}
		outcome = domain.OutcomeConfirmed
		return s.enqueue(ctx, tx, o, domain.EventOrderConfirmed, domain.OrderConfirmed{
			OrderID:   o.ID,
			Method:    o.Method,
			Reference: ref.Value,
			Total:     o.Total,
			PaidAt:    now,
			Source:    source,
		})
	})
	if err != nil {
		metrics.Confirmations.WithLabelValues(source, "error").Inc()
		return "", err
	}

	metrics.Confirmations.WithLabelValues(source, string(outcome)).Inc()
	s.log.Info("confirmation attempt", "ref", ref.String(), "source", source, "outcome", outcome)
	return outcome, nil
}

// refundLate handles money that arrived after the window closed. The order
// still held its stock (it was WAITING under lock), so the stock goes back
// here exactly once and the sweep will no longer see the order.
func (s *Service) refundLate(ctx context.Context, tx Tx, o domain.Order, now time.Time, source string) error {
	expiredAt := *o.ReserveExpiresAt
	o.Status = domain.StatusRefunded
	o.ReserveExpiresAt = nil
	o.UpdatedAt = now
	if err := tx.ReleaseStock(ctx, o.Items); err != nil {
		return err
	}
	if err := tx.Update(ctx, o); err != nil {
		return err
	}
	s.log.Warn("payment arrived after reservation expired", "order_id", o.ID, "expired_at", expiredAt, "source", source)
	return s.enqueue(ctx, tx, o, domain.EventOrderPaidLate, domain.OrderPaidLate{
		OrderID:   o.ID,
		Method:    o.Method,
		Reference: o.Reference().Value,
		Total:     o.Total,
		ExpiredAt: expiredAt,
		PaidAt:    now,
		Source:    source,
	})
}

// ApplyProviderStatus records a non-paid provider status. Final orders are left
// alone and paid orders only accept refund statuses.
func (s *Service) ApplyProviderStatus(ctx context.Context, ref domain.Reference, to domain.OrderStatus, source string) (domain.Outcome, error) {
	var outcome domain.Outcome
	err := s.repo.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockByReference(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			outcome = domain.OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if o.Status.IsFinal() || o.Status == to {
			outcome = domain.OutcomeUnchanged
			return nil
		}

		now := s.now()
		if o.Paid {
			if to != domain.StatusRefunded && to != domain.StatusPartiallyRefunded {
				outcome = domain.OutcomeUnchanged
				return nil
			}
			o.Status = to
			o.UpdatedAt = now
			outcome = domain.OutcomeUpdated
			return tx.Update(ctx, o)
		}

		if to != domain.StatusCanceled && to != domain.StatusDeclined && to != domain.StatusExpired {
			outcome = domain.OutcomeUnchanged
			return nil
		}
		held := o.HoldsStock()
		if err := o.Close(now, to); err != nil {
			outcome = domain.OutcomeUnchanged
			return nil
		}
		if held {
			if err := tx.ReleaseStock(ctx, o.Items); err != nil {
				return err
			}
		}
		outcome = domain.OutcomeUpdated
		return tx.Update(ctx, o)
	})
	if err != nil {
		return "", err
	}
	s.log.Info("provider status applied", "ref", ref.String(), "to", to, "source", source, "outcome", outcome)
	return outcome, nil
}

// ExpireIfUnpaid is the sweep's write. It re-reads under lock so a payment that
// committed after the sweep listed the order is never clobbered.
func (s *Service) ExpireIfUnpaid(ctx context.Context, id int64) (bool, error) {
	var expired bool
	err := s.repo.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now()
		if o.Paid || o.Status != domain.StatusWaiting || !o.Lapsed(now) {
			return nil
		}
		if err := o.Close(now, domain.StatusExpired); err != nil {
			return nil
		}
		if err := tx.ReleaseStock(ctx, o.Items); err != nil {
			return err
		}
		expired = true
		return tx.Update(ctx, o)
	})
	return expired, err
}

func (s *Service) ExpiredWaiting(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.repo.ListExpiredWaiting(ctx, s.now(), limit)
}

func (s *Service) enqueue(ctx context.Context, tx Tx, o domain.Order, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, outbox.Message{
		AggregateType: "order",
		AggregateID:   strconv.FormatInt(o.ID, 10),
		Type:          eventType,
		Payload:       payload,
		Headers:       map[string]string{"source": "checkout-api"},
		Traceparent:   tracing.Traceparent(ctx),
	})
}
