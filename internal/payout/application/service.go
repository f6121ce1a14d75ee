package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	notifydomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
)

type Config struct {
	Policy Policy
	// PixKey overrides the seller's key on file.
	PixKey      string
	ClaimWindow time.Duration
	// Synchronous marks SENT payouts CONFIRMED at once, for the sandbox provider.
	Synchronous bool
}

type Policy = domain.Policy

type Request struct {
	OrderRef       string
	ExternalID     string
	Source         string
	OverridePixKey string
}

// Outcome of one settlement notice.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoop      Outcome = "noop"
	OutcomePending   Outcome = "pending"
	OutcomeUnknown   Outcome = "unknown_reference"
)

type Service struct {
	log      *slog.Logger
	cfg      Config
	repo     Repository
	provider Provider
	notifier Notifier
	audit    AuditLog
	now      func() time.Time
}

func NewService(log *slog.Logger, cfg Config, repo Repository, provider Provider, notifier Notifier) *Service {
	if cfg.ClaimWindow <= 0 {
		cfg.ClaimWindow = 2 * time.Minute
	}
	return &Service{
		log:      log,
		cfg:      cfg,
		repo:     repo,
		provider: provider,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TryTrigger sends the net proceeds of a paid order to the beneficiary at
// most once. Calling it again after the payout progressed returns the stored
// state and never reaches the provider. The error return is reserved for
// storage failures; business outcomes are in Result.
func (s *Service) TryTrigger(ctx context.Context, req Request) (domain.Result, error) {
	res, err := s.trigger(ctx, req)
	status := string(res.Status)
	if err != nil {
		status = string(domain.ResultError)
	}
	metrics.Payouts.WithLabelValues(status).Inc()
	return res, err
}

func (s *Service) trigger(ctx context.Context, req Request) (domain.Result, error) {
	minimum := s.cfg.Policy.EffectiveMinimum()
	orderID, err := domain.ParseReference(req.OrderRef)
	if err != nil {
		return domain.Result{Status: domain.ResultError, Minimum: minimum, Message: err.Error()}, nil
	}
	log := s.log.With("order_id", orderID, "source", req.Source, "external_id", req.ExternalID)

	totals, err := s.repo.Totals(ctx, orderID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("load totals for order %d: %w", orderID, err)
	}
	if !totals.Paid {
		return domain.Result{Status: domain.ResultError, OrderID: orderID, Minimum: minimum, Message: "order is not paid"}, nil
	}
	if !totals.Known {
		log.Warn("order total missing from order_totals_v1, using zero")
	}

	b := s.cfg.Policy.Compute(totals.Gross)
	res := domain.Result{
		OrderID: orderID,
		Gross:   b.Gross,
		Fee:     b.Fee,
		Margin:  b.Margin,
		Net:     b.Net,
		Minimum: minimum,
	}

	key, err := s.beneficiary(ctx, req)
	if err != nil {
		return domain.Result{}, err
	}
	if key == "" {
		res.Status = domain.ResultError
		res.Message = "no beneficiary pix key configured"
		return res, nil
	}
	res.PixKey = key

	now := s.now()
	claimed, err := s.repo.UpsertCreated(ctx, domain.Payout{
		OrderID:   orderID,
		Status:    domain.StatusCreated,
		Breakdown: b,
		Policy:    s.cfg.Policy,
		PixKey:    key,
		SendID:    domain.SendID(orderID),
		CreatedAt: now,
		UpdatedAt: now,
	}, s.cfg.ClaimWindow)
	if err != nil {
		return domain.Result{}, fmt.Errorf("claim payout %d: %w", orderID, err)
	}
	if !claimed {
		return s.existing(ctx, res)
	}

	if b.Net.LessThan(minimum) {
		reason := fmt.Sprintf("net %s below minimum payout %s", b.Net.StringFixed(2), minimum.StringFixed(2))
		return s.fail(ctx, log, res, reason)
	}

	ref, err := s.provider.SendPix(ctx, domain.SendID(orderID), b.Net, key)
	if err != nil {
		log.Error("payout send failed", "net", b.Net.StringFixed(2), "err", err)
		return s.fail(ctx, log, res, "provider error: "+err.Error())
	}
	if !domain.ValidProviderRef(ref) {
		return s.fail(ctx, log, res, fmt.Sprintf("provider returned malformed reference %q", ref))
	}
	res.ProviderRef = ref

	at := s.now()
	sent, err := s.repo.MarkSent(ctx, orderID, ref, at)
	if err != nil {
		return domain.Result{}, fmt.Errorf("mark payout %d sent: %w", orderID, err)
	}
	if !sent {
		log.Warn("payout left its claimed state before SENT", "provider_ref", ref)
		return s.existing(ctx, res)
	}
	res.Status, res.Payout, res.Message = domain.ResultSuccess, domain.StatusSent, "payout sent"

	if s.cfg.Synchronous {
		if _, err := s.confirm(ctx, log, orderID, ref, at, res); err != nil {
			return domain.Result{}, err
		}
		res.Payout, res.Message = domain.StatusConfirmed, "payout confirmed"
	}
	log.Info("payout sent", "net", b.Net.StringFixed(2), "provider_ref", ref, "status", res.Payout)
	return res, nil
}

func (s *Service) beneficiary(ctx context.Context, req Request) (string, error) {
	if req.OverridePixKey != "" {
		return req.OverridePixKey, nil
	}
	if s.cfg.PixKey != "" {
		return s.cfg.PixKey, nil
	}
	key, err := s.repo.SellerPixKey(ctx)
	if err != nil {
		return "", fmt.Errorf("load seller pix key: %w", err)
	}
	return key, nil
}

// existing reports a payout some other call already owns.
func (s *Service) existing(ctx context.Context, res domain.Result) (domain.Result, error) {
	p, err := s.repo.Get(ctx, res.OrderID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("load payout %d: %w", res.OrderID, err)
	}
	res.Payout = p.Status
	res.ProviderRef = p.ProviderRef
	res.PixKey = p.PixKey
	res.Gross, res.Fee, res.Margin, res.Net = p.Breakdown.Gross, p.Breakdown.Fee, p.Breakdown.Margin, p.Breakdown.Net
	switch p.Status {
	case domain.StatusSent, domain.StatusConfirmed:
		res.Status = domain.ResultSuccess
		res.Message = "payout already " + string(p.Status)
	case domain.StatusFailed:
		res.Status = domain.ResultFailed
		res.Message = p.FailReason
	default:
		res.Status = domain.ResultError
		res.Message = "payout is being processed by another request"
	}
	return res, nil
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, res domain.Result, reason string) (domain.Result, error) {
	if _, err := s.repo.MarkFailed(ctx, res.OrderID, reason, s.now()); err != nil {
		return domain.Result{}, fmt.Errorf("mark payout %d failed: %w", res.OrderID, err)
	}
	log.Warn("payout failed", "reason", reason)
	res.Status, res.Payout, res.Message = domain.ResultFailed, domain.StatusFailed, reason
	s.notify(ctx, res.OrderID, notifydomain.KindPayoutFailed, map[string]any{
		"Net":     res.Net.StringFixed(2),
		"Minimum": res.Minimum.StringFixed(2),
		"Reason":  reason,
	})
	return res, nil
}

func (s *Service) confirm(ctx context.Context, log *slog.Logger, orderID int64, e2e string, at time.Time, res domain.Result) (bool, error) {
	ok, err := s.repo.MarkConfirmed(ctx, orderID, e2e, at)
	if err != nil {
		return false, fmt.Errorf("confirm payout %d: %w", orderID, err)
	}
	if !ok {
		return false, nil
	}
	s.notify(ctx, orderID, notifydomain.KindPayoutConfirmed, map[string]any{
		"Net":         res.Net.StringFixed(2),
		"PixKey":      res.PixKey,
		"ProviderRef": e2e,
	})
	return true, nil
}

func (s *Service) notify(ctx context.Context, orderID int64, kind notifydomain.Kind, data map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, orderID, kind, data); err != nil {
		s.log.Error("payout notification failed", "order_id", orderID, "kind", kind, "err", err)
	}
}

// Reconcile applies a settlement notice from the provider.
func (s *Service) Reconcile(ctx context.Context, n domain.Notice) (Outcome, error) {
	orderID, err := s.resolve(ctx, n)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("payout notice for unknown reference", "ref", n.Reference, "e2e", n.EndToEndID)
		return OutcomeUnknown, nil
	}
	if err != nil {
		return "", err
	}
	log := s.log.With("order_id", orderID, "provider_status", n.Status)

	switch domain.Classify(n.Status) {
	case domain.SettlementDone:
		p, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return "", err
		}
		e2e := n.EndToEndID
		if e2e == "" {
			e2e = p.ProviderRef
		}
		ok, err := s.confirm(ctx, log, orderID, e2e, s.now(), domain.Result{Net: p.Breakdown.Net, PixKey: p.PixKey})
		if err != nil {
			return "", err
		}
		if !ok {
			return OutcomeNoop, nil
		}
		log.Info("payout settled")
		return OutcomeConfirmed, nil

	case domain.SettlementFailed:
		reason := n.FailReason()
		ok, err := s.repo.MarkFailed(ctx, orderID, reason, s.now())
		if err != nil {
			return "", fmt.Errorf("mark payout %d failed: %w", orderID, err)
		}
		if !ok {
			return OutcomeNoop, nil
		}
		log.Warn("payout settlement failed")
		s.notify(ctx, orderID, notifydomain.KindPayoutFailed, map[string]any{"Reason": reason})
		return OutcomeFailed, nil
	}
	return OutcomePending, nil
}

func (s *Service) resolve(ctx context.Context, n domain.Notice) (int64, error) {
	if id, err := domain.ParseReference(n.Reference); err == nil {
		if _, err := s.repo.Get(ctx, id); err == nil {
			return id, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
	}
	for _, ref := range []string{n.Reference, n.EndToEndID} {
		if ref == "" {
			continue
		}
		id, err := s.repo.FindByProviderRef(ctx, ref)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
	}
	return 0, domain.ErrNotFound
}

// Refresh asks the provider for a SENT payout's status and applies it.
func (s *Service) Refresh(ctx context.Context, orderID int64) (Outcome, error) {
	p, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if p.Status != domain.StatusSent {
		return OutcomeNoop, nil
	}
	st, err := s.provider.SendStatus(ctx, domain.SendID(orderID))
	if err != nil {
		return "", err
	}
	return s.Reconcile(ctx, domain.Notice{
		Reference:  domain.SendID(orderID),
		Status:     st.Status,
		EndToEndID: st.EndToEndID,
		TxID:       st.TxID,
		Reason:     st.Reason,
	})
}

func (s *Service) Get(ctx context.Context, orderID int64) (domain.Payout, error) {
	return s.repo.Get(ctx, orderID)
}
