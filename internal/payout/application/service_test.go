package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway/stub"
	notifydomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/payouttest"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
)

type sentNote struct {
	orderID int64
	kind    notifydomain.Kind
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []sentNote
}

func (f *fakeNotifier) Notify(_ context.Context, orderID int64, kind notifydomain.Kind, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, sentNote{orderID, kind})
	return nil
}

func (f *fakeNotifier) kinds() []notifydomain.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notifydomain.Kind
	for _, n := range f.notes {
		out = append(out, n.kind)
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	repo     *payouttest.Repository
	provider *stub.Provider
	notifier *fakeNotifier
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		repo:     payouttest.NewRepository("seller@pix.example"),
		provider: stub.New(),
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(logging.Discard(), cfg, f.repo, f.provider, f.notifier).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) paid(id int64, gross string) {
	f.repo.SetPaid(id, dec(gross))
}

func defaultPolicy() Policy {
	return Policy{
		FeePercent:    dec("2"),
		FeeFixed:      dec("0.50"),
		FeesIncluded:  true,
		MarginPercent: dec("5"),
		MarginFixed:   decimal.Zero,
		AbsoluteMin:   dec("1.00"),
	}
}

func TestTryTriggerSendsNet(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	f.paid(10, "100.00")

	res, err := f.svc.TryTrigger(context.Background(), Request{OrderRef: "10", Source: "event"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, res.Status)
	assert.Equal(t, domain.StatusSent, res.Payout)
	assert.True(t, dec("92.50").Equal(res.Net), res.Net.String())
	assert.True(t, dec("2.50").Equal(res.Fee))
	assert.True(t, dec("5.00").Equal(res.Margin))
	assert.Equal(t, "seller@pix.example", res.PixKey)
	assert.NotEmpty(t, res.ProviderRef)

	p := f.repo.Payout(10)
	assert.Equal(t, domain.StatusSent, p.Status)
	assert.Equal(t, res.ProviderRef, p.ProviderRef)
	assert.Equal(t, 1, f.provider.SendCalls)
	assert.Empty(t, f.notifier.kinds())
}

func TestTryTriggerBelowMinimumNeverCallsProvider(t *testing.T) {
	f := newFixture(t, Config{Policy: Policy{MarginFixed: dec("0.50"), AbsoluteMin: dec("1.20")}})
	f.paid(11, "1.00")

	res, err := f.svc.TryTrigger(context.Background(), Request{OrderRef: "11"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailed, res.Status)
	assert.True(t, dec("0.50").Equal(res.Net))
	assert.Contains(t, res.Message, "minimum")

	p := f.repo.Payout(11)
	assert.Equal(t, domain.StatusFailed, p.Status)
	assert.Contains(t, p.FailReason, "minimum")
	assert.Zero(t, f.provider.SendCalls)
	assert.Equal(t, []notifydomain.Kind{notifydomain.KindPayoutFailed}, f.notifier.kinds())
}

func TestTryTriggerTwiceSendsOnce(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	f.paid(12, "50.00")
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]domain.Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.TryTrigger(ctx, Request{OrderRef: "PAYOUT12", Source: "event"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.provider.SendCalls)
	for _, res := range results {
		assert.NotEqual(t, domain.ResultFailed, res.Status)
	}

	res, err := f.svc.TryTrigger(ctx, Request{OrderRef: "12"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, res.Status)
	assert.Equal(t, domain.StatusSent, res.Payout)
	assert.Equal(t, 1, f.provider.SendCalls)
}

func TestTryTriggerStaleClaimIsRetaken(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy(), ClaimWindow: time.Minute})
	f.paid(13, "30.00")
	f.repo.Put(domain.Payout{OrderID: 13, Status: domain.StatusCreated, UpdatedAt: f.now.Add(-10 * time.Second)})

	res, err := f.svc.TryTrigger(context.Background(), Request{OrderRef: "13"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Zero(t, f.provider.SendCalls)

	f.now = f.now.Add(2 * time.Minute)
	res, err = f.svc.TryTrigger(context.Background(), Request{OrderRef: "13"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, res.Status)
	assert.Equal(t, 1, f.provider.SendCalls)
}

func TestTryTriggerFailedPayoutCanBeRetried(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	f.paid(14, "30.00")
	f.provider.FailSend = errors.New("connection reset")
	ctx := context.Background()

	res, err := f.svc.TryTrigger(ctx, Request{OrderRef: "14"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailed, res.Status)
	assert.Contains(t, res.Message, "provider error")

	f.provider.FailSend = nil
	res, err = f.svc.TryTrigger(ctx, Request{OrderRef: "14", OverridePixKey: "other@pix.example"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, res.Status)
	assert.Equal(t, "other@pix.example", res.PixKey)
	assert.Equal(t, 2, f.provider.SendCalls)
}

func TestTryTriggerRejectsMalformedProviderRef(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	f.paid(15, "30.00")
	f.provider.SendRef = "not-valid!"

	res, err := f.svc.TryTrigger(context.Background(), Request{OrderRef: "15"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailed, res.Status)
	assert.Equal(t, domain.StatusFailed, f.repo.Payout(15).Status)
}

func TestTryTriggerPreconditions(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	ctx := context.Background()

	res, err := f.svc.TryTrigger(ctx, Request{OrderRef: "abc"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)

	f.repo.SetTotals(domain.OrderTotals{OrderID: 16, Gross: dec("20.00"), Known: true})
	res, err = f.svc.TryTrigger(ctx, Request{OrderRef: "16"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Equal(t, "order is not paid", res.Message)

	f.paid(17, "20.00")
	f.repo.SetSeller("")
	res, err = f.svc.TryTrigger(ctx, Request{OrderRef: "17"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultError, res.Status)
	assert.Zero(t, f.repo.Upserts())

	_, err = f.svc.TryTrigger(ctx, Request{OrderRef: "99"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTryTriggerSynchronousConfirms(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy(), Synchronous: true})
	f.paid(18, "40.00")

	res, err := f.svc.TryTrigger(context.Background(), Request{OrderRef: "18"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, res.Payout)
	assert.Equal(t, domain.StatusConfirmed, f.repo.Payout(18).Status)
	assert.Equal(t, []notifydomain.Kind{notifydomain.KindPayoutConfirmed}, f.notifier.kinds())
}

func TestReconcileNeverRegressesFromConfirmed(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	f.paid(20, "40.00")
	ctx := context.Background()
	res, err := f.svc.TryTrigger(ctx, Request{OrderRef: "20"})
	require.NoError(t, err)

	out, err := f.svc.Reconcile(ctx, domain.Notice{Reference: "PAYOUT20", Status: "REALIZADO", EndToEndID: "E123"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)
	assert.Equal(t, "E123", f.repo.Payout(20).EndToEndID)

	out, err = f.svc.Reconcile(ctx, domain.Notice{Reference: "PAYOUT20", Status: "NAO_REALIZADO"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out)
	out, err = f.svc.Reconcile(ctx, domain.Notice{Reference: res.ProviderRef, Status: "REALIZADO"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out)

	assert.Equal(t, domain.StatusConfirmed, f.repo.Payout(20).Status)
	assert.Equal(t, []notifydomain.Kind{notifydomain.KindPayoutConfirmed}, f.notifier.kinds())

	again, err := f.svc.TryTrigger(ctx, Request{OrderRef: "20"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, again.Status)
	assert.Equal(t, 1, f.provider.SendCalls)
}

func TestReconcileReferences(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	ctx := context.Background()
	f.repo.Put(domain.Payout{OrderID: 21, Status: domain.StatusSent, ProviderRef: "E999"})
	f.repo.Put(domain.Payout{OrderID: 22, Status: domain.StatusSent})

	out, err := f.svc.Reconcile(ctx, domain.Notice{Reference: "repasse_21", Status: "REALIZADO"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)
	assert.Equal(t, "E999", f.repo.Payout(21).EndToEndID, "falls back to stored ref")

	out, err = f.svc.Reconcile(ctx, domain.Notice{Reference: "PAYOUT-22", Status: "NAO_REALIZADO"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, "provider status NAO_REALIZADO", f.repo.Payout(22).FailReason)

	f.repo.Put(domain.Payout{OrderID: 24, Status: domain.StatusSent})
	out, err = f.svc.Reconcile(ctx, domain.Notice{Reference: "PAYOUT24", Status: "NAO_REALIZADO", Reason: "AC03: Conta inexistente"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, "AC03: Conta inexistente", f.repo.Payout(24).FailReason)

	out, err = f.svc.Reconcile(ctx, domain.Notice{Reference: "PAYOUT23", Status: "EM_PROCESSAMENTO"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out)

	out, err = f.svc.Reconcile(ctx, domain.Notice{Reference: "E999", Status: "EM_PROCESSAMENTO"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, out)
}

func TestRefreshPollsProvider(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	f.paid(30, "40.00")
	ctx := context.Background()
	_, err := f.svc.TryTrigger(ctx, Request{OrderRef: "30"})
	require.NoError(t, err)

	f.provider.SetSendStatus("PAYOUT30", "EM_PROCESSAMENTO")
	out, err := f.svc.Refresh(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, out)

	f.provider.SetSendStatus("PAYOUT30", "REALIZADO")
	out, err = f.svc.Refresh(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out)

	out, err = f.svc.Refresh(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out)
}

func TestRefreshRecordsProviderReason(t *testing.T) {
	f := newFixture(t, Config{Policy: defaultPolicy()})
	f.paid(31, "40.00")
	ctx := context.Background()
	_, err := f.svc.TryTrigger(ctx, Request{OrderRef: "31"})
	require.NoError(t, err)

	f.provider.RejectSend("PAYOUT31", "AB09: conta encerrada")
	out, err := f.svc.Refresh(ctx, 31)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)

	p := f.repo.Payout(31)
	assert.Equal(t, domain.StatusFailed, p.Status)
	assert.Equal(t, "AB09: conta encerrada", p.FailReason)
}
