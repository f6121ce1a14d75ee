package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	invdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
	paydomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
)

var ErrPaymentDeclined = errors.New("payment declined")

const sourceCardCheckout = "card-checkout"

// Window is the reservation length plus the two client-facing thresholds,
// both counted as time remaining before expiry.
type Window struct {
	TTL        time.Duration
	WarningAt  time.Duration
	SecurityAt time.Duration
}

type Config struct {
	Pix            Window
	Card           Window
	MinTotal       decimal.Decimal
	Shipping       domain.ShippingRule
	PixDescription string
}

func DefaultConfig() Config {
	return Config{
		Pix:            Window{TTL: 300 * time.Second, WarningAt: 60 * time.Second, SecurityAt: 10 * time.Second},
		Card:           Window{TTL: 900 * time.Second, WarningAt: 120 * time.Second, SecurityAt: 30 * time.Second},
		MinTotal:       domain.MinUnit,
		PixDescription: "Pedido",
	}
}

type CartLine struct {
	BookID   string
	Quantity int
}

type Input struct {
	Method     orderdomain.PaymentMethod
	Customer   orderdomain.Customer
	Lines      []CartLine
	Shipping   decimal.Decimal
	CouponCode string

	PaymentToken string
	Installments int
}

type Result struct {
	OrderID  int64
	Method   orderdomain.PaymentMethod
	Total    decimal.Decimal
	Discount decimal.Decimal

	TxID        string
	QRCode      string
	QRCodeImage string

	ChargeID     string
	ChargeStatus string
	Paid         bool

	Window           Window
	ReserveExpiresAt time.Time
}

type Service struct {
	log       *slog.Logger
	cfg       Config
	catalog   Catalog
	coupons   Coupons
	inventory Inventory
	orders    Orders
	pix       PixGateway
	card      CardGateway
	watcher   Watcher
	now       func() time.Time
	newTxID   func() string
}

type Deps struct {
	Catalog   Catalog
	Coupons   Coupons
	Inventory Inventory
	Orders    Orders
	Pix       PixGateway
	Card      CardGateway
	Watcher   Watcher
}

func NewService(log *slog.Logger, cfg Config, d Deps) *Service {
	return &Service{
		log:       log,
		cfg:       cfg,
		catalog:   d.Catalog,
		coupons:   d.Coupons,
		inventory: d.Inventory,
		orders:    d.Orders,
		pix:       d.Pix,
		card:      d.Card,
		watcher:   d.Watcher,
		now:       func() time.Time { return time.Now().UTC() },
		newTxID:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) window(m orderdomain.PaymentMethod) Window {
	if m == orderdomain.MethodCard {
		return s.cfg.Card
	}
	return s.cfg.Pix
}

// Checkout prices the cart, places and reserves the order, and opens the
// payment at the gateway. Any failure after the reservation gives the stock
// back and expires the order.
func (s *Service) Checkout(ctx context.Context, in Input) (Result, error) {
	res, err := s.checkout(ctx, in)
	metrics.Checkouts.WithLabelValues(string(in.Method), resultLabel(err)).Inc()
	return res, err
}

func (s *Service) checkout(ctx context.Context, in Input) (Result, error) {
	if in.Method != orderdomain.MethodPix && in.Method != orderdomain.MethodCard {
		return Result{}, domain.Invalid("paymentMethod", "must be pix or card")
	}
	if in.Method == orderdomain.MethodCard && in.PaymentToken == "" {
		return Result{}, domain.Invalid("paymentToken", "required for card payments")
	}

	lines := stockLines(in.Lines)
	if err := s.inventory.Precheck(ctx, lines); err != nil {
		if errors.Is(err, invdomain.ErrUnknownBook) || errors.Is(err, invdomain.ErrInvalidQuantity) {
			return Result{}, &domain.ValidationError{Field: "items", Reason: err.Error(), Err: err}
		}
		return Result{}, err
	}

	quote, err := s.quote(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if quote.Total.LessThan(s.cfg.MinTotal) {
		return Result{}, domain.Invalid("total", "below minimum of "+s.cfg.MinTotal.StringFixed(2))
	}

	id, err := s.orders.Place(ctx, newOrder(in, quote))
	if err != nil {
		return Result{}, fmt.Errorf("place order: %w", err)
	}
	log := s.log.With("order_id", id, "method", in.Method)

	if err := s.inventory.ReserveAll(ctx, lines); err != nil {
		s.abandon(ctx, log, id)
		return Result{}, err
	}

	win := s.window(in.Method)
	exp, err := s.orders.OpenReservation(ctx, id, win.TTL)
	if err != nil {
		if rerr := s.inventory.ReleaseAll(ctx, lines); rerr != nil {
			log.Error("release after failed reservation window", "err", rerr)
		}
		s.abandon(ctx, log, id)
		return Result{}, fmt.Errorf("open reservation: %w", err)
	}

	res := Result{
		OrderID:          id,
		Method:           in.Method,
		Total:            quote.Total,
		Discount:         quote.Discount,
		Window:           win,
		ReserveExpiresAt: exp,
	}

	switch in.Method {
	case orderdomain.MethodPix:
		err = s.startPix(ctx, log, in, quote, &res)
	case orderdomain.MethodCard:
		err = s.startCard(ctx, log, in, quote, &res)
	}
	if err != nil {
		return Result{}, err
	}
	log.Info("checkout opened", "total", quote.Total.StringFixed(2), "expires_at", exp)
	return res, nil
}

func (s *Service) quote(ctx context.Context, in Input) (domain.Quote, error) {
	ids := make([]string, 0, len(in.Lines))
	for _, l := range in.Lines {
		ids = append(ids, l.BookID)
	}
	books, err := s.catalog.Books(ctx, ids)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("load catalog: %w", err)
	}

	priced := make([]domain.PricedLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		b, ok := books[l.BookID]
		if !ok || !b.Active {
			return domain.Quote{}, domain.Invalid("items", "unknown book "+l.BookID)
		}
		priced = append(priced, domain.PricedLine{Book: b, Quantity: l.Quantity})
	}

	shipping, err := s.cfg.Shipping.Charge(in.Shipping)
	if err != nil {
		return domain.Quote{}, err
	}
	if !shipping.Equal(in.Shipping) {
		s.log.Debug("shipping set by rule", "requested", in.Shipping.StringFixed(2), "charged", shipping.StringFixed(2))
	}

	code := domain.NormalizeCode(in.CouponCode)
	if code == "" {
		return domain.Price(priced, shipping, nil)
	}

	// Price once without the coupon to get the value its minimum applies to.
	base, err := domain.Price(priced, shipping, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	coupon, err := s.coupons.Find(ctx, code)
	if errors.Is(err, domain.ErrUnknownCoupon) {
		return domain.Quote{}, &domain.ValidationError{Field: "couponCode", Reason: "unknown coupon", Err: domain.ErrInvalidCoupon}
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("load coupon: %w", err)
	}
	used, err := s.coupons.PaidUses(ctx, code)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("count coupon uses: %w", err)
	}
	if err := coupon.Check(s.now(), base.Original, used); err != nil {
		return domain.Quote{}, err
	}
	return domain.Price(priced, shipping, &coupon)
}

func (s *Service) startPix(ctx context.Context, log *slog.Logger, in Input, q domain.Quote, res *Result) error {
	txid := s.newTxID()
	// The reference is stored before the collection exists so an early webhook finds the order.
	if err := s.orders.AttachReference(ctx, res.OrderID, orderdomain.PixRef(txid)); err != nil {
		s.abandon(ctx, log, res.OrderID)
		return fmt.Errorf("attach txid: %w", err)
	}

	charge, err := s.pix.CreatePixCharge(ctx, gateway.PixChargeRequest{
		TxID:        txid,
		Amount:      q.Total,
		Expiration:  res.Window.TTL,
		PayerName:   in.Customer.FullName(),
		PayerCPF:    in.Customer.CPF,
		Description: fmt.Sprintf("%s #%d", s.cfg.PixDescription, res.OrderID),
	})
	if err != nil {
		log.Error("pix charge failed", "txid", txid, "err", err)
		s.abandon(ctx, log, res.OrderID)
		return err
	}

	res.TxID = txid
	res.QRCode = charge.QRCode
	res.QRCodeImage = charge.QRCodeImage
	if s.watcher != nil {
		s.watcher.Schedule(res.OrderID, txid, res.ReserveExpiresAt)
	}
	return nil
}

func (s *Service) startCard(ctx context.Context, log *slog.Logger, in Input, q domain.Quote, res *Result) error {
	items := make([]gateway.ChargeItem, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, gateway.ChargeItem{Name: l.Book.Title, Quantity: l.Quantity, Amount: l.Book.Price})
	}
	charge, err := s.card.CreateCardCharge(ctx, gateway.CardChargeRequest{
		OrderID:      res.OrderID,
		Items:        items,
		Shipping:     q.Shipping,
		Discount:     q.Discount,
		PaymentToken: in.PaymentToken,
		Installments: max(in.Installments, 1),
		Customer: gateway.CardCustomer{
			Name:  in.Customer.FullName(),
			Email: in.Customer.Email,
			CPF:   in.Customer.CPF,
			Phone: in.Customer.Phone,
		},
	})
	if err != nil {
		log.Error("card charge failed", "err", err)
		s.abandon(ctx, log, res.OrderID)
		return err
	}

	ref := orderdomain.CardRef(charge.ChargeID)
	if err := s.orders.AttachReference(ctx, res.OrderID, ref); err != nil {
		// The charge exists at the gateway; the sweep cannot cancel it without
		// the id, so this must be reconciled by hand.
		log.Error("attach charge id failed", "charge_id", charge.ChargeID, "err", err)
		return fmt.Errorf("attach charge id: %w", err)
	}
	res.ChargeID = charge.ChargeID
	res.ChargeStatus = charge.Status

	if paydomain.IsPaid(charge.Status) {
		outcome, err := s.orders.MarkPaidIfNeeded(ctx, ref, sourceCardCheckout)
		if err != nil {
			// Payment happened; the webhook or the admin confirm will retry the write.
			log.Error("confirm card charge failed", "charge_id", charge.ChargeID, "err", err)
			return nil
		}
		res.Paid = outcome == orderdomain.OutcomeConfirmed || outcome == orderdomain.OutcomeAlreadyPaid
		return nil
	}
	if st, ok := paydomain.Classify(charge.Status); ok && (st == orderdomain.StatusDeclined || st == orderdomain.StatusCanceled) {
		if err := s.orders.Decline(ctx, res.OrderID); err != nil {
			log.Error("decline order failed", "charge_id", charge.ChargeID, "err", err)
		}
		return fmt.Errorf("charge %s %s: %w", charge.ChargeID, charge.Status, ErrPaymentDeclined)
	}
	return nil
}

// abandon expires the order; a WAITING order releases its stock in the same write.
func (s *Service) abandon(ctx context.Context, log *slog.Logger, id int64) {
	if err := s.orders.Abandon(ctx, id); err != nil {
		log.Error("abandon order failed", "err", err)
	}
}

func newOrder(in Input, q domain.Quote) orderdomain.Order {
	items := make([]orderdomain.OrderItem, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, orderdomain.OrderItem{
			BookID:   l.Book.ID,
			Title:    l.Book.Title,
			Quantity: l.Quantity,
			Price:    l.Book.Price,
		})
	}
	return orderdomain.Order{
		Customer:       in.Customer,
		Items:          items,
		Shipping:       q.Shipping,
		Total:          q.Total,
		DiscountAmount: q.Discount,
		CouponCode:     q.CouponCode,
		Method:         in.Method,
	}
}

func stockLines(in []CartLine) []invdomain.Line {
	out := make([]invdomain.Line, 0, len(in))
	for _, l := range in {
		out = append(out, invdomain.Line{BookID: l.BookID, Quantity: l.Quantity})
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, invdomain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, gateway.ErrGateway):
		return "gateway_error"
	}
	return "error"
}
