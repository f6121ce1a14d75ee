// Package bootstrap assembles the adapters shared by checkout-api and checkoutctl.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	checkoutapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/application"
	checkoutdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/config"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway/efi"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway/stub"
	notifyapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/infrastructure/email"
	payoutapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/application"
	payoutdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/domain"
)

// Gateway is everything the binaries need from a payment provider.
type Gateway interface {
	CreatePixCharge(ctx context.Context, in gateway.PixChargeRequest) (gateway.PixCharge, error)
	PixStatus(ctx context.Context, txid string) (string, error)
	CancelPix(ctx context.Context, txid string) (bool, error)
	CreateCardCharge(ctx context.Context, in gateway.CardChargeRequest) (gateway.CardCharge, error)
	CardStatus(ctx context.Context, chargeID string) (string, error)
	CancelCard(ctx context.Context, chargeID string) (bool, error)
	SendPix(ctx context.Context, sendID string, amount decimal.Decimal, key string) (string, error)
	SendStatus(ctx context.Context, sendID string) (gateway.SendStatus, error)
}

func NewGateway(log *slog.Logger, cfg config.Gateway) (Gateway, error) {
	switch cfg.Mode {
	case config.ModeStub:
		log.Warn("using in-memory stub gateway")
		return stub.New(), nil
	case config.ModeEfi:
		c, err := efi.NewClient(log, efi.Config{
			PixURL:       cfg.BaseURL,
			ChargesURL:   cfg.ChargesURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			CertFile:     cfg.CertFile,
			KeyFile:      cfg.KeyFile,
			PixKey:       cfg.PixKey,
			Timeout:      cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown gateway mode %q", cfg.Mode)
}

// NewMailer logs messages instead of sending them when no SMTP host is set.
func NewMailer(log *slog.Logger, cfg config.Mail) notifyapp.Mailer {
	if cfg.Host == "" {
		return email.NewLogMailer(log)
	}
	return email.NewMailer(email.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		From:     cfg.From,
	})
}

func CheckoutConfig(cfg config.Checkout) checkoutapp.Config {
	out := checkoutapp.DefaultConfig()
	out.Pix = checkoutapp.Window{TTL: cfg.PixTTL, WarningAt: cfg.PixWarningAt, SecurityAt: cfg.PixSecurityAt}
	out.Card = checkoutapp.Window{TTL: cfg.CardTTL, WarningAt: cfg.CardWarningAt, SecurityAt: cfg.CardSecurityAt}
	out.MinTotal = cfg.MinTotal
	out.Shipping = checkoutdomain.ShippingRule{Flat: cfg.ShippingFlat, Min: cfg.ShippingMin, Max: cfg.ShippingMax}
	return out
}

func PayoutConfig(cfg config.Config) payoutapp.Config {
	p := cfg.Payout
	return payoutapp.Config{
		Policy: payoutdomain.Policy{
			FeePercent:    p.FeePercent,
			FeeFixed:      p.FeeFixed,
			FeesIncluded:  p.FeesIncluded,
			MarginPercent: p.MarginPercent,
			MarginFixed:   p.MarginFixed,
			MinSend:       p.MinSend,
			AbsoluteMin:   p.AbsoluteMin,
		},
		PixKey:      p.PixKey,
		ClaimWindow: p.ClaimWindow,
		Synchronous: cfg.Gateway.Mode == config.ModeStub,
	}
}
