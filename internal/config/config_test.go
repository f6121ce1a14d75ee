package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "stub", cfg.Gateway.Mode)
	assert.Equal(t, 300*time.Second, cfg.Checkout.PixTTL)
	assert.Equal(t, 900*time.Second, cfg.Checkout.CardTTL)
	assert.Equal(t, 10*time.Second, cfg.Checkout.WatchMargin)
	assert.Equal(t, 5*time.Minute, cfg.Checkout.SweepInterval)
	assert.True(t, decimal.RequireFromString("0.01").Equal(cfg.Checkout.MinTotal))
	assert.False(t, cfg.Checkout.ShippingFlat.Valid)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoadShipping(t *testing.T) {
	t.Setenv("SHIPPING_FLAT", "15,00")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.Checkout.ShippingFlat.Valid)
	assert.Equal(t, "15.00", cfg.Checkout.ShippingFlat.Decimal.StringFixed(2))

	t.Setenv("SHIPPING_FLAT", "-1")
	_, err = Load()
	assert.ErrorContains(t, err, "SHIPPING_FLAT")

	t.Setenv("SHIPPING_FLAT", "")
	t.Setenv("SHIPPING_MIN", "20")
	t.Setenv("SHIPPING_MAX", "10")
	_, err = Load()
	assert.ErrorContains(t, err, "SHIPPING_MAX")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PIX_TTL", "120s")
	t.Setenv("KAFKA_ADDR", "k1:9092, k2:9092")
	t.Setenv("PAYOUT_FEE_PERCENT", "2,5")
	t.Setenv("PAYOUT_FEES_INCLUDED", "true")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.Checkout.PixTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, decimal.RequireFromString("2.5").Equal(cfg.Payout.FeePercent))
	assert.True(t, cfg.Payout.FeesIncluded)
	assert.Equal(t, 2525, cfg.Mail.Port)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("PAYOUT_MIN_SEND", "lots")
	_, err := Load()
	assert.ErrorContains(t, err, "PAYOUT_MIN_SEND")

	t.Setenv("PAYOUT_MIN_SEND", "0")
	t.Setenv("GATEWAY_MODE", "efi")
	_, err = Load()
	assert.ErrorContains(t, err, "EFI_CLIENT_ID")

	t.Setenv("GATEWAY_MODE", "paypal")
	_, err = Load()
	assert.ErrorContains(t, err, "GATEWAY_MODE")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("PAYOUT_PIX_KEY: seller@example.com\nCHECKOUT_MIN_TOTAL: \"5.00\"\n"), 0o600))
	t.Setenv("CHECKOUT_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "seller@example.com", cfg.Payout.PixKey)
	assert.True(t, decimal.NewFromInt(5).Equal(cfg.Checkout.MinTotal))
}
