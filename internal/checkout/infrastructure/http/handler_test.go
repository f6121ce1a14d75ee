package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/checkout/domain"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway/stub"
	invapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/inventorytest"
	orderapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/ordertest"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
)

type books map[string]domain.Book

func (b books) Books(ctx context.Context, ids []string) (map[string]domain.Book, error) {
	return b, nil
}

type noCoupons struct{}

func (noCoupons) Find(ctx context.Context, code string) (domain.Coupon, error) {
	return domain.Coupon{}, domain.ErrUnknownCoupon
}

func (noCoupons) PaidUses(ctx context.Context, code string) (int, error) { return 0, nil }

type noWatch struct{}

func (noWatch) Schedule(int64, string, time.Time) {}

func newRouter() http.Handler {
	log := logging.Discard()
	stock := inventorytest.NewStore(map[string]int{"b1": 1})
	gw := stub.New()
	svc := application.NewService(log, application.DefaultConfig(), application.Deps{
		Catalog:   books{"b1": {ID: "b1", Title: "Memórias Póstumas", Price: decimal.RequireFromString("39.90"), Active: true}},
		Coupons:   noCoupons{},
		Inventory: invapp.NewService(log, stock),
		Orders:    orderapp.NewService(log, ordertest.NewRepository(stock)),
		Pix:       gw,
		Card:      gw,
		Watcher:   noWatch{},
	})
	return NewHandler(log, svc).Routes()
}

const validBody = `{
	"firstName": "Ana", "lastName": "Lima", "email": "ana@example.com", "cpf": "12345678909",
	"cartItems": [{"id": "b1", "title": "Memórias Póstumas", "quantity": 1, "price": 1.00}],
	"shipping": 10, "total": 1.00, "discount": 99
}`

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestPixCheckout(t *testing.T) {
	h := newRouter()

	rec := post(h, "/pix", validBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "49.9", body["total"], "client total and discount are ignored")
	assert.Equal(t, "pix", body["paymentMethod"])
	assert.NotEmpty(t, body["txid"])
	assert.NotEmpty(t, body["qrCode"])
	assert.EqualValues(t, 300, body["reserveTtlSeconds"])
	assert.EqualValues(t, 60, body["warningAtSeconds"])
	assert.EqualValues(t, 10, body["securityWarningAtSeconds"])

	rec = post(h, "/pix", validBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "out_of_stock")
}

func TestCheckoutErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad json", "/pix", `{`, http.StatusBadRequest},
		{"missing email", "/pix", strings.Replace(validBody, `"ana@example.com"`, `""`, 1), http.StatusUnprocessableEntity},
		{"empty cart", "/pix", `{"firstName":"A","email":"a@b.co","cpf":"12345678909","cartItems":[]}`, http.StatusUnprocessableEntity},
		{"unknown coupon", "/pix", strings.Replace(validBody, `"shipping"`, `"couponCode":"X","shipping"`, 1), http.StatusUnprocessableEntity},
		{"declined card", "/card", strings.Replace(validBody, `"shipping"`, `"paymentToken":"declined","shipping"`, 1), http.StatusPaymentRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(newRouter(), tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}
