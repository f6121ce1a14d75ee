package efi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
)

type oneStepItem struct {
	Name   string `json:"name"`
	Value  int64  `json:"value"`
	Amount int    `json:"amount"`
}

type oneStepCustomer struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	CPF         string `json:"cpf"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type oneStepRequest struct {
	Items    []oneStepItem `json:"items"`
	Shipping []struct {
		Name  string `json:"name"`
		Value int64  `json:"value"`
	} `json:"shippings,omitempty"`
	Metadata struct {
		CustomID string `json:"custom_id"`
	} `json:"metadata"`
	Payment struct {
		CreditCard struct {
			Customer     oneStepCustomer `json:"customer"`
			Installments int             `json:"installments"`
			PaymentToken string          `json:"payment_token"`
			Discount     *struct {
				Type  string `json:"type"`
				Value int64  `json:"value"`
			} `json:"discount,omitempty"`
		} `json:"credit_card"`
	} `json:"payment"`
}

type chargeEnvelope struct {
	Code int `json:"code"`
	Data struct {
		ChargeID int64  `json:"charge_id"`
		Status   string `json:"status"`
		Total    int64  `json:"total"`
	} `json:"data"`
}

func (c *Client) CreateCardCharge(ctx context.Context, in gateway.CardChargeRequest) (gateway.CardCharge, error) {
	var body oneStepRequest
	for _, it := range in.Items {
		body.Items = append(body.Items, oneStepItem{Name: it.Name, Value: money.ToCents(it.Amount), Amount: it.Quantity})
	}
	if in.Shipping.IsPositive() {
		body.Shipping = append(body.Shipping, struct {
			Name  string `json:"name"`
			Value int64  `json:"value"`
		}{Name: "Frete", Value: money.ToCents(in.Shipping)})
	}
	body.Metadata.CustomID = strconv.FormatInt(in.OrderID, 10)
	cc := &body.Payment.CreditCard
	cc.Customer = oneStepCustomer{Name: in.Customer.Name, Email: in.Customer.Email, CPF: in.Customer.CPF, PhoneNumber: in.Customer.Phone}
	cc.Installments = max(in.Installments, 1)
	cc.PaymentToken = in.PaymentToken
	if in.Discount.IsPositive() {
		cc.Discount = &struct {
			Type  string `json:"type"`
			Value int64  `json:"value"`
		}{Type: "currency", Value: money.ToCents(in.Discount)}
	}

	ref := body.Metadata.CustomID
	var env chargeEnvelope
	if err := c.do(ctx, c.charges, http.MethodPost, c.cfg.ChargesURL+"/v1/charge/one-step", body, &env, "card.create", ref); err != nil {
		return gateway.CardCharge{}, err
	}
	if env.Data.ChargeID == 0 {
		return gateway.CardCharge{}, &gateway.Error{Op: "card.create", Ref: ref, StatusCode: env.Code, Err: errors.New("response without charge_id")}
	}
	return gateway.CardCharge{
		ChargeID: strconv.FormatInt(env.Data.ChargeID, 10),
		Status:   env.Data.Status,
		Total:    money.FromCents(env.Data.Total),
	}, nil
}

func (c *Client) CardStatus(ctx context.Context, chargeID string) (string, error) {
	var env chargeEnvelope
	if err := c.do(ctx, c.charges, http.MethodGet, c.cfg.ChargesURL+"/v1/charge/"+url.PathEscape(chargeID), nil, &env, "card.status", chargeID); err != nil {
		return "", err
	}
	return env.Data.Status, nil
}

// CancelCard cancels a charge; an unknown charge counts as cancelled.
func (c *Client) CancelCard(ctx context.Context, chargeID string) (bool, error) {
	err := c.do(ctx, c.charges, http.MethodPut, c.cfg.ChargesURL+"/v1/charge/"+url.PathEscape(chargeID)+"/cancel", nil, nil, "card.cancel", chargeID)
	if errors.Is(err, gateway.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
