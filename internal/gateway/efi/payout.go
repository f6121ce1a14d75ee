package efi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
)

type sendRequest struct {
	Valor   string `json:"valor"`
	Pagador struct {
		Chave string `json:"chave"`
	} `json:"pagador"`
	Favorecido struct {
		Chave string `json:"chave"`
	} `json:"favorecido"`
}

type sendError struct {
	Codigo string `json:"codigo"`
	Motivo string `json:"motivo"`
}

type sendResponse struct {
	IDEnvio  string `json:"idEnvio"`
	E2EID    string `json:"e2eId"`
	Status   string `json:"status"`
	TxID     string `json:"txid"`
	Motivo   string `json:"motivo"`
	GnExtras struct {
		Erro sendError `json:"erro"`
	} `json:"gnExtras"`
}

func (r sendResponse) reason() string {
	e := r.GnExtras.Erro
	if e.Motivo == "" {
		e.Motivo = r.Motivo
	}
	if e.Codigo != "" && e.Motivo != "" {
		return e.Codigo + ": " + e.Motivo
	}
	if e.Codigo != "" {
		return e.Codigo
	}
	return e.Motivo
}

// SendPix transfers amount to key. sendID is our idempotency key on the provider side.
func (c *Client) SendPix(ctx context.Context, sendID string, amount decimal.Decimal, key string) (string, error) {
	var body sendRequest
	body.Valor = money.Format(amount)
	body.Pagador.Chave = c.cfg.PixKey
	body.Favorecido.Chave = key

	var resp sendResponse
	if err := c.do(ctx, c.pix, http.MethodPut, c.cfg.PixURL+"/v2/gn/pix/"+url.PathEscape(sendID), body, &resp, "payout.send", sendID); err != nil {
		return "", err
	}
	if resp.E2EID != "" {
		return resp.E2EID, nil
	}
	return resp.IDEnvio, nil
}

func (c *Client) SendStatus(ctx context.Context, sendID string) (gateway.SendStatus, error) {
	var resp sendResponse
	if err := c.do(ctx, c.pix, http.MethodGet, c.cfg.PixURL+"/v2/gn/pix/enviados/id-envio/"+url.PathEscape(sendID), nil, &resp, "payout.status", sendID); err != nil {
		return gateway.SendStatus{}, err
	}
	if resp.IDEnvio == "" {
		resp.IDEnvio = sendID
	}
	return gateway.SendStatus{SendID: resp.IDEnvio, Status: resp.Status, EndToEndID: resp.E2EID, TxID: resp.TxID, Reason: resp.reason()}, nil
}
