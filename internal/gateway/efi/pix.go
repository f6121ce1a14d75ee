package efi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/money"
)

type cobRequest struct {
	Calendario struct {
		Expiracao int `json:"expiracao"`
	} `json:"calendario"`
	Devedor *struct {
		CPF  string `json:"cpf"`
		Nome string `json:"nome"`
	} `json:"devedor,omitempty"`
	Valor struct {
		Original string `json:"original"`
	} `json:"valor"`
	Chave              string `json:"chave"`
	SolicitacaoPagador string `json:"solicitacaoPagador,omitempty"`
}

type cobResponse struct {
	TxID   string `json:"txid"`
	Status string `json:"status"`
	Loc    struct {
		ID int64 `json:"id"`
	} `json:"loc"`
	PixCopiaECola string `json:"pixCopiaECola"`
}

type qrCodeResponse struct {
	QRCode       string `json:"qrcode"`
	ImagemQRCode string `json:"imagemQrcode"`
}

func (c *Client) CreatePixCharge(ctx context.Context, in gateway.PixChargeRequest) (gateway.PixCharge, error) {
	var body cobRequest
	body.Calendario.Expiracao = int(in.Expiration.Seconds())
	body.Valor.Original = money.Format(in.Amount)
	body.Chave = c.cfg.PixKey
	body.SolicitacaoPagador = in.Description
	if in.PayerCPF != "" && in.PayerName != "" {
		body.Devedor = &struct {
			CPF  string `json:"cpf"`
			Nome string `json:"nome"`
		}{CPF: in.PayerCPF, Nome: in.PayerName}
	}

	var cob cobResponse
	if err := c.do(ctx, c.pix, http.MethodPut, c.cfg.PixURL+"/v2/cob/"+url.PathEscape(in.TxID), body, &cob, "pix.create", in.TxID); err != nil {
		return gateway.PixCharge{}, err
	}
	if cob.TxID == "" {
		cob.TxID = in.TxID
	}
	out := gateway.PixCharge{TxID: cob.TxID, Status: cob.Status, LocationID: cob.Loc.ID, QRCode: cob.PixCopiaECola}

	if cob.Loc.ID > 0 {
		var qr qrCodeResponse
		path := fmt.Sprintf("%s/v2/loc/%d/qrcode", c.cfg.PixURL, cob.Loc.ID)
		if err := c.do(ctx, c.pix, http.MethodGet, path, nil, &qr, "pix.qrcode", in.TxID); err != nil {
			c.log.Warn("pix qrcode unavailable, returning copy-paste code only", "txid", in.TxID, "err", err)
		} else {
			if qr.QRCode != "" {
				out.QRCode = qr.QRCode
			}
			out.QRCodeImage = qr.ImagemQRCode
		}
	}
	return out, nil
}

func (c *Client) PixStatus(ctx context.Context, txid string) (string, error) {
	var cob cobResponse
	if err := c.do(ctx, c.pix, http.MethodGet, c.cfg.PixURL+"/v2/cob/"+url.PathEscape(txid), nil, &cob, "pix.status", txid); err != nil {
		return "", err
	}
	return cob.Status, nil
}

// CancelPix removes the collection. A collection the provider no longer knows counts as cancelled.
func (c *Client) CancelPix(ctx context.Context, txid string) (bool, error) {
	body := map[string]string{"status": "REMOVIDA_PELO_USUARIO_RECEBEDOR"}
	err := c.do(ctx, c.pix, http.MethodPatch, c.cfg.PixURL+"/v2/cob/"+url.PathEscape(txid), body, nil, "pix.cancel", txid)
	if errors.Is(err, gateway.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
