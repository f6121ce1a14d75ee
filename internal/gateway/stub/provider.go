// Package stub is a sandbox gateway kept in memory. Payouts settle synchronously.
package stub

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
)

// DeclineToken makes CreateCardCharge answer "unpaid".
const DeclineToken = "declined"

type Provider struct {
	mu       sync.Mutex
	pix      map[string]string
	cards    map[string]string
	sends    map[string]gateway.SendStatus
	nextID   int64
	FailPix  error
	FailSend error
	// SendCalls counts SendPix invocations.
	SendCalls int
	// SendRef, when set, replaces the generated end-to-end id.
	SendRef string
}

func New() *Provider {
	return &Provider{
		pix:    map[string]string{},
		cards:  map[string]string{},
		sends:  map[string]gateway.SendStatus{},
		nextID: 1000,
	}
}

func (p *Provider) CreatePixCharge(ctx context.Context, in gateway.PixChargeRequest) (gateway.PixCharge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailPix != nil {
		return gateway.PixCharge{}, &gateway.Error{Op: "pix.create", Ref: in.TxID, Err: p.FailPix}
	}
	p.pix[in.TxID] = "ATIVA"
	return gateway.PixCharge{
		TxID:   in.TxID,
		Status: "ATIVA",
		QRCode: "00020126580014br.gov.bcb.pix0136" + in.TxID + "5204000053039865406" + in.Amount.StringFixed(2),
	}, nil
}

func (p *Provider) PixStatus(ctx context.Context, txid string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pix[txid]
	if !ok {
		return "", &gateway.Error{Op: "pix.status", Ref: txid, StatusCode: 404, Err: gateway.ErrNotFound}
	}
	return st, nil
}

func (p *Provider) CancelPix(ctx context.Context, txid string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pix[txid]; ok {
		p.pix[txid] = "REMOVIDA_PELO_USUARIO_RECEBEDOR"
	}
	return true, nil
}

// SetPixStatus simulates the payer acting on a collection.
func (p *Provider) SetPixStatus(txid, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pix[txid] = status
}

func (p *Provider) CreateCardCharge(ctx context.Context, in gateway.CardChargeRequest) (gateway.CardCharge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := strconv.FormatInt(p.nextID, 10)
	status := "approved"
	if in.PaymentToken == DeclineToken {
		status = "unpaid"
	}
	p.cards[id] = status

	total := in.Shipping.Sub(in.Discount)
	for _, it := range in.Items {
		total = total.Add(it.Amount.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return gateway.CardCharge{ChargeID: id, Status: status, Total: total}, nil
}

func (p *Provider) CardStatus(ctx context.Context, chargeID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.cards[chargeID]
	if !ok {
		return "", &gateway.Error{Op: "card.status", Ref: chargeID, StatusCode: 404, Err: gateway.ErrNotFound}
	}
	return st, nil
}

func (p *Provider) CancelCard(ctx context.Context, chargeID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cards[chargeID]; ok {
		p.cards[chargeID] = "canceled"
	}
	return true, nil
}

func (p *Provider) SendPix(ctx context.Context, sendID string, amount decimal.Decimal, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendCalls++
	if p.FailSend != nil {
		return "", &gateway.Error{Op: "payout.send", Ref: sendID, Err: p.FailSend}
	}
	ref := "E" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if p.SendRef != "" {
		ref = p.SendRef
	}
	p.sends[sendID] = gateway.SendStatus{SendID: sendID, Status: "REALIZADO", EndToEndID: ref}
	return ref, nil
}

func (p *Provider) SendStatus(ctx context.Context, sendID string) (gateway.SendStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sends[sendID]
	if !ok {
		return gateway.SendStatus{}, &gateway.Error{Op: "payout.status", Ref: sendID, StatusCode: 404, Err: gateway.ErrNotFound}
	}
	return st, nil
}

// SetSendStatus overrides the settlement status reported for sendID.
func (p *Provider) SetSendStatus(sendID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.sends[sendID]
	st.SendID, st.Status = sendID, status
	p.sends[sendID] = st
}

// RejectSend reports sendID as not settled, with the provider's reason.
func (p *Provider) RejectSend(sendID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.sends[sendID]
	st.SendID, st.Status, st.Reason = sendID, "NAO_REALIZADO", reason
	p.sends[sendID] = st
}
