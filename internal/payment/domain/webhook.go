package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
)

const (
	SourcePix  = "pix"
	SourceCard = "card"

	// StatusInvalidJSON is stored for bodies that could not be parsed.
	StatusInvalidJSON = "INVALID_JSON"
	// StatusNoReference is stored for parseable bodies that carry no txid or charge id.
	StatusNoReference = "NO_REFERENCE"
)

var (
	ErrMalformed   = errors.New("malformed webhook payload")
	ErrNoReference = errors.New("webhook payload carries no reference")
)

// Notice is one provider status report about one order reference.
type Notice struct {
	Reference orderdomain.Reference
	Status    string
}

// AuditRecord is one row of the append-only webhook log.
type AuditRecord struct {
	Source     string
	Reference  string
	Status     string
	Raw        []byte
	ReceivedAt time.Time
}

type pixItem struct {
	TxID       string `json:"txid"`
	EndToEndID string `json:"endToEndId"`
	Status     string `json:"status"`
}

type pixBody struct {
	TxID   string    `json:"txid"`
	Status string    `json:"status"`
	Pix    []pixItem `json:"pix"`
}

// ParsePix accepts the flat {"txid","status"} shape and the gateway's
// {"pix":[...]} callback. An entry in the pix array is a settled payment, so
// it reports CONCLUIDA unless it says otherwise.
func ParsePix(body []byte) ([]Notice, error) {
	var b pixBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	var out []Notice
	for _, it := range b.Pix {
		if it.TxID == "" {
			continue
		}
		st := it.Status
		if st == "" {
			st = "CONCLUIDA"
		}
		out = append(out, Notice{Reference: orderdomain.PixRef(it.TxID), Status: st})
	}
	if b.TxID != "" {
		out = append(out, Notice{Reference: orderdomain.PixRef(b.TxID), Status: b.Status})
	}
	if len(out) == 0 {
		return nil, ErrNoReference
	}
	return out, nil
}

// cardStatus is either "paid" or {"current":"paid","previous":"waiting"}.
type cardStatus string

func (c *cardStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = cardStatus(s)
		return nil
	}
	var obj struct {
		Current string `json:"current"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*c = cardStatus(obj.Current)
	return nil
}

type cardBody struct {
	ChargeID    json.RawMessage `json:"charge_id"`
	ChargeIDAlt json.RawMessage `json:"chargeId"`
	Status      cardStatus      `json:"status"`
	Identifiers struct {
		ChargeID json.RawMessage `json:"charge_id"`
	} `json:"identifiers"`
}

func ParseCard(body []byte) (Notice, error) {
	var b cardBody
	if err := json.Unmarshal(body, &b); err != nil {
		return Notice{}, errors.Join(ErrMalformed, err)
	}
	id := firstID(b.ChargeID, b.ChargeIDAlt, b.Identifiers.ChargeID)
	if id == "" {
		return Notice{}, ErrNoReference
	}
	return Notice{Reference: orderdomain.CardRef(id), Status: string(b.Status)}, nil
}

// firstID reads an id sent either as a JSON number or a string.
func firstID(raws ...json.RawMessage) string {
	for _, raw := range raws {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		s := strings.Trim(string(raw), `"`)
		if s != "" {
			return s
		}
	}
	return ""
}
