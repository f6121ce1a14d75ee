package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrMalformedNotice = errors.New("malformed payout notice")

// rejection is the provider's failure detail. It arrives as an object with
// a code and reason, or as a bare string.
type rejection struct {
	Codigo string `json:"codigo"`
	Motivo string `json:"motivo"`
}

func (r *rejection) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		r.Motivo = text
		return nil
	}
	type plain rejection
	return json.Unmarshal(b, (*plain)(r))
}

func (r rejection) String() string {
	code, why := strings.TrimSpace(r.Codigo), strings.TrimSpace(r.Motivo)
	switch {
	case code != "" && why != "":
		return code + ": " + why
	case code != "":
		return code
	}
	return why
}

type gnExtras struct {
	IDEnvio string    `json:"idEnvio"`
	Erro    rejection `json:"erro"`
}

type noticeJSON struct {
	IDEnvio    string    `json:"idEnvio"`
	IDEnvioAlt string    `json:"id_envio"`
	Status     string    `json:"status"`
	Situacao   string    `json:"situacao"`
	EndToEndID string    `json:"endToEndId"`
	TxID       string    `json:"txid"`
	Motivo     string    `json:"motivo"`
	Erro       rejection `json:"erro"`
	GnExtras   gnExtras  `json:"gnExtras"`
}

func (n noticeJSON) notice() (Notice, bool) {
	out := Notice{Reference: n.IDEnvio, Status: n.Status, EndToEndID: n.EndToEndID, TxID: n.TxID}
	if out.Reference == "" {
		out.Reference = n.IDEnvioAlt
	}
	if out.Reference == "" {
		out.Reference = n.GnExtras.IDEnvio
	}
	if out.Status == "" {
		out.Status = n.Situacao
	}
	for _, r := range []rejection{n.Erro, n.GnExtras.Erro, {Motivo: n.Motivo}} {
		if out.Reason = r.String(); out.Reason != "" {
			break
		}
	}
	return out, out.Reference != "" || out.EndToEndID != ""
}

// ParseNotices accepts a flat object or the provider's {"pix":[...]} envelope.
func ParseNotices(body []byte) ([]Notice, error) {
	var env struct {
		noticeJSON
		Pix []noticeJSON `json:"pix"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Join(ErrMalformedNotice, err)
	}
	var out []Notice
	for _, it := range env.Pix {
		if n, ok := it.notice(); ok {
			out = append(out, n)
		}
	}
	if n, ok := env.noticeJSON.notice(); ok {
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrMalformedNotice
	}
	return out, nil
}
