package domain

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

const layout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<table width="100%" cellpadding="0" cellspacing="0"><tr><td style="padding: 24px;">
<h2 style="margin-top: 0;">{{template "title" .}}</h2>
{{template "content" .}}
<hr style="border: none; border-top: 1px solid #ddd;">
<p style="font-size: 12px; color: #777;">{{template "footer" .}}</p>
</td></tr></table>
</body>
</html>`

const defaultFooter = `{{define "footer"}}Agenor Gasparetto Books{{if .OrderID}} · pedido #{{.OrderID}}{{end}}{{end}}`

// blocks holds, per kind, the subject line and the named blocks that fill the
// layout. A kind may override "footer".
var blocks = map[Kind]struct {
	subject string
	body    string
}{
	KindOrderConfirmedClient: {
		subject: "Pedido #{{.OrderID}} confirmado",
		body: `{{define "title"}}Pagamento confirmado{{end}}
{{define "content"}}<p>Olá {{.Name}}, recebemos o pagamento do pedido #{{.OrderID}}.</p>
<ul>{{range .Items}}<li>{{.Quantity}} × {{.Title}}: R$ {{.Price}}</li>{{end}}</ul>
{{if .Discount}}<p>Desconto: R$ {{.Discount}}</p>{{end}}
<p><strong>Total: R$ {{.Total}}</strong></p>{{end}}`,
	},
	KindOrderConfirmedSeller: {
		subject: "Novo pedido pago #{{.OrderID}}",
		body: `{{define "title"}}Novo pedido pago{{end}}
{{define "content"}}<p>Pedido #{{.OrderID}} de {{.Name}} ({{.Email}}) foi pago via {{.Method}}.</p>
<ul>{{range .Items}}<li>{{.Quantity}} × {{.Title}}</li>{{end}}</ul>
<p>Total: R$ {{.Total}}</p>{{end}}`,
	},
	KindOrderPaidLate: {
		subject: "Pagamento após expiração no pedido #{{.OrderID}}",
		body: `{{define "title"}}Pagamento fora do prazo{{end}}
{{define "content"}}<p>O pedido #{{.OrderID}} foi pago depois que a reserva expirou e foi marcado como REFUNDED.</p>
<p>Referência: {{.Reference}}. Devolva o valor de R$ {{.Total}} ao cliente {{.Email}}.</p>{{end}}`,
	},
	KindPayoutConfirmed: {
		subject: "Repasse do pedido #{{.OrderID}} confirmado",
		body: `{{define "title"}}Repasse confirmado{{end}}
{{define "content"}}<p>O repasse de R$ {{.Net}} para a chave {{.PixKey}} foi liquidado.</p>
{{if .ProviderRef}}<p>Identificador: {{.ProviderRef}}</p>{{end}}{{end}}`,
	},
	KindPayoutFailed: {
		subject: "Falha no repasse do pedido #{{.OrderID}}",
		body: `{{define "title"}}Repasse não realizado{{end}}
{{define "content"}}<p>O repasse do pedido #{{.OrderID}} falhou: {{.Reason}}</p>
{{if .Minimum}}<p>Valor líquido R$ {{.Net}}, mínimo R$ {{.Minimum}}.</p>{{end}}
<p>Dispare novamente pelo painel administrativo quando resolvido.</p>{{end}}`,
	},
}

var (
	templates = map[Kind]*template.Template{}
	subjects  = map[Kind]*texttemplate.Template{}
)

func init() {
	base := template.Must(template.New("layout").Parse(layout))
	template.Must(base.Parse(defaultFooter))
	for kind, b := range blocks {
		t := template.Must(template.Must(base.Clone()).Parse(b.body))
		templates[kind] = t
		subjects[kind] = texttemplate.Must(texttemplate.New(string(kind)).Parse(b.subject))
	}
}

// Render fills the shared layout with the blocks of kind. data must carry
// OrderID; the rest depends on the kind.
func Render(kind Kind, data map[string]any) (subject, html string, err error) {
	t, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	var body, subj bytes.Buffer
	if err := t.ExecuteTemplate(&body, "layout", data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", kind, err)
	}
	if err := subjects[kind].Execute(&subj, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", kind, err)
	}
	return subj.String(), body.String(), nil
}
