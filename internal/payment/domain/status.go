package domain

import (
	"strings"

	orderdomain "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/domain"
)

// paidTokens are provider statuses that mean the money has landed.
var paidTokens = map[string]struct{}{
	"CONCLUIDA": {},
	"PAID":      {},
	"APPROVED":  {},
	"REALIZADO": {},
	"SETTLED":   {},
	"CONFIRMED": {},
}

var secondary = map[string]orderdomain.OrderStatus{
	"REMOVIDA_PELO_USUARIO_RECEBEDOR": orderdomain.StatusCanceled,
	"REMOVIDA_PELO_PSP":               orderdomain.StatusCanceled,
	"CANCELED":                        orderdomain.StatusCanceled,
	"CANCELLED":                       orderdomain.StatusCanceled,
	"UNPAID":                          orderdomain.StatusDeclined,
	"DECLINED":                        orderdomain.StatusDeclined,
	"REFUSED":                         orderdomain.StatusDeclined,
	"REFUNDED":                        orderdomain.StatusRefunded,
	"DEVOLVIDO":                       orderdomain.StatusRefunded,
	"PARTIALLY_REFUNDED":              orderdomain.StatusPartiallyRefunded,
	"EXPIRED":                         orderdomain.StatusExpired,
	"EXPIRADA":                        orderdomain.StatusExpired,
}

func normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsPaid is case-insensitive.
func IsPaid(raw string) bool {
	_, ok := paidTokens[normalize(raw)]
	return ok
}

// Classify maps a non-paid provider status to the order status it implies.
// Pending statuses such as ATIVA or waiting report false.
func Classify(raw string) (orderdomain.OrderStatus, bool) {
	st, ok := secondary[normalize(raw)]
	return st, ok
}

// Terminal reports whether polling can stop on this status.
func Terminal(raw string) bool {
	if IsPaid(raw) {
		return true
	}
	_, ok := Classify(raw)
	return ok
}
