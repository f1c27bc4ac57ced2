package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Effect описывает последующее действие, которое вызывающий код выполняет после фиксации изменений.
type Effect interface {
	RoutingKey() string
}

// Шаблоны уведомлений.
const (
	TemplateSubscriptionActivated = "subscription.activated"
	TemplateSubscriptionFrozen    = "subscription.frozen"
	TemplateSubscriptionUnfrozen  = "subscription.unfrozen"
	TemplateSubscriptionCancelled = "subscription.cancelled"
	TemplateSubscriptionExpired   = "subscription.expired"
	TemplateSubscriptionRenewed   = "subscription.renewed"
	TemplateInvoiceIssued         = "invoice.issued"
	TemplateInvoicePaid           = "invoice.paid"
	TemplateInvoiceOverdue        = "invoice.overdue"
	TemplateAutoPayFailed         = "autopay.failed"
	TemplateWalletAdjusted        = "wallet.adjusted"
)

// InvoiceIssuedEvent сообщает о выставленном счёте.
type InvoiceIssuedEvent struct {
	InvoiceID      uuid.UUID       `json:"invoiceId"`
	Number         string          `json:"number"`
	MemberID       uuid.UUID       `json:"memberId"`
	SubscriptionID *uuid.UUID      `json:"subscriptionId,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
}

// RoutingKey реализует Effect.
func (InvoiceIssuedEvent) RoutingKey() string { return "invoice.issued" }

// NotificationRequested просит отправить участнику уведомление по шаблону.
type NotificationRequested struct {
	MemberID uuid.UUID         `json:"memberId"`
	Template string            `json:"template"`
	Locale   Locale            `json:"locale"`
	Params   map[string]string `json:"params,omitempty"`
}

// RoutingKey реализует Effect.
func (NotificationRequested) RoutingKey() string { return "notification.requested" }

// SubscriptionStatusChanged фиксирует смену статуса абонемента для аудита.
type SubscriptionStatusChanged struct {
	SubscriptionID uuid.UUID          `json:"subscriptionId"`
	MemberID       uuid.UUID          `json:"memberId"`
	From           SubscriptionStatus `json:"from"`
	To             SubscriptionStatus `json:"to"`
	At             time.Time          `json:"at"`
}

// RoutingKey реализует Effect.
func (SubscriptionStatusChanged) RoutingKey() string { return "subscription.status_changed" }

// Notify собирает запрос уведомления без локали; локаль подставляет сервис.
func Notify(memberID uuid.UUID, template string, params map[string]string) NotificationRequested {
	return NotificationRequested{MemberID: memberID, Template: template, Params: params}
}

// WithLocale проставляет локаль во все запросы уведомлений, где она не задана.
func WithLocale(effects []Effect, locale Locale) []Effect {
	out := make([]Effect, 0, len(effects))
	for _, e := range effects {
		if n, ok := e.(NotificationRequested); ok && n.Locale == "" {
			n.Locale = locale
			e = n
		}
		out = append(out, e)
	}
	return out
}
