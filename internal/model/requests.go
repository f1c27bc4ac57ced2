package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EnrollmentRequest запрос на оформление абонемента.
type EnrollmentRequest struct {
	MemberID  uuid.UUID
	PlanID    uuid.UUID
	StartDate time.Time
}

// FreezeRequest запрос на заморозку абонемента.
type FreezeRequest struct {
	SubscriptionID uuid.UUID
	Days           int
	Reason         string
}

// PaymentWebhook уведомление платёжного шлюза об оплате счёта.
type PaymentWebhook struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Reference string
}

// WalletAdjustment ручная корректировка баланса кошелька.
type WalletAdjustment struct {
	MemberID uuid.UUID
	Delta    decimal.Decimal
	Reason   string
}
