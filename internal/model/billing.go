package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus описывает статус счёта.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceIssued    InvoiceStatus = "ISSUED"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// IsOpen сообщает, что по счёту ожидается оплата.
func (s InvoiceStatus) IsOpen() bool {
	return s == InvoiceDraft || s == InvoiceIssued || s == InvoiceOverdue
}

// LineItem описывает строку счёта.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	NetAmount   decimal.Decimal `json:"netAmount"`
	TaxAmount   decimal.Decimal `json:"taxAmount"`
	Total       decimal.Decimal `json:"total"`
}

// Invoice описывает счёт участнику.
type Invoice struct {
	ID             uuid.UUID
	Number         string
	MemberID       uuid.UUID
	SubscriptionID *uuid.UUID
	Status         InvoiceStatus
	Currency       string
	LineItems      []LineItem
	Subtotal       decimal.Decimal
	TaxTotal       decimal.Decimal
	Total          decimal.Decimal

	IssuedAt         *time.Time
	DueDate          *time.Time
	PaidAt           *time.Time
	PaidAmount       decimal.Decimal
	PaymentReference string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentMethod описывает источник оплаты счёта.
type PaymentMethod string

const (
	PaymentWallet  PaymentMethod = "WALLET"
	PaymentGateway PaymentMethod = "GATEWAY"
)

// Payment описывает поступивший платёж. Reference уникален.
type Payment struct {
	ID         uuid.UUID
	InvoiceID  uuid.UUID
	Amount     decimal.Decimal
	Reference  string
	Method     PaymentMethod
	ReceivedAt time.Time
}

// WalletTransactionKind описывает тип операции по кошельку.
type WalletTransactionKind string

const (
	WalletCredit             WalletTransactionKind = "CREDIT"
	WalletDebit              WalletTransactionKind = "DEBIT"
	WalletSubscriptionCharge WalletTransactionKind = "SUBSCRIPTION_CHARGE"
	WalletRefund             WalletTransactionKind = "REFUND"
	WalletAdjustmentKind     WalletTransactionKind = "ADJUSTMENT"
)

// Wallet хранит баланс участника. Баланс может быть отрицательным после корректировок.
type Wallet struct {
	MemberID     uuid.UUID
	Balance      decimal.Decimal
	Currency     string
	LastSequence int64
	Version      int64
}

// WalletTransaction неизменяемая запись журнала кошелька.
type WalletTransaction struct {
	ID           uuid.UUID
	MemberID     uuid.UUID
	Sequence     int64
	Kind         WalletTransactionKind
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	Description  string
	InvoiceID    *uuid.UUID
	CreatedAt    time.Time
}

// PointsProgram описывает программу начисления баллов.
type PointsProgram string

const (
	ProgramLoyalty  PointsProgram = "LOYALTY"
	ProgramReferral PointsProgram = "REFERRAL"
)

// PointsTransactionKind описывает тип операции с баллами.
type PointsTransactionKind string

const (
	PointsEarn   PointsTransactionKind = "EARN"
	PointsRedeem PointsTransactionKind = "REDEEM"
	PointsAdjust PointsTransactionKind = "ADJUST"
)

// PointsAccount хранит баланс баллов участника в одной программе.
type PointsAccount struct {
	MemberID     uuid.UUID
	Program      PointsProgram
	Balance      int64
	LastSequence int64
	Version      int64
}

// PointsTransaction неизменяемая запись журнала баллов.
type PointsTransaction struct {
	ID           uuid.UUID
	MemberID     uuid.UUID
	Program      PointsProgram
	Sequence     int64
	Kind         PointsTransactionKind
	Points       int64
	BalanceAfter int64
	Reference    string
	CreatedAt    time.Time
}

// Referral связывает пригласившего участника с приглашённым.
type Referral struct {
	ID         uuid.UUID
	ReferrerID uuid.UUID
	RefereeID  uuid.UUID
	CreatedAt  time.Time
	RewardedAt *time.Time
}
