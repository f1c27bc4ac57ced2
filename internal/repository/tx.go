package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// Tx операции, выполняемые внутри одной транзакции.
//
// Методы Lock* блокируют строку до конца транзакции (SELECT ... FOR UPDATE).
// Методы Update* и Save* сравнивают Version и при расхождении возвращают
// ErrConcurrentModification; возвращаемое значение содержит новую версию.
type Tx interface {
	GetMember(ctx context.Context, id uuid.UUID) (model.Member, error)
	GetPlan(ctx context.Context, id uuid.UUID) (model.Plan, error)
	GetFreezePackage(ctx context.Context, id uuid.UUID) (model.FreezePackage, error)

	CountSubscriptions(ctx context.Context, memberID uuid.UUID) (int, error)
	CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	LockSubscription(ctx context.Context, id uuid.UUID) (model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	// LockPendingSubscriptions возвращает ожидающие оплаты абонементы участника, старые первыми.
	LockPendingSubscriptions(ctx context.Context, memberID uuid.UUID) ([]model.Subscription, error)

	CreateFreezeBalance(ctx context.Context, b model.FreezeBalance) (model.FreezeBalance, error)
	LockFreezeBalance(ctx context.Context, subscriptionID uuid.UUID) (model.FreezeBalance, error)
	UpdateFreezeBalance(ctx context.Context, b model.FreezeBalance) (model.FreezeBalance, error)

	// LockWallet блокирует кошелёк участника, создавая пустой при первом обращении.
	LockWallet(ctx context.Context, memberID uuid.UUID, currency string) (model.Wallet, error)
	// SaveWallet сохраняет баланс и дописывает записи журнала.
	SaveWallet(ctx context.Context, w model.Wallet, txs ...model.WalletTransaction) (model.Wallet, error)

	// NextInvoiceNumber выдаёт следующий номер счёта в году под блокировкой счётчика.
	NextInvoiceNumber(ctx context.Context, year int) (string, error)
	CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error)
	LockInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error)
	UpdateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error)
	// LockOpenInvoice возвращает неоплаченный счёт абонемента или ErrInvoiceNotFound.
	LockOpenInvoice(ctx context.Context, subscriptionID uuid.UUID) (model.Invoice, error)
	CreatePayment(ctx context.Context, p model.Payment) error

	// LockPointsAccount блокирует счёт баллов, создавая пустой при первом обращении.
	LockPointsAccount(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) (model.PointsAccount, error)
	SavePointsAccount(ctx context.Context, a model.PointsAccount, txs ...model.PointsTransaction) (model.PointsAccount, error)

	CreateReferral(ctx context.Context, r model.Referral) error
	LockReferralByReferee(ctx context.Context, refereeID uuid.UUID) (model.Referral, error)
	UpdateReferral(ctx context.Context, r model.Referral) error
}

type pgTx struct {
	q querier
}

var _ Tx = (*pgTx)(nil)
