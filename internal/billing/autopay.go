package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/gym-billing/internal/lifecycle"
	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/wallet"
)

var (
	// ErrNotEligible возвращается, если абонемент не ожидает оплаты.
	ErrNotEligible = errors.New("subscription is not eligible for auto-pay")
	// ErrNoOutstandingInvoice возвращается, если счёт не относится к абонементу или уже закрыт.
	ErrNoOutstandingInvoice = errors.New("no outstanding invoice")
)

// AutoPayOutcome новое состояние после успешного автосписания.
type AutoPayOutcome struct {
	Wallet       model.Wallet
	Transaction  model.WalletTransaction
	Payment      model.Payment
	Invoice      model.Invoice
	Subscription model.Subscription
	Effects      []model.Effect
}

// AttemptAutoPay оплачивает счёт ожидающего абонемента с кошелька и активирует абонемент.
// При нехватке средств возвращает wallet.ErrInsufficientBalance и ничего не меняет.
func AttemptAutoPay(w model.Wallet, sub model.Subscription, inv model.Invoice, now time.Time) (AutoPayOutcome, error) {
	if sub.Status != model.SubscriptionPending {
		return AutoPayOutcome{}, fmt.Errorf("%w: status %s", ErrNotEligible, sub.Status)
	}
	if inv.SubscriptionID == nil || *inv.SubscriptionID != sub.ID ||
		(inv.Status != model.InvoiceIssued && inv.Status != model.InvoiceOverdue) {
		return AutoPayOutcome{}, ErrNoOutstandingInvoice
	}
	if w.Currency != "" && w.Currency != inv.Currency {
		return AutoPayOutcome{}, fmt.Errorf("%w: wallet %s, invoice %s", ErrCurrencyMismatch, w.Currency, inv.Currency)
	}

	invoiceID := inv.ID
	nextWallet, tx, err := wallet.Apply(w, wallet.Entry{
		Kind:        model.WalletSubscriptionCharge,
		Amount:      inv.Total,
		Currency:    inv.Currency,
		Reference:   inv.Number,
		Description: "Auto-pay of invoice " + inv.Number,
		InvoiceID:   &invoiceID,
	}, now)
	if err != nil {
		return AutoPayOutcome{}, err
	}

	payment := model.Payment{
		ID:         uuid.New(),
		InvoiceID:  inv.ID,
		Amount:     inv.Total,
		Reference:  "wallet:" + tx.ID.String(),
		Method:     model.PaymentWallet,
		ReceivedAt: now.UTC(),
	}
	paid, effects, err := MarkPaid(inv, payment, now)
	if err != nil {
		return AutoPayOutcome{}, err
	}

	res, err := lifecycle.Apply(sub, lifecycle.Activate{Invoice: &paid}, now)
	if err != nil {
		return AutoPayOutcome{}, err
	}

	return AutoPayOutcome{
		Wallet:       nextWallet,
		Transaction:  tx,
		Payment:      payment,
		Invoice:      paid,
		Subscription: res.Subscription,
		Effects:      append(effects, res.Effects...),
	}, nil
}
