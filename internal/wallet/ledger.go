// Package wallet реализует арифметику журнала кошелька участника.
//
// Баланс кошелька всегда равен сумме знаковых сумм всех записей журнала,
// а BalanceAfter последней записи совпадает с текущим балансом.
package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
)

var (
	// ErrInsufficientBalance возвращается, если средств на кошельке не хватает для списания.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrInvalidAmount возвращается при сумме с неверным для операции знаком.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrCurrencyMismatch возвращается при операции в валюте, отличной от валюты кошелька.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrUnknownKind возвращается для неизвестного типа операции.
	ErrUnknownKind = errors.New("unknown wallet transaction kind")
)

// Entry запрос на проведение операции по кошельку.
// Amount всегда положителен, кроме корректировок, где знак задаёт направление.
type Entry struct {
	Kind        model.WalletTransactionKind
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	Description string
	InvoiceID   *uuid.UUID
}

// Apply проводит операцию и возвращает новое состояние кошелька и запись журнала.
// Исходный кошелёк не изменяется.
func Apply(w model.Wallet, e Entry, now time.Time) (model.Wallet, model.WalletTransaction, error) {
	if e.Currency != "" && w.Currency != "" && e.Currency != w.Currency {
		return w, model.WalletTransaction{}, fmt.Errorf("%w: wallet %s, entry %s", ErrCurrencyMismatch, w.Currency, e.Currency)
	}

	amount := model.RoundMoney(e.Amount)
	if err := model.CheckAmount(amount); err != nil {
		return w, model.WalletTransaction{}, err
	}
	var signed decimal.Decimal

	switch e.Kind {
	case model.WalletCredit, model.WalletRefund:
		if !amount.IsPositive() {
			return w, model.WalletTransaction{}, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, e.Kind)
		}
		signed = amount
	case model.WalletDebit, model.WalletSubscriptionCharge:
		if !amount.IsPositive() {
			return w, model.WalletTransaction{}, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, e.Kind)
		}
		if w.Balance.LessThan(amount) {
			return w, model.WalletTransaction{}, fmt.Errorf("%w: balance %s, required %s", ErrInsufficientBalance, w.Balance, amount)
		}
		signed = amount.Neg()
	case model.WalletAdjustmentKind:
		if amount.IsZero() {
			return w, model.WalletTransaction{}, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
		}
		signed = amount
	default:
		return w, model.WalletTransaction{}, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	balance := w.Balance.Add(signed)
	if err := model.CheckAmount(balance); err != nil {
		return w, model.WalletTransaction{}, fmt.Errorf("balance after %s: %w", e.Kind, err)
	}
	w.Balance = balance
	w.LastSequence++
	if w.Currency == "" {
		w.Currency = e.Currency
	}

	tx := model.WalletTransaction{
		ID:           uuid.New(),
		MemberID:     w.MemberID,
		Sequence:     w.LastSequence,
		Kind:         e.Kind,
		Amount:       signed,
		BalanceAfter: w.Balance,
		Reference:    e.Reference,
		Description:  e.Description,
		InvoiceID:    e.InvoiceID,
		CreatedAt:    now.UTC(),
	}
	return w, tx, nil
}

// Replay пересчитывает баланс по журналу и проверяет порядок и BalanceAfter каждой записи.
func Replay(txs []model.WalletTransaction) (decimal.Decimal, error) {
	balance := decimal.Zero
	for i, tx := range txs {
		if tx.Sequence != int64(i+1) {
			return balance, fmt.Errorf("ledger gap: expected sequence %d, got %d", i+1, tx.Sequence)
		}
		balance = balance.Add(tx.Amount)
		if !balance.Equal(tx.BalanceAfter) {
			return balance, fmt.Errorf("ledger mismatch at sequence %d: computed %s, recorded %s",
				tx.Sequence, balance, tx.BalanceAfter)
		}
	}
	return balance, nil
}
