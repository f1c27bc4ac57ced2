package service

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/report"
	"github.com/mmeshcher/gym-billing/internal/repository"
	"github.com/mmeshcher/gym-billing/internal/wallet"
)

// CreditWallet пополняет кошелёк и пытается оплатить ожидающие абонементы.
func (s *Service) CreditWallet(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, reference string) (model.Wallet, error) {
	return s.post(ctx, "wallet_credit", memberID, wallet.Entry{
		Kind:        model.WalletCredit,
		Amount:      amount,
		Reference:   reference,
		Description: "Wallet top-up",
	}, "")
}

// AdjustWallet проводит ручную корректировку баланса. Отрицательная корректировка
// может увести баланс в минус.
func (s *Service) AdjustWallet(ctx context.Context, adj model.WalletAdjustment) (model.Wallet, error) {
	return s.post(ctx, "wallet_adjust", adj.MemberID, wallet.Entry{
		Kind:        model.WalletAdjustmentKind,
		Amount:      adj.Delta,
		Reference:   "adjustment",
		Description: adj.Reason,
	}, model.TemplateWalletAdjusted)
}

// RefundToWallet возвращает средства на кошелёк.
func (s *Service) RefundToWallet(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, reference, reason string) (model.Wallet, error) {
	return s.post(ctx, "wallet_refund", memberID, wallet.Entry{
		Kind:        model.WalletRefund,
		Amount:      amount,
		Reference:   reference,
		Description: reason,
	}, "")
}

// post проводит операцию по кошельку. Поступление средств запускает автосписание
// по ожидающим абонементам участника в той же транзакции.
func (s *Service) post(ctx context.Context, op string, memberID uuid.UUID, entry wallet.Entry, template string) (model.Wallet, error) {
	var out model.Wallet
	err := s.mutate(ctx, op, func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		now := s.now()
		if _, err := tx.GetMember(ctx, memberID); err != nil {
			return nil, err
		}
		pending, err := tx.LockPendingSubscriptions(ctx, memberID)
		if err != nil {
			return nil, err
		}

		currency := entry.Currency
		if currency == "" {
			currency = s.opts.DefaultCurrency
		}
		w, err := tx.LockWallet(ctx, memberID, currency)
		if err != nil {
			return nil, err
		}
		next, posted, err := wallet.Apply(w, entry, now)
		if err != nil {
			return nil, err
		}
		if next, err = tx.SaveWallet(ctx, next, posted); err != nil {
			return nil, err
		}

		var effects []model.Effect
		if template != "" {
			effects = append(effects, model.Notify(memberID, template, map[string]string{
				"amount":  posted.Amount.StringFixed(model.MinorUnitDigits),
				"balance": next.Balance.StringFixed(model.MinorUnitDigits),
				"reason":  entry.Description,
			}))
		}
		if posted.Amount.IsPositive() && len(pending) > 0 {
			var more []model.Effect
			if next, more, err = s.autoPayPending(ctx, tx, next, pending, now); err != nil {
				return nil, err
			}
			effects = append(effects, more...)
		}

		out = next
		return effects, nil
	})
	return out, err
}

// GetWallet возвращает кошелёк участника. Если операций ещё не было, возвращается пустой кошелёк.
func (s *Service) GetWallet(ctx context.Context, memberID uuid.UUID) (model.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, memberID)
	if errors.Is(err, repository.ErrWalletNotFound) {
		if _, err := s.repo.GetMember(ctx, memberID); err != nil {
			return model.Wallet{}, err
		}
		return model.Wallet{MemberID: memberID, Currency: s.opts.DefaultCurrency, Balance: decimal.Zero}, nil
	}
	return w, err
}

// ListWalletTransactions возвращает журнал кошелька в порядке проведения.
func (s *Service) ListWalletTransactions(ctx context.Context, memberID uuid.UUID) ([]model.WalletTransaction, error) {
	return s.repo.ListWalletTransactions(ctx, memberID)
}

// WalletStatement записывает выписку по кошельку в формате XLSX.
func (s *Service) WalletStatement(ctx context.Context, memberID uuid.UUID, w io.Writer) error {
	wal, err := s.GetWallet(ctx, memberID)
	if err != nil {
		return err
	}
	txs, err := s.repo.ListWalletTransactions(ctx, memberID)
	if err != nil {
		return err
	}
	if replayed, err := wallet.Replay(txs); err != nil || !replayed.Equal(wal.Balance) {
		s.logger.Error("wallet ledger inconsistent",
			zap.Stringer("member", memberID),
			zap.String("balance", wal.Balance.String()),
			zap.String("replayed", replayed.String()),
			zap.Error(err),
		)
	}
	return report.WriteStatement(w, report.Statement{
		MemberID:     memberID,
		Currency:     wal.Currency,
		Balance:      wal.Balance,
		Transactions: txs,
		GeneratedAt:  s.now(),
	})
}
