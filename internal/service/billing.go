package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/billing"
	"github.com/mmeshcher/gym-billing/internal/lifecycle"
	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/points"
	"github.com/mmeshcher/gym-billing/internal/repository"
	"github.com/mmeshcher/gym-billing/internal/wallet"
)

// HandlePaymentWebhook фиксирует оплату счёта платёжным шлюзом и активирует
// ожидающий абонемент. Повторное уведомление по оплаченному счёту не меняет
// состояние и считается успешным.
func (s *Service) HandlePaymentWebhook(ctx context.Context, wh model.PaymentWebhook) (model.Invoice, error) {
	current, err := s.repo.GetInvoice(ctx, wh.InvoiceID)
	if err != nil {
		s.metrics.Webhook("rejected")
		return model.Invoice{}, err
	}

	var (
		out    model.Invoice
		result string
	)
	err = s.mutate(ctx, "payment_webhook", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		result = "paid"
		now := s.now()

		// Абонемент блокируется раньше счёта, как и в остальных операциях.
		var sub *model.Subscription
		if current.SubscriptionID != nil {
			locked, err := tx.LockSubscription(ctx, *current.SubscriptionID)
			if err != nil {
				return nil, err
			}
			sub = &locked
		}
		inv, err := tx.LockInvoice(ctx, wh.InvoiceID)
		if err != nil {
			return nil, err
		}

		payment := model.Payment{
			ID:         uuid.New(),
			InvoiceID:  inv.ID,
			Amount:     wh.Amount,
			Reference:  wh.Reference,
			Method:     model.PaymentGateway,
			ReceivedAt: now,
		}
		paid, effects, err := billing.MarkPaid(inv, payment, now)
		if errors.Is(err, billing.ErrAlreadyPaid) {
			result = "duplicate"
			out = inv
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		if err := tx.CreatePayment(ctx, payment); err != nil {
			return nil, err
		}
		if paid, err = tx.UpdateInvoice(ctx, paid); err != nil {
			return nil, err
		}
		more, err := s.earnLoyalty(ctx, tx, paid, now)
		if err != nil {
			return nil, err
		}
		effects = append(effects, more...)

		if sub != nil && sub.Status == model.SubscriptionPending {
			activated, more, err := s.applyEvent(ctx, tx, *sub, lifecycle.Activate{Invoice: &paid}, now)
			if err != nil {
				return nil, err
			}
			effects = append(effects, more...)
			if more, err = s.rewardReferral(ctx, tx, activated.MemberID, now); err != nil {
				return nil, err
			}
			effects = append(effects, more...)
		}

		out = paid
		return effects, nil
	})
	if err != nil {
		s.metrics.Webhook("rejected")
		return model.Invoice{}, err
	}

	s.metrics.Webhook(result)
	s.logger.Info("payment webhook processed",
		zap.Stringer("invoice", wh.InvoiceID),
		zap.String("reference", wh.Reference),
		zap.String("result", result),
	)
	return out, nil
}

// GetInvoice возвращает счёт.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices возвращает счета участника, новые первыми.
func (s *Service) ListInvoices(ctx context.Context, memberID uuid.UUID) ([]model.Invoice, error) {
	return s.repo.ListInvoicesByMember(ctx, memberID)
}

// CancelInvoice отменяет неоплаченный счёт.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error) {
	var out model.Invoice
	err := s.mutate(ctx, "cancel_invoice", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return nil, err
		}
		cancelled, err := billing.Cancel(inv, s.now())
		if err != nil {
			return nil, err
		}
		out, err = tx.UpdateInvoice(ctx, cancelled)
		return nil, err
	})
	return out, err
}

// persistAutoPay сохраняет результат автосписания и начисляет баллы.
func (s *Service) persistAutoPay(ctx context.Context, tx repository.Tx, o billing.AutoPayOutcome, now time.Time) (model.Wallet, []model.Effect, error) {
	w, err := tx.SaveWallet(ctx, o.Wallet, o.Transaction)
	if err != nil {
		return model.Wallet{}, nil, err
	}
	if err := tx.CreatePayment(ctx, o.Payment); err != nil {
		return model.Wallet{}, nil, err
	}
	if _, err := tx.UpdateInvoice(ctx, o.Invoice); err != nil {
		return model.Wallet{}, nil, err
	}
	if _, err := tx.UpdateSubscription(ctx, o.Subscription); err != nil {
		return model.Wallet{}, nil, err
	}

	var effects []model.Effect
	more, err := s.earnLoyalty(ctx, tx, o.Invoice, now)
	if err != nil {
		return model.Wallet{}, nil, err
	}
	effects = append(effects, more...)
	if more, err = s.rewardReferral(ctx, tx, o.Subscription.MemberID, now); err != nil {
		return model.Wallet{}, nil, err
	}
	effects = append(effects, more...)

	s.metrics.AutoPay("paid")
	return w, effects, nil
}

// autoPayPending оплачивает открытые счета ожидающих абонементов, старые первыми.
// Абонемент, на который не хватает средств, пропускается.
func (s *Service) autoPayPending(ctx context.Context, tx repository.Tx, w model.Wallet, pending []model.Subscription, now time.Time) (model.Wallet, []model.Effect, error) {
	var effects []model.Effect
	for _, sub := range pending {
		inv, err := tx.LockOpenInvoice(ctx, sub.ID)
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			continue
		}
		if err != nil {
			return w, nil, err
		}

		outcome, err := billing.AttemptAutoPay(w, sub, inv, now)
		if isAutoPaySkip(err) {
			s.metrics.AutoPay(autoPayResult(err))
			if errors.Is(err, wallet.ErrInsufficientBalance) {
				effects = append(effects, model.Notify(sub.MemberID, model.TemplateAutoPayFailed, map[string]string{
					"number":  inv.Number,
					"total":   inv.Total.StringFixed(model.MinorUnitDigits),
					"balance": w.Balance.StringFixed(model.MinorUnitDigits),
				}))
			}
			continue
		}
		if err != nil {
			return w, nil, err
		}

		next, more, err := s.persistAutoPay(ctx, tx, outcome, now)
		if err != nil {
			return w, nil, err
		}
		w = next
		effects = append(effects, outcome.Effects...)
		effects = append(effects, more...)
	}
	return w, effects, nil
}

// earnLoyalty начисляет баллы лояльности за оплаченный счёт.
func (s *Service) earnLoyalty(ctx context.Context, tx repository.Tx, inv model.Invoice, now time.Time) ([]model.Effect, error) {
	pts := points.ForAmount(inv.Total, s.opts.PointsPerUnit)
	if pts <= 0 {
		return nil, nil
	}
	acc, err := tx.LockPointsAccount(ctx, inv.MemberID, model.ProgramLoyalty)
	if err != nil {
		return nil, err
	}
	acc, entry, err := points.Earn(acc, pts, "invoice:"+inv.Number, now)
	if err != nil {
		return nil, err
	}
	_, err = tx.SavePointsAccount(ctx, acc, entry)
	return nil, err
}

// rewardReferral начисляет баллы пригласившему при первой активации приглашённого.
func (s *Service) rewardReferral(ctx context.Context, tx repository.Tx, refereeID uuid.UUID, now time.Time) ([]model.Effect, error) {
	if s.opts.ReferralRewardPoints <= 0 {
		return nil, nil
	}
	ref, err := tx.LockReferralByReferee(ctx, refereeID)
	if errors.Is(err, repository.ErrReferralNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ref.RewardedAt != nil {
		return nil, nil
	}

	acc, err := tx.LockPointsAccount(ctx, ref.ReferrerID, model.ProgramReferral)
	if err != nil {
		return nil, err
	}
	acc, entry, err := points.Earn(acc, s.opts.ReferralRewardPoints, "referral:"+refereeID.String(), now)
	if err != nil {
		return nil, err
	}
	if _, err := tx.SavePointsAccount(ctx, acc, entry); err != nil {
		return nil, err
	}

	at := now.UTC()
	ref.RewardedAt = &at
	return nil, tx.UpdateReferral(ctx, ref)
}

// isAutoPaySkip сообщает, что автосписание невозможно, но операция продолжается.
func isAutoPaySkip(err error) bool {
	return errors.Is(err, wallet.ErrInsufficientBalance) ||
		errors.Is(err, billing.ErrCurrencyMismatch) ||
		errors.Is(err, wallet.ErrCurrencyMismatch) ||
		errors.Is(err, billing.ErrNoOutstandingInvoice) ||
		errors.Is(err, billing.ErrNotEligible)
}

func autoPayResult(err error) string {
	if errors.Is(err, wallet.ErrInsufficientBalance) {
		return "insufficient"
	}
	return "skipped"
}
