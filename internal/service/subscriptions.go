package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/billing"
	"github.com/mmeshcher/gym-billing/internal/freeze"
	"github.com/mmeshcher/gym-billing/internal/lifecycle"
	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/repository"
	"github.com/mmeshcher/gym-billing/internal/wallet"
)

// Enrollment результат оформления абонемента.
type Enrollment struct {
	Subscription model.Subscription
	// Invoice пуст для бесплатных планов.
	Invoice model.Invoice
}

// SubscriptionView абонемент вместе с балансом заморозки.
type SubscriptionView struct {
	Subscription  model.Subscription
	FreezeBalance model.FreezeBalance
}

// Enroll оформляет абонемент: создаёт его в статусе PENDING, выставляет счёт
// и пытается сразу оплатить его с кошелька участника.
func (s *Service) Enroll(ctx context.Context, req model.EnrollmentRequest) (Enrollment, error) {
	var out Enrollment
	err := s.mutate(ctx, "enroll", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		out = Enrollment{}
		now := s.now()

		if _, err := tx.GetMember(ctx, req.MemberID); err != nil {
			return nil, err
		}
		plan, err := tx.GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, err
		}
		if !plan.Active {
			return nil, ErrPlanInactive
		}
		previous, err := tx.CountSubscriptions(ctx, req.MemberID)
		if err != nil {
			return nil, err
		}

		start := model.Day(req.StartDate)
		if req.StartDate.IsZero() {
			start = model.Day(now)
		}
		end := start.AddDate(0, 0, plan.DurationDays)
		if !end.After(model.Day(now)) {
			return nil, fmt.Errorf("%w: start %s, end %s", ErrPeriodElapsed,
				start.Format(time.DateOnly), end.Format(time.DateOnly))
		}
		sub := model.Subscription{
			ID:        uuid.New(),
			MemberID:  req.MemberID,
			PlanID:    plan.ID,
			Status:    model.SubscriptionPending,
			StartDate: start,
			EndDate:   end,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if plan.MaxClasses != nil {
			classes := *plan.MaxClasses
			sub.ClassesRemaining = &classes
		}
		if sub, err = tx.CreateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		balance := model.FreezeBalance{SubscriptionID: sub.ID, TotalFreezeDays: plan.FreezeDaysAllowed}
		if plan.FreezeExtendsContract {
			balance.ExtendingFreezeDays = plan.FreezeDaysAllowed
		}
		if _, err := tx.CreateFreezeBalance(ctx, balance); err != nil {
			return nil, err
		}

		draft, err := billing.DraftFromSubscription(sub, plan, billing.IssueOptions{
			FirstSubscription: previous == 0,
			DefaultVATRate:    s.opts.VATRate,
		}, now)
		if err != nil && !errors.Is(err, billing.ErrNoLineItems) {
			return nil, err
		}
		if err != nil || !draft.Total.IsPositive() {
			// Если платить нечего, абонемент активируется без счёта.
			sub, effects, err := s.applyEvent(ctx, tx, sub, lifecycle.Activate{Manual: true}, now)
			if err != nil {
				return nil, err
			}
			more, err := s.rewardReferral(ctx, tx, sub.MemberID, now)
			if err != nil {
				return nil, err
			}
			out.Subscription = sub
			return append(effects, more...), nil
		}

		number, err := tx.NextInvoiceNumber(ctx, now.Year())
		if err != nil {
			return nil, err
		}
		inv, effects, err := billing.Issue(draft, number, s.opts.InvoiceDueDays, now)
		if err != nil {
			return nil, err
		}
		if inv, err = tx.CreateInvoice(ctx, inv); err != nil {
			return nil, err
		}

		w, err := tx.LockWallet(ctx, sub.MemberID, inv.Currency)
		if err != nil {
			return nil, err
		}
		outcome, err := billing.AttemptAutoPay(w, sub, inv, now)
		switch {
		case err == nil:
			_, more, err := s.persistAutoPay(ctx, tx, outcome, now)
			if err != nil {
				return nil, err
			}
			out.Subscription, out.Invoice = outcome.Subscription, outcome.Invoice
			effects = append(effects, outcome.Effects...)
			return append(effects, more...), nil
		case isAutoPaySkip(err):
			s.metrics.AutoPay(autoPayResult(err))
			out.Subscription, out.Invoice = sub, inv
			return effects, nil
		default:
			return nil, err
		}
	})
	if err != nil {
		return Enrollment{}, err
	}
	s.logger.Info("subscription enrolled",
		zap.Stringer("subscription", out.Subscription.ID),
		zap.String("status", string(out.Subscription.Status)),
		zap.String("invoice", out.Invoice.Number),
	)
	return out, nil
}

// GetSubscription возвращает абонемент с балансом заморозки.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (SubscriptionView, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return SubscriptionView{}, err
	}
	balance, err := s.repo.GetFreezeBalance(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrFreezeBalanceNotFound) {
		return SubscriptionView{}, err
	}
	return SubscriptionView{Subscription: sub, FreezeBalance: balance}, nil
}

// ListSubscriptions возвращает абонементы участника, новые первыми.
func (s *Service) ListSubscriptions(ctx context.Context, memberID uuid.UUID) ([]model.Subscription, error) {
	return s.repo.ListSubscriptionsByMember(ctx, memberID)
}

// Freeze замораживает активный абонемент.
func (s *Service) Freeze(ctx context.Context, req model.FreezeRequest) (SubscriptionView, error) {
	return s.transition(ctx, "freeze", req.SubscriptionID, func(_ model.Subscription, b model.FreezeBalance) lifecycle.Event {
		return lifecycle.Freeze{Days: req.Days, Balance: b, Reason: req.Reason}
	})
}

// Unfreeze досрочно снимает заморозку.
func (s *Service) Unfreeze(ctx context.Context, id uuid.UUID) (SubscriptionView, error) {
	return s.transition(ctx, "unfreeze", id, func(_ model.Subscription, b model.FreezeBalance) lifecycle.Event {
		return lifecycle.Unfreeze{Balance: b}
	})
}

// Renew переносит дату окончания активного абонемента.
func (s *Service) Renew(ctx context.Context, id uuid.UUID, endDate time.Time) (SubscriptionView, error) {
	return s.transition(ctx, "renew", id, func(model.Subscription, model.FreezeBalance) lifecycle.Event {
		return lifecycle.Renew{NewEndDate: endDate}
	})
}

// Activate вручную активирует ожидающий абонемент (оплата принята вне системы).
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (SubscriptionView, error) {
	var out SubscriptionView
	err := s.mutate(ctx, "activate", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		now := s.now()
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		sub, effects, err := s.applyEvent(ctx, tx, sub, lifecycle.Activate{Manual: true}, now)
		if err != nil {
			return nil, err
		}
		more, err := s.rewardReferral(ctx, tx, sub.MemberID, now)
		if err != nil {
			return nil, err
		}
		out = SubscriptionView{Subscription: sub}
		return append(effects, more...), nil
	})
	if err != nil {
		return SubscriptionView{}, err
	}
	return s.withBalance(ctx, out)
}

// Cancel отменяет абонемент. Для ожидающего абонемента отменяется и неоплаченный счёт.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, byMember bool) (SubscriptionView, error) {
	var out SubscriptionView
	err := s.mutate(ctx, "cancel", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		now := s.now()
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		wasPending := sub.Status == model.SubscriptionPending

		sub, effects, err := s.applyEvent(ctx, tx, sub, lifecycle.Cancel{Reason: reason, ByMember: byMember}, now)
		if err != nil {
			return nil, err
		}
		if wasPending {
			if err := s.cancelOpenInvoice(ctx, tx, sub.ID, now); err != nil {
				return nil, err
			}
		}
		out = SubscriptionView{Subscription: sub}
		return effects, nil
	})
	if err != nil {
		return SubscriptionView{}, err
	}
	return s.withBalance(ctx, out)
}

func (s *Service) cancelOpenInvoice(ctx context.Context, tx repository.Tx, subscriptionID uuid.UUID, now time.Time) error {
	inv, err := tx.LockOpenInvoice(ctx, subscriptionID)
	if errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	cancelled, err := billing.Cancel(inv, now)
	if err != nil {
		return err
	}
	_, err = tx.UpdateInvoice(ctx, cancelled)
	return err
}

// UseClass списывает одно занятие с абонемента.
func (s *Service) UseClass(ctx context.Context, id uuid.UUID) (model.Subscription, error) {
	var out model.Subscription
	err := s.mutate(ctx, "use_class", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := lifecycle.UseClass(sub, s.now())
		if err != nil {
			return nil, err
		}
		if out, err = tx.UpdateSubscription(ctx, next); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return out, err
}

// GrantFreezeDays добавляет дни заморозки к абонементу.
func (s *Service) GrantFreezeDays(ctx context.Context, id uuid.UUID, days int) (model.FreezeBalance, error) {
	var out model.FreezeBalance
	err := s.mutate(ctx, "grant_freeze_days", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.Status.IsTerminal() {
			return nil, &lifecycle.TransitionError{From: sub.Status, Event: "grant freeze days to"}
		}
		balance, err := tx.LockFreezeBalance(ctx, id)
		if err != nil {
			return nil, err
		}
		if balance, err = freeze.Grant(balance, days, false); err != nil {
			return nil, err
		}
		out, err = tx.UpdateFreezeBalance(ctx, balance)
		return nil, err
	})
	return out, err
}

// PurchaseFreezePackage списывает стоимость пакета с кошелька и добавляет его дни к абонементу.
func (s *Service) PurchaseFreezePackage(ctx context.Context, subscriptionID, packageID uuid.UUID) (model.FreezeBalance, error) {
	var out model.FreezeBalance
	err := s.mutate(ctx, "purchase_freeze_package", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		now := s.now()
		sub, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.Status.IsTerminal() {
			return nil, &lifecycle.TransitionError{From: sub.Status, Event: "purchase freeze package for"}
		}
		pkg, err := tx.GetFreezePackage(ctx, packageID)
		if err != nil {
			return nil, err
		}
		if !pkg.Active {
			return nil, ErrPackageInactive
		}
		balance, err := tx.LockFreezeBalance(ctx, sub.ID)
		if err != nil {
			return nil, err
		}

		if pkg.Price.IsPositive() {
			w, err := tx.LockWallet(ctx, sub.MemberID, pkg.Currency)
			if err != nil {
				return nil, err
			}
			next, entry, err := wallet.Apply(w, wallet.Entry{
				Kind:        model.WalletDebit,
				Amount:      pkg.Price,
				Currency:    pkg.Currency,
				Reference:   "freeze-package:" + pkg.ID.String(),
				Description: "Freeze package " + pkg.Name,
			}, now)
			if err != nil {
				return nil, err
			}
			if _, err := tx.SaveWallet(ctx, next, entry); err != nil {
				return nil, err
			}
		}

		if balance, err = freeze.Grant(balance, pkg.Days, pkg.ExtendsContract); err != nil {
			return nil, err
		}
		out, err = tx.UpdateFreezeBalance(ctx, balance)
		return nil, err
	})
	return out, err
}

// transition блокирует абонемент и его баланс заморозки и применяет событие.
func (s *Service) transition(ctx context.Context, op string, id uuid.UUID, event func(model.Subscription, model.FreezeBalance) lifecycle.Event) (SubscriptionView, error) {
	var out SubscriptionView
	err := s.mutate(ctx, op, func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		balance, err := tx.LockFreezeBalance(ctx, id)
		if err != nil {
			return nil, err
		}

		res, err := lifecycle.Apply(sub, event(sub, balance), s.now())
		if err != nil {
			return nil, err
		}
		if sub, err = tx.UpdateSubscription(ctx, res.Subscription); err != nil {
			return nil, err
		}
		if res.FreezeBalance != nil {
			if balance, err = tx.UpdateFreezeBalance(ctx, *res.FreezeBalance); err != nil {
				return nil, err
			}
		}
		out = SubscriptionView{Subscription: sub, FreezeBalance: balance}
		return res.Effects, nil
	})
	if err != nil {
		return SubscriptionView{}, fmt.Errorf("%s subscription %s: %w", op, id, err)
	}
	return out, nil
}

// applyEvent применяет событие, не затрагивающее баланс заморозки, и сохраняет абонемент.
func (s *Service) applyEvent(ctx context.Context, tx repository.Tx, sub model.Subscription, ev lifecycle.Event, now time.Time) (model.Subscription, []model.Effect, error) {
	res, err := lifecycle.Apply(sub, ev, now)
	if err != nil {
		return sub, nil, err
	}
	updated, err := tx.UpdateSubscription(ctx, res.Subscription)
	if err != nil {
		return sub, nil, err
	}
	return updated, res.Effects, nil
}

func (s *Service) withBalance(ctx context.Context, v SubscriptionView) (SubscriptionView, error) {
	balance, err := s.repo.GetFreezeBalance(ctx, v.Subscription.ID)
	if err != nil && !errors.Is(err, repository.ErrFreezeBalanceNotFound) {
		return v, err
	}
	v.FreezeBalance = balance
	return v, nil
}
