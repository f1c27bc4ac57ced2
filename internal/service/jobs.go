package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/billing"
	"github.com/mmeshcher/gym-billing/internal/lifecycle"
	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/repository"
)

// ExpireDue переводит в EXPIRED активные абонементы с прошедшей датой окончания.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	ids, err := s.repo.SubscriptionsDueForExpiry(ctx, model.Day(s.now()), s.opts.JobBatchSize)
	if err != nil {
		return 0, err
	}
	return s.runJob(ctx, "expire", ids, func(ctx context.Context, id uuid.UUID) error {
		return s.mutate(ctx, "expire", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
			sub, err := tx.LockSubscription(ctx, id)
			if err != nil {
				return nil, err
			}
			_, effects, err := s.applyEvent(ctx, tx, sub, lifecycle.Expire{}, s.now())
			return effects, err
		})
	})
}

// UnfreezeElapsed снимает заморозки, срок которых истёк.
func (s *Service) UnfreezeElapsed(ctx context.Context) (int, error) {
	ids, err := s.repo.FreezesElapsed(ctx, model.Day(s.now()), s.opts.JobBatchSize)
	if err != nil {
		return 0, err
	}
	return s.runJob(ctx, "unfreeze", ids, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.Unfreeze(ctx, id)
		return err
	})
}

// MarkOverdueInvoices переводит в OVERDUE счета с прошедшим сроком оплаты.
func (s *Service) MarkOverdueInvoices(ctx context.Context) (int, error) {
	ids, err := s.repo.InvoicesPastDue(ctx, model.Day(s.now()), s.opts.JobBatchSize)
	if err != nil {
		return 0, err
	}
	return s.runJob(ctx, "overdue", ids, func(ctx context.Context, id uuid.UUID) error {
		return s.mutate(ctx, "mark_overdue", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
			inv, err := tx.LockInvoice(ctx, id)
			if err != nil {
				return nil, err
			}
			overdue, effects, err := billing.MarkOverdue(inv, s.now())
			if err != nil {
				return nil, err
			}
			if _, err := tx.UpdateInvoice(ctx, overdue); err != nil {
				return nil, err
			}
			return effects, nil
		})
	})
}

// runJob обрабатывает элементы по одному: ошибка на одном элементе не прерывает остальные.
func (s *Service) runJob(ctx context.Context, job string, ids []uuid.UUID, fn func(ctx context.Context, id uuid.UUID) error) (int, error) {
	var (
		processed int
		errs      []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := fn(ctx, id)
		switch {
		case err == nil:
			processed++
			s.metrics.JobItem(job, "ok")
		case isStale(err):
			// Элемент уже изменён другой операцией после выборки.
			s.metrics.JobItem(job, "skipped")
		default:
			s.metrics.JobItem(job, "failed")
			s.logger.Warn("job item failed", zap.String("job", job), zap.Stringer("id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return processed, errors.Join(errs...)
}

func isStale(err error) bool {
	return errors.Is(err, lifecycle.ErrInvalidTransition) ||
		errors.Is(err, lifecycle.ErrNotExpired) ||
		errors.Is(err, billing.ErrNotOverdue)
}
