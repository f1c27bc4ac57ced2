package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/points"
	"github.com/mmeshcher/gym-billing/internal/repository"
)

// PointsView счёт баллов с историей операций.
type PointsView struct {
	Account      model.PointsAccount
	Transactions []model.PointsTransaction
}

// EarnPoints начисляет баллы.
func (s *Service) EarnPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram, pts int64, reference string) (model.PointsAccount, error) {
	return s.postPoints(ctx, "points_earn", memberID, program, func(a model.PointsAccount) (model.PointsAccount, model.PointsTransaction, error) {
		return points.Earn(a, pts, reference, s.now())
	})
}

// RedeemPoints списывает баллы.
func (s *Service) RedeemPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram, pts int64, reference string) (model.PointsAccount, error) {
	return s.postPoints(ctx, "points_redeem", memberID, program, func(a model.PointsAccount) (model.PointsAccount, model.PointsTransaction, error) {
		return points.Redeem(a, pts, reference, s.now())
	})
}

// AdjustPoints корректирует баланс баллов на delta.
func (s *Service) AdjustPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram, delta int64, reference string) (model.PointsAccount, error) {
	return s.postPoints(ctx, "points_adjust", memberID, program, func(a model.PointsAccount) (model.PointsAccount, model.PointsTransaction, error) {
		return points.Adjust(a, delta, reference, s.now())
	})
}

func (s *Service) postPoints(ctx context.Context, op string, memberID uuid.UUID, program model.PointsProgram,
	apply func(model.PointsAccount) (model.PointsAccount, model.PointsTransaction, error),
) (model.PointsAccount, error) {
	var out model.PointsAccount
	err := s.mutate(ctx, op, func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		if _, err := tx.GetMember(ctx, memberID); err != nil {
			return nil, err
		}
		acc, err := tx.LockPointsAccount(ctx, memberID, program)
		if err != nil {
			return nil, err
		}
		next, entry, err := apply(acc)
		if err != nil {
			return nil, err
		}
		out, err = tx.SavePointsAccount(ctx, next, entry)
		return nil, err
	})
	return out, err
}

// GetPoints возвращает счёт баллов участника в программе с историей.
func (s *Service) GetPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) (PointsView, error) {
	acc, err := s.repo.GetPointsAccount(ctx, memberID, program)
	if err != nil {
		return PointsView{}, err
	}
	txs, err := s.repo.ListPointsTransactions(ctx, memberID, program)
	if err != nil {
		return PointsView{}, err
	}
	return PointsView{Account: acc, Transactions: txs}, nil
}

// RecordReferral связывает приглашённого участника с пригласившим.
// Баллы пригласившему начисляются при первой активации абонемента приглашённого.
func (s *Service) RecordReferral(ctx context.Context, referrerID, refereeID uuid.UUID) (model.Referral, error) {
	if referrerID == refereeID {
		return model.Referral{}, ErrSelfReferral
	}
	ref := model.Referral{ID: uuid.New(), ReferrerID: referrerID, RefereeID: refereeID}
	err := s.mutate(ctx, "record_referral", func(ctx context.Context, tx repository.Tx) ([]model.Effect, error) {
		if _, err := tx.GetMember(ctx, referrerID); err != nil {
			return nil, err
		}
		if _, err := tx.GetMember(ctx, refereeID); err != nil {
			return nil, err
		}
		ref.CreatedAt = s.now()
		return nil, tx.CreateReferral(ctx, ref)
	})
	if err != nil {
		return model.Referral{}, err
	}
	return ref, nil
}
