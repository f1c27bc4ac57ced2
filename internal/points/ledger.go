// Package points ведёт журналы бонусных баллов программ лояльности и рекомендаций.
package points

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
)

var (
	// ErrInsufficientPoints возвращается при списании большего количества баллов, чем есть на счёте.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrInvalidPoints возвращается при неположительном количестве баллов.
	ErrInvalidPoints = errors.New("invalid points amount")
)

// Earn начисляет баллы.
func Earn(a model.PointsAccount, pts int64, reference string, now time.Time) (model.PointsAccount, model.PointsTransaction, error) {
	if pts <= 0 {
		return a, model.PointsTransaction{}, fmt.Errorf("%w: earn %d", ErrInvalidPoints, pts)
	}
	return post(a, model.PointsEarn, pts, reference, now)
}

// Redeem списывает баллы.
func Redeem(a model.PointsAccount, pts int64, reference string, now time.Time) (model.PointsAccount, model.PointsTransaction, error) {
	if pts <= 0 {
		return a, model.PointsTransaction{}, fmt.Errorf("%w: redeem %d", ErrInvalidPoints, pts)
	}
	if a.Balance < pts {
		return a, model.PointsTransaction{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientPoints, a.Balance, pts)
	}
	return post(a, model.PointsRedeem, -pts, reference, now)
}

// Adjust корректирует баланс на delta. Баланс не может стать отрицательным.
func Adjust(a model.PointsAccount, delta int64, reference string, now time.Time) (model.PointsAccount, model.PointsTransaction, error) {
	if delta == 0 {
		return a, model.PointsTransaction{}, fmt.Errorf("%w: adjust by zero", ErrInvalidPoints)
	}
	if a.Balance+delta < 0 {
		return a, model.PointsTransaction{}, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientPoints, a.Balance, delta)
	}
	return post(a, model.PointsAdjust, delta, reference, now)
}

// ForAmount возвращает количество баллов за оплаченную сумму с округлением вниз.
func ForAmount(amount, perUnit decimal.Decimal) int64 {
	if !amount.IsPositive() || !perUnit.IsPositive() {
		return 0
	}
	return amount.Mul(perUnit).Floor().IntPart()
}

func post(a model.PointsAccount, kind model.PointsTransactionKind, signed int64, reference string, now time.Time) (model.PointsAccount, model.PointsTransaction, error) {
	a.Balance += signed
	a.LastSequence++
	return a, model.PointsTransaction{
		ID:           uuid.New(),
		MemberID:     a.MemberID,
		Program:      a.Program,
		Sequence:     a.LastSequence,
		Kind:         kind,
		Points:       signed,
		BalanceAfter: a.Balance,
		Reference:    reference,
		CreatedAt:    now.UTC(),
	}, nil
}
