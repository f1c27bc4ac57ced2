// Package freeze учитывает дни заморозки абонемента.
package freeze

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/gym-billing/internal/model"
)

var (
	// ErrInsufficientFreezeDays возвращается, если остатка дней заморозки не хватает.
	ErrInsufficientFreezeDays = errors.New("insufficient freeze days")
	// ErrInvalidDays возвращается при неположительном количестве дней.
	ErrInvalidDays = errors.New("freeze days must be positive")
	// ErrReleaseExceedsUsed возвращается при попытке вернуть больше дней, чем было зарезервировано.
	ErrReleaseExceedsUsed = errors.New("release exceeds used freeze days")
)

// Reserve резервирует дни заморозки. Исходный баланс не изменяется.
// Сначала расходуются дни, продлевающие договор; их число возвращается вторым значением.
func Reserve(b model.FreezeBalance, days int) (model.FreezeBalance, int, error) {
	if days <= 0 {
		return b, 0, ErrInvalidDays
	}
	if b.Remaining() < days {
		return b, 0, fmt.Errorf("%w: requested %d, remaining %d", ErrInsufficientFreezeDays, days, b.Remaining())
	}
	extending := min(days, max(b.ExtendingRemaining(), 0))
	b.UsedFreezeDays += days
	b.UsedExtendingDays += extending
	return b, extending, nil
}

// Release возвращает неиспользованные дни прерванной заморозки.
// extending из них возвращаются в пул дней, продлевающих договор.
func Release(b model.FreezeBalance, days, extending int) (model.FreezeBalance, error) {
	if days < 0 || extending < 0 || extending > days {
		return b, ErrInvalidDays
	}
	if days > b.UsedFreezeDays || extending > b.UsedExtendingDays {
		return b, fmt.Errorf("%w: release %d (%d extending), used %d (%d extending)",
			ErrReleaseExceedsUsed, days, extending, b.UsedFreezeDays, b.UsedExtendingDays)
	}
	b.UsedFreezeDays -= days
	b.UsedExtendingDays -= extending
	return b, nil
}

// Grant добавляет дни заморозки (покупка пакета или начисление администратором).
func Grant(b model.FreezeBalance, days int, extendsContract bool) (model.FreezeBalance, error) {
	if days <= 0 {
		return b, ErrInvalidDays
	}
	b.TotalFreezeDays += days
	if extendsContract {
		b.ExtendingFreezeDays += days
	}
	return b, nil
}
