package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitDigits количество знаков дробной части валюты (халалы, центы).
const MinorUnitDigits = 2

// MaxAmount наибольшая по модулю сумма, допустимая в учёте. В минимальных
// единицах она с запасом помещается в int64.
var MaxAmount = decimal.New(1, 12)

// ErrAmountOutOfRange возвращается для суммы, превышающей MaxAmount по модулю.
var ErrAmountOutOfRange = errors.New("amount out of range")

// RoundMoney округляет сумму до минимальной денежной единицы половиной вверх.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitDigits)
}

// CheckAmount проверяет, что сумма не превышает MaxAmount по модулю.
func CheckAmount(d decimal.Decimal) error {
	if d.Abs().GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrAmountOutOfRange, d, MaxAmount)
	}
	return nil
}

// ToMinor переводит сумму в целое число минимальных единиц.
func ToMinor(d decimal.Decimal) (int64, error) {
	if err := CheckAmount(d); err != nil {
		return 0, err
	}
	return RoundMoney(d).Shift(MinorUnitDigits).IntPart(), nil
}

// FromMinor переводит целое число минимальных единиц в сумму.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -MinorUnitDigits)
}
