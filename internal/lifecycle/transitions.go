package lifecycle

import (
	"slices"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// Transition описывает допустимую смену статуса.
type Transition struct {
	From model.SubscriptionStatus
	To   model.SubscriptionStatus
}

var validTransitions = map[Transition]bool{
	{model.SubscriptionPending, model.SubscriptionActive}:    true, // оплата счёта или ручная активация
	{model.SubscriptionPending, model.SubscriptionCancelled}: true, // отказ от неоплаченного оформления
	{model.SubscriptionActive, model.SubscriptionFrozen}:     true,
	{model.SubscriptionFrozen, model.SubscriptionActive}:     true,
	{model.SubscriptionActive, model.SubscriptionCancelled}:  true,
	{model.SubscriptionFrozen, model.SubscriptionCancelled}:  true,
	{model.SubscriptionActive, model.SubscriptionExpired}:    true,
}

// CanTransition проверяет, разрешён ли переход между статусами.
func CanTransition(from, to model.SubscriptionStatus) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom возвращает все статусы, в которые можно перейти из from.
func ValidTransitionsFrom(from model.SubscriptionStatus) []model.SubscriptionStatus {
	targets := make([]model.SubscriptionStatus, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}
