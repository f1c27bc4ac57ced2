// Package lifecycle реализует конечный автомат статусов абонемента.
//
// Функции пакета чистые: они не обращаются к хранилищу, а возвращают новое
// состояние и список последующих действий, которые выполняет вызывающий код.
package lifecycle

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mmeshcher/gym-billing/internal/freeze"
	"github.com/mmeshcher/gym-billing/internal/model"
)

var (
	// ErrInvalidTransition возвращается, если событие недопустимо в текущем статусе.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvoiceNotPaid возвращается при активации по неоплаченному или чужому счёту.
	ErrInvoiceNotPaid = errors.New("invoice is not paid")
	// ErrNotExpired возвращается, если срок абонемента ещё не истёк или зафиксировано продление.
	ErrNotExpired = errors.New("subscription is not due for expiry")
	// ErrNoClassesRemaining возвращается, если лимит занятий исчерпан.
	ErrNoClassesRemaining = errors.New("no classes remaining")
	// ErrInvalidEndDate возвращается при продлении на дату не позже текущей даты окончания.
	ErrInvalidEndDate = errors.New("new end date must be after current end date")
)

// TransitionError описывает отклонённое событие.
type TransitionError struct {
	From  model.SubscriptionStatus
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s subscription in status %s", e.Event, e.From)
}

// Is позволяет сравнивать ошибку с ErrInvalidTransition через errors.Is.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Event событие, запрашивающее изменение абонемента.
type Event interface {
	Name() string
}

// Activate переводит ожидающий оплаты абонемент в активный.
// Если Invoice задан, он должен быть оплачен и относиться к абонементу.
type Activate struct {
	Invoice *model.Invoice
	Manual  bool
}

// Freeze замораживает абонемент на Days дней, резервируя их в Balance.
type Freeze struct {
	Days    int
	Balance model.FreezeBalance
	Reason  string
}

// Unfreeze снимает заморозку; неиспользованные дни возвращаются в Balance.
type Unfreeze struct {
	Balance model.FreezeBalance
}

// Cancel отменяет абонемент.
type Cancel struct {
	Reason   string
	ByMember bool
}

// Expire завершает абонемент по истечении срока.
type Expire struct {
	RenewalRecorded bool
}

// Renew переносит дату окончания активного абонемента.
type Renew struct {
	NewEndDate time.Time
}

func (Activate) Name() string { return "activate" }
func (Freeze) Name() string   { return "freeze" }
func (Unfreeze) Name() string { return "unfreeze" }
func (Cancel) Name() string   { return "cancel" }
func (Expire) Name() string   { return "expire" }
func (Renew) Name() string    { return "renew" }

// Result результат применения события.
type Result struct {
	Subscription model.Subscription
	// FreezeBalance задан, если событие изменило баланс заморозки.
	FreezeBalance *model.FreezeBalance
	Effects       []model.Effect
}

// Apply применяет событие к абонементу. Исходное значение не изменяется.
func Apply(sub model.Subscription, ev Event, now time.Time) (Result, error) {
	if sub.Status.IsTerminal() {
		return Result{Subscription: sub}, &TransitionError{From: sub.Status, Event: ev.Name()}
	}

	switch e := ev.(type) {
	case Activate:
		return activate(sub, e, now)
	case Freeze:
		return freezeSub(sub, e, now)
	case Unfreeze:
		return unfreeze(sub, e, now)
	case Cancel:
		return cancel(sub, e, now)
	case Expire:
		return expire(sub, e, now)
	case Renew:
		return renew(sub, e, now)
	default:
		return Result{Subscription: sub}, fmt.Errorf("unknown event %T", ev)
	}
}

func activate(sub model.Subscription, e Activate, now time.Time) (Result, error) {
	if !CanTransition(sub.Status, model.SubscriptionActive) || sub.Status != model.SubscriptionPending {
		return Result{Subscription: sub}, &TransitionError{From: sub.Status, Event: e.Name()}
	}
	if e.Invoice != nil {
		if e.Invoice.Status != model.InvoicePaid || e.Invoice.SubscriptionID == nil || *e.Invoice.SubscriptionID != sub.ID {
			return Result{Subscription: sub}, ErrInvoiceNotPaid
		}
	} else if !e.Manual {
		return Result{Subscription: sub}, ErrInvoiceNotPaid
	}

	next := moveTo(sub, model.SubscriptionActive, now)
	return Result{
		Subscription: next,
		Effects: []model.Effect{
			statusChanged(sub, next, now),
			model.Notify(sub.MemberID, model.TemplateSubscriptionActivated, map[string]string{
				"endDate": next.EndDate.Format(time.DateOnly),
			}),
		},
	}, nil
}

func freezeSub(sub model.Subscription, e Freeze, now time.Time) (Result, error) {
	if !CanTransition(sub.Status, model.SubscriptionFrozen) {
		return Result{Subscription: sub}, &TransitionError{From: sub.Status, Event: e.Name()}
	}
	balance, extending, err := freeze.Reserve(e.Balance, e.Days)
	if err != nil {
		return Result{Subscription: sub}, err
	}

	next := moveTo(sub, model.SubscriptionFrozen, now)
	start := model.Day(now)
	end := start.AddDate(0, 0, e.Days)
	next.FrozenAt = &start
	next.FreezeEndDate = &end
	next.FreezeDays = e.Days
	next.FreezeExtendedDays = extending
	next.FreezeReason = e.Reason
	next.EndDate = sub.EndDate.AddDate(0, 0, extending)

	return Result{
		Subscription:  next,
		FreezeBalance: &balance,
		Effects: []model.Effect{
			statusChanged(sub, next, now),
			model.Notify(sub.MemberID, model.TemplateSubscriptionFrozen, map[string]string{
				"days":          strconv.Itoa(e.Days),
				"until":         end.Format(time.DateOnly),
				"daysRemaining": strconv.Itoa(balance.Remaining()),
			}),
		},
	}, nil
}

func unfreeze(sub model.Subscription, e Unfreeze, now time.Time) (Result, error) {
	if sub.Status != model.SubscriptionFrozen || !CanTransition(sub.Status, model.SubscriptionActive) {
		return Result{Subscription: sub}, &TransitionError{From: sub.Status, Event: e.Name()}
	}

	elapsed := sub.FreezeDays
	if sub.FrozenAt != nil {
		elapsed = model.DaysBetween(*sub.FrozenAt, now)
	}
	elapsed = max(0, min(elapsed, sub.FreezeDays))
	unused := sub.FreezeDays - elapsed
	// Продлевающие дни идут первыми, поэтому прошедшие дни расходуют их в первую очередь.
	unusedExtending := max(0, sub.FreezeExtendedDays-elapsed)

	next := moveTo(sub, model.SubscriptionActive, now)
	next.FrozenAt = nil
	next.FreezeEndDate = nil
	next.FreezeDays = 0
	next.FreezeReason = ""
	next.FreezeExtendedDays = 0

	res := Result{Subscription: next}
	if unused > 0 {
		balance, err := freeze.Release(e.Balance, unused, unusedExtending)
		if err != nil {
			return Result{Subscription: sub}, err
		}
		res.FreezeBalance = &balance
		res.Subscription.EndDate = sub.EndDate.AddDate(0, 0, -unusedExtending)
	}

	res.Effects = []model.Effect{
		statusChanged(sub, res.Subscription, now),
		model.Notify(sub.MemberID, model.TemplateSubscriptionUnfrozen, map[string]string{
			"endDate":      res.Subscription.EndDate.Format(time.DateOnly),
			"daysReturned": strconv.Itoa(unused),
		}),
	}
	return res, nil
}

func cancel(sub model.Subscription, e Cancel, now time.Time) (Result, error) {
	if !CanTransition(sub.Status, model.SubscriptionCancelled) {
		return Result{Subscription: sub}, &TransitionError{From: sub.Status, Event: e.Name()}
	}

	next := moveTo(sub, model.SubscriptionCancelled, now)
	at := now.UTC()
	next.CancelledAt = &at
	next.CancelReason = e.Reason

	return Result{
		Subscription: next,
		Effects: []model.Effect{
			statusChanged(sub, next, now),
			model.Notify(sub.MemberID, model.TemplateSubscriptionCancelled, nil),
		},
	}, nil
}

func expire(sub model.Subscription, e Expire, now time.Time) (Result, error) {
	if !CanTransition(sub.Status, model.SubscriptionExpired) {
		return Result{Subscription: sub}, &TransitionError{From: sub.Status, Event: e.Name()}
	}
	if e.RenewalRecorded || !model.Day(now).After(model.Day(sub.EndDate)) {
		return Result{Subscription: sub}, ErrNotExpired
	}

	next := moveTo(sub, model.SubscriptionExpired, now)
	return Result{
		Subscription: next,
		Effects: []model.Effect{
			statusChanged(sub, next, now),
			model.Notify(sub.MemberID, model.TemplateSubscriptionExpired, nil),
		},
	}, nil
}

func renew(sub model.Subscription, e Renew, now time.Time) (Result, error) {
	if sub.Status != model.SubscriptionActive {
		return Result{Subscription: sub}, &TransitionError{From: sub.Status, Event: e.Name()}
	}
	end := model.Day(e.NewEndDate)
	if !end.After(sub.EndDate) {
		return Result{Subscription: sub}, ErrInvalidEndDate
	}

	next := sub
	next.EndDate = end
	next.UpdatedAt = now.UTC()
	return Result{
		Subscription: next,
		Effects: []model.Effect{
			model.Notify(sub.MemberID, model.TemplateSubscriptionRenewed, map[string]string{
				"endDate": end.Format(time.DateOnly),
			}),
		},
	}, nil
}

// UseClass списывает одно занятие с активного абонемента.
func UseClass(sub model.Subscription, now time.Time) (model.Subscription, error) {
	if sub.Status != model.SubscriptionActive {
		return sub, &TransitionError{From: sub.Status, Event: "use class of"}
	}
	if sub.ClassesRemaining == nil {
		return sub, nil
	}
	if *sub.ClassesRemaining <= 0 {
		return sub, ErrNoClassesRemaining
	}
	left := *sub.ClassesRemaining - 1
	sub.ClassesRemaining = &left
	sub.UpdatedAt = now.UTC()
	return sub, nil
}

func moveTo(sub model.Subscription, to model.SubscriptionStatus, now time.Time) model.Subscription {
	sub.Status = to
	sub.UpdatedAt = now.UTC()
	return sub
}

func statusChanged(from, to model.Subscription, now time.Time) model.SubscriptionStatusChanged {
	return model.SubscriptionStatusChanged{
		SubscriptionID: from.ID,
		MemberID:       from.MemberID,
		From:           from.Status,
		To:             to.Status,
		At:             now.UTC(),
	}
}
