// Package billing выставляет счета по абонементам, принимает оплату и
// выполняет автосписание с кошелька. Функции пакета не обращаются к хранилищу.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
)

var (
	// ErrAlreadyPaid возвращается при повторной оплате счёта. Вызывающий код считает это успехом.
	ErrAlreadyPaid = errors.New("invoice already paid")
	// ErrUnderpaid возвращается, если сумма платежа меньше суммы счёта.
	ErrUnderpaid = errors.New("payment amount is less than invoice total")
	// ErrNotPayable возвращается при оплате черновика или отменённого счёта.
	ErrNotPayable = errors.New("invoice is not payable")
	// ErrNotCancellable возвращается при отмене оплаченного или уже отменённого счёта.
	ErrNotCancellable = errors.New("invoice cannot be cancelled")
	// ErrNotOverdue возвращается, если срок оплаты счёта ещё не прошёл.
	ErrNotOverdue = errors.New("invoice is not overdue")
	// ErrNotDraft возвращается при выставлении счёта не из черновика.
	ErrNotDraft = errors.New("invoice is not a draft")
	// ErrNoLineItems возвращается при создании счёта без строк.
	ErrNoLineItems = errors.New("invoice has no line items")
	// ErrCurrencyMismatch возвращается при платеже в чужой валюте.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// IssueOptions параметры выставления счёта по абонементу.
type IssueOptions struct {
	Number string
	// AsOf дата, с которой считается оставшийся период. Нулевое значение означает now.
	AsOf time.Time
	// FirstSubscription включает вступительный взнос.
	FirstSubscription bool
	DueDays           int
	// DefaultVATRate применяется, если ставка НДС плана не задана.
	DefaultVATRate decimal.Decimal
}

// NewLine рассчитывает строку счёта: сумма без налога, налог и итог округляются до копеек.
func NewLine(description string, quantity int, unitPrice, taxRate decimal.Decimal) model.LineItem {
	net := model.RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
	tax := model.RoundMoney(net.Mul(taxRate))
	return model.LineItem{
		Description: description,
		Quantity:    quantity,
		UnitPrice:   model.RoundMoney(unitPrice),
		TaxRate:     taxRate,
		NetAmount:   net,
		TaxAmount:   tax,
		Total:       net.Add(tax),
	}
}

// Prorate возвращает price × remainingDays / periodDays, округлённое до копеек половиной вверх.
// Если оставшийся период не меньше полного, возвращается полная цена.
func Prorate(price decimal.Decimal, remainingDays, periodDays int) decimal.Decimal {
	if periodDays <= 0 || remainingDays >= periodDays {
		return model.RoundMoney(price)
	}
	if remainingDays <= 0 {
		return decimal.Zero
	}
	return model.RoundMoney(price.Mul(decimal.NewFromInt(int64(remainingDays))).Div(decimal.NewFromInt(int64(periodDays))))
}

// NewDraft создаёт черновик счёта и считает итоги по строкам.
func NewDraft(memberID uuid.UUID, subscriptionID *uuid.UUID, currency string, lines []model.LineItem, now time.Time) (model.Invoice, error) {
	if len(lines) == 0 {
		return model.Invoice{}, ErrNoLineItems
	}
	inv := model.Invoice{
		ID:             uuid.New(),
		MemberID:       memberID,
		SubscriptionID: subscriptionID,
		Status:         model.InvoiceDraft,
		Currency:       currency,
		LineItems:      lines,
		Subtotal:       decimal.Zero,
		TaxTotal:       decimal.Zero,
		Total:          decimal.Zero,
		PaidAmount:     decimal.Zero,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	for _, l := range lines {
		inv.Subtotal = inv.Subtotal.Add(l.NetAmount)
		inv.TaxTotal = inv.TaxTotal.Add(l.TaxAmount)
		inv.Total = inv.Total.Add(l.Total)
	}
	return inv, nil
}

// Issue выставляет черновик: присваивает номер и срок оплаты.
func Issue(inv model.Invoice, number string, dueDays int, now time.Time) (model.Invoice, []model.Effect, error) {
	if inv.Status != model.InvoiceDraft {
		return inv, nil, fmt.Errorf("%w: status %s", ErrNotDraft, inv.Status)
	}
	issuedAt := now.UTC()
	due := model.Day(now).AddDate(0, 0, dueDays)

	inv.Number = number
	inv.Status = model.InvoiceIssued
	inv.IssuedAt = &issuedAt
	inv.DueDate = &due
	inv.UpdatedAt = issuedAt

	return inv, []model.Effect{
		model.InvoiceIssuedEvent{
			InvoiceID:      inv.ID,
			Number:         inv.Number,
			MemberID:       inv.MemberID,
			SubscriptionID: inv.SubscriptionID,
			Total:          inv.Total,
			Currency:       inv.Currency,
			DueDate:        inv.DueDate,
		},
		model.Notify(inv.MemberID, model.TemplateInvoiceIssued, map[string]string{
			"number":  inv.Number,
			"total":   inv.Total.StringFixed(model.MinorUnitDigits),
			"dueDate": due.Format(time.DateOnly),
		}),
	}, nil
}

// IssueFromSubscription выставляет счёт за абонемент по ценам плана.
func IssueFromSubscription(sub model.Subscription, plan model.Plan, opts IssueOptions, now time.Time) (model.Invoice, []model.Effect, error) {
	inv, err := DraftFromSubscription(sub, plan, opts, now)
	if err != nil {
		return model.Invoice{}, nil, err
	}
	return Issue(inv, opts.Number, opts.DueDays, now)
}

// DraftFromSubscription готовит черновик счёта за абонемент.
// Членский взнос пропорционален оставшейся части периода, вступительный
// взнос включается только в первый абонемент участника.
func DraftFromSubscription(sub model.Subscription, plan model.Plan, opts IssueOptions, now time.Time) (model.Invoice, error) {
	rate := plan.VATRate
	if rate.IsZero() {
		rate = opts.DefaultVATRate
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = now
	}
	from := model.Day(asOf)
	if sub.StartDate.After(from) {
		from = model.Day(sub.StartDate)
	}
	remaining := model.DaysBetween(from, sub.EndDate)

	var lines []model.LineItem
	if plan.Price.IsPositive() {
		amount := Prorate(plan.Price, remaining, plan.DurationDays)
		desc := "Membership Fee - " + plan.Name
		if remaining < plan.DurationDays {
			desc = fmt.Sprintf("%s (prorated %d/%d days)", desc, max(remaining, 0), plan.DurationDays)
		}
		lines = append(lines, NewLine(desc, 1, amount, rate))
	}
	if opts.FirstSubscription && plan.JoinFee.IsPositive() {
		lines = append(lines, NewLine("Joining Fee (One-time)", 1, plan.JoinFee, rate))
	}

	subID := sub.ID
	inv, err := NewDraft(sub.MemberID, &subID, plan.Currency, lines, now)
	if err != nil {
		return model.Invoice{}, fmt.Errorf("plan %s: %w", plan.ID, err)
	}
	return inv, nil
}

// MarkPaid фиксирует оплату счёта. Повторная оплата возвращает ErrAlreadyPaid без изменений.
func MarkPaid(inv model.Invoice, p model.Payment, now time.Time) (model.Invoice, []model.Effect, error) {
	switch inv.Status {
	case model.InvoicePaid:
		return inv, nil, ErrAlreadyPaid
	case model.InvoiceIssued, model.InvoiceOverdue:
	default:
		return inv, nil, fmt.Errorf("%w: status %s", ErrNotPayable, inv.Status)
	}
	amount := model.RoundMoney(p.Amount)
	if amount.LessThan(inv.Total) {
		return inv, nil, fmt.Errorf("%w: paid %s, total %s", ErrUnderpaid, amount, inv.Total)
	}

	paidAt := now.UTC()
	inv.Status = model.InvoicePaid
	inv.PaidAt = &paidAt
	inv.PaidAmount = amount
	inv.PaymentReference = p.Reference
	inv.UpdatedAt = paidAt

	return inv, []model.Effect{
		model.Notify(inv.MemberID, model.TemplateInvoicePaid, map[string]string{
			"number": inv.Number,
			"amount": amount.StringFixed(model.MinorUnitDigits),
		}),
	}, nil
}

// Cancel отменяет неоплаченный счёт.
func Cancel(inv model.Invoice, now time.Time) (model.Invoice, error) {
	if !inv.Status.IsOpen() {
		return inv, fmt.Errorf("%w: status %s", ErrNotCancellable, inv.Status)
	}
	inv.Status = model.InvoiceCancelled
	inv.UpdatedAt = now.UTC()
	return inv, nil
}

// MarkOverdue переводит выставленный счёт в просроченные, если срок оплаты прошёл.
func MarkOverdue(inv model.Invoice, now time.Time) (model.Invoice, []model.Effect, error) {
	if inv.Status != model.InvoiceIssued || inv.DueDate == nil || !model.Day(now).After(*inv.DueDate) {
		return inv, nil, ErrNotOverdue
	}
	inv.Status = model.InvoiceOverdue
	inv.UpdatedAt = now.UTC()
	return inv, []model.Effect{
		model.Notify(inv.MemberID, model.TemplateInvoiceOverdue, map[string]string{
			"number":  inv.Number,
			"total":   inv.Total.StringFixed(model.MinorUnitDigits),
			"dueDate": inv.DueDate.Format(time.DateOnly),
		}),
	}, nil
}
