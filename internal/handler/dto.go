package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/service"
)

type memberResponse struct {
	ID        uuid.UUID `json:"id"`
	Locale    string    `json:"locale"`
	CreatedAt string    `json:"createdAt"`
}

func newMemberResponse(m model.Member) memberResponse {
	return memberResponse{ID: m.ID, Locale: string(m.Locale), CreatedAt: m.CreatedAt.Format(time.RFC3339)}
}

type planResponse struct {
	ID                    uuid.UUID       `json:"id"`
	Name                  string          `json:"name"`
	Price                 decimal.Decimal `json:"price"`
	Currency              string          `json:"currency"`
	DurationDays          int             `json:"durationDays"`
	FreezeDaysAllowed     int             `json:"freezeDaysAllowed"`
	FreezeExtendsContract bool            `json:"freezeExtendsContract"`
	MaxClasses            *int            `json:"maxClasses,omitempty"`
	JoinFee               decimal.Decimal `json:"joinFee"`
	VATRate               decimal.Decimal `json:"vatRate"`
	Active                bool            `json:"active"`
}

func newPlanResponse(p model.Plan) planResponse {
	return planResponse{
		ID:                    p.ID,
		Name:                  p.Name,
		Price:                 p.Price,
		Currency:              p.Currency,
		DurationDays:          p.DurationDays,
		FreezeDaysAllowed:     p.FreezeDaysAllowed,
		FreezeExtendsContract: p.FreezeExtendsContract,
		MaxClasses:            p.MaxClasses,
		JoinFee:               p.JoinFee,
		VATRate:               p.VATRate,
		Active:                p.Active,
	}
}

type freezePackageResponse struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Days            int             `json:"days"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	ExtendsContract bool            `json:"extendsContract"`
	Active          bool            `json:"active"`
}

func newFreezePackageResponse(p model.FreezePackage) freezePackageResponse {
	return freezePackageResponse{
		ID:              p.ID,
		Name:            p.Name,
		Days:            p.Days,
		Price:           p.Price,
		Currency:        p.Currency,
		ExtendsContract: p.ExtendsContract,
		Active:          p.Active,
	}
}

type freezeBalanceResponse struct {
	Total              int `json:"total"`
	Used               int `json:"used"`
	Remaining          int `json:"remaining"`
	ExtendingRemaining int `json:"extendingRemaining"`
}

func newFreezeBalanceResponse(b model.FreezeBalance) freezeBalanceResponse {
	return freezeBalanceResponse{
		Total:              b.TotalFreezeDays,
		Used:               b.UsedFreezeDays,
		Remaining:          b.Remaining(),
		ExtendingRemaining: b.ExtendingRemaining(),
	}
}

type subscriptionResponse struct {
	ID               uuid.UUID              `json:"id"`
	MemberID         uuid.UUID              `json:"memberId"`
	PlanID           uuid.UUID              `json:"planId"`
	Status           string                 `json:"status"`
	StartDate        string                 `json:"startDate"`
	EndDate          string                 `json:"endDate"`
	ClassesRemaining *int                   `json:"classesRemaining,omitempty"`
	FreezeEndDate    string                 `json:"freezeEndDate,omitempty"`
	FreezeReason     string                 `json:"freezeReason,omitempty"`
	CancelledAt      string                 `json:"cancelledAt,omitempty"`
	CancelReason     string                 `json:"cancelReason,omitempty"`
	Version          int64                  `json:"version"`
	FreezeBalance    *freezeBalanceResponse `json:"freezeBalance,omitempty"`
}

func newSubscriptionResponse(s model.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:               s.ID,
		MemberID:         s.MemberID,
		PlanID:           s.PlanID,
		Status:           string(s.Status),
		StartDate:        s.StartDate.Format(dateLayout),
		EndDate:          s.EndDate.Format(dateLayout),
		ClassesRemaining: s.ClassesRemaining,
		FreezeReason:     s.FreezeReason,
		CancelReason:     s.CancelReason,
		Version:          s.Version,
	}
	if s.FreezeEndDate != nil {
		resp.FreezeEndDate = s.FreezeEndDate.Format(dateLayout)
	}
	if s.CancelledAt != nil {
		resp.CancelledAt = s.CancelledAt.Format(time.RFC3339)
	}
	return resp
}

func newSubscriptionViewResponse(v service.SubscriptionView) subscriptionResponse {
	resp := newSubscriptionResponse(v.Subscription)
	if v.FreezeBalance.SubscriptionID != uuid.Nil {
		b := newFreezeBalanceResponse(v.FreezeBalance)
		resp.FreezeBalance = &b
	}
	return resp
}

type invoiceResponse struct {
	ID               uuid.UUID        `json:"id"`
	Number           string           `json:"number"`
	MemberID         uuid.UUID        `json:"memberId"`
	SubscriptionID   *uuid.UUID       `json:"subscriptionId,omitempty"`
	Status           string           `json:"status"`
	Currency         string           `json:"currency"`
	LineItems        []model.LineItem `json:"lineItems"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	TaxTotal         decimal.Decimal  `json:"taxTotal"`
	Total            decimal.Decimal  `json:"total"`
	IssuedAt         string           `json:"issuedAt,omitempty"`
	DueDate          string           `json:"dueDate,omitempty"`
	PaidAt           string           `json:"paidAt,omitempty"`
	PaidAmount       decimal.Decimal  `json:"paidAmount"`
	PaymentReference string           `json:"paymentReference,omitempty"`
}

func newInvoiceResponse(inv model.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:               inv.ID,
		Number:           inv.Number,
		MemberID:         inv.MemberID,
		SubscriptionID:   inv.SubscriptionID,
		Status:           string(inv.Status),
		Currency:         inv.Currency,
		LineItems:        inv.LineItems,
		Subtotal:         inv.Subtotal,
		TaxTotal:         inv.TaxTotal,
		Total:            inv.Total,
		PaidAmount:       inv.PaidAmount,
		PaymentReference: inv.PaymentReference,
	}
	if inv.IssuedAt != nil {
		resp.IssuedAt = inv.IssuedAt.Format(time.RFC3339)
	}
	if inv.DueDate != nil {
		resp.DueDate = inv.DueDate.Format(dateLayout)
	}
	if inv.PaidAt != nil {
		resp.PaidAt = inv.PaidAt.Format(time.RFC3339)
	}
	return resp
}

type enrollmentResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	Invoice      *invoiceResponse     `json:"invoice,omitempty"`
}

type walletResponse struct {
	MemberID uuid.UUID       `json:"memberId"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

func newWalletResponse(w model.Wallet) walletResponse {
	return walletResponse{MemberID: w.MemberID, Balance: w.Balance, Currency: w.Currency}
}

type walletTransactionResponse struct {
	Sequence     int64           `json:"sequence"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	Reference    string          `json:"reference"`
	Description  string          `json:"description,omitempty"`
	InvoiceID    *uuid.UUID      `json:"invoiceId,omitempty"`
	CreatedAt    string          `json:"createdAt"`
}

type pointsTransactionResponse struct {
	Sequence     int64  `json:"sequence"`
	Kind         string `json:"kind"`
	Points       int64  `json:"points"`
	BalanceAfter int64  `json:"balanceAfter"`
	Reference    string `json:"reference"`
	CreatedAt    string `json:"createdAt"`
}

type pointsResponse struct {
	MemberID     uuid.UUID                   `json:"memberId"`
	Program      string                      `json:"program"`
	Balance      int64                       `json:"balance"`
	Transactions []pointsTransactionResponse `json:"transactions,omitempty"`
}

func newPointsResponse(a model.PointsAccount, txs []model.PointsTransaction) pointsResponse {
	resp := pointsResponse{MemberID: a.MemberID, Program: string(a.Program), Balance: a.Balance}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, pointsTransactionResponse{
			Sequence:     t.Sequence,
			Kind:         string(t.Kind),
			Points:       t.Points,
			BalanceAfter: t.BalanceAfter,
			Reference:    t.Reference,
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

type referralResponse struct {
	ID         uuid.UUID `json:"id"`
	ReferrerID uuid.UUID `json:"referrerId"`
	RefereeID  uuid.UUID `json:"refereeId"`
	CreatedAt  string    `json:"createdAt"`
}
