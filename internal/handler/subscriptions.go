package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/gym-billing/internal/model"
)

type enrollRequest struct {
	MemberID  uuid.UUID `json:"memberId" validate:"required"`
	PlanID    uuid.UUID `json:"planId" validate:"required"`
	StartDate string    `json:"startDate"`
}

// Enroll оформляет абонемент участнику.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req enrollRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !p.CanAccess(req.MemberID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.service.Enroll(r.Context(), model.EnrollmentRequest{
		MemberID:  req.MemberID,
		PlanID:    req.PlanID,
		StartDate: start,
	})
	if err != nil {
		h.writeError(w, r, "enroll", err)
		return
	}

	resp := enrollmentResponse{Subscription: newSubscriptionResponse(res.Subscription)}
	if res.Invoice.ID != uuid.Nil {
		inv := newInvoiceResponse(res.Invoice)
		resp.Invoice = &inv
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetSubscription возвращает абонемент с балансом заморозки.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	view, _, ok := h.subscriptionAccess(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionViewResponse(view))
}

// ListSubscriptions возвращает абонементы участника.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, "list subscriptions", err)
		return
	}

	if len(subs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, newSubscriptionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Activate вручную активирует абонемент.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subscriptionID")
	if !ok {
		return
	}

	view, err := h.service.Activate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "activate", err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionViewResponse(view))
}

type freezeRequest struct {
	Days   int    `json:"days" validate:"gt=0"`
	Reason string `json:"reason" validate:"max=256"`
}

// Freeze замораживает абонемент на указанное число дней.
func (h *Handler) Freeze(w http.ResponseWriter, r *http.Request) {
	cur, _, ok := h.subscriptionAccess(w, r)
	if !ok {
		return
	}

	var req freezeRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.Freeze(r.Context(), model.FreezeRequest{
		SubscriptionID: cur.Subscription.ID,
		Days:           req.Days,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeError(w, r, "freeze", err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionViewResponse(view))
}

// Unfreeze досрочно размораживает абонемент.
func (h *Handler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	cur, _, ok := h.subscriptionAccess(w, r)
	if !ok {
		return
	}

	view, err := h.service.Unfreeze(r.Context(), cur.Subscription.ID)
	if err != nil {
		h.writeError(w, r, "unfreeze", err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionViewResponse(view))
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// Cancel отменяет абонемент. Отмена от имени участника отмечается отдельно.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	cur, p, ok := h.subscriptionAccess(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.Cancel(r.Context(), cur.Subscription.ID, req.Reason, !p.IsStaff())
	if err != nil {
		h.writeError(w, r, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionViewResponse(view))
}

type renewRequest struct {
	EndDate string `json:"endDate" validate:"required"`
}

// Renew продлевает абонемент до новой даты окончания.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subscriptionID")
	if !ok {
		return
	}

	var req renewRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.Renew(r.Context(), id, end)
	if err != nil {
		h.writeError(w, r, "renew", err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionViewResponse(view))
}

// UseClass списывает одно занятие.
func (h *Handler) UseClass(w http.ResponseWriter, r *http.Request) {
	cur, _, ok := h.subscriptionAccess(w, r)
	if !ok {
		return
	}

	sub, err := h.service.UseClass(r.Context(), cur.Subscription.ID)
	if err != nil {
		h.writeError(w, r, "use class", err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

type grantFreezeDaysRequest struct {
	Days int `json:"days" validate:"gt=0"`
}

// GrantFreezeDays начисляет дополнительные дни заморозки.
func (h *Handler) GrantFreezeDays(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subscriptionID")
	if !ok {
		return
	}

	var req grantFreezeDaysRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.service.GrantFreezeDays(r.Context(), id, req.Days)
	if err != nil {
		h.writeError(w, r, "grant freeze days", err)
		return
	}
	writeJSON(w, http.StatusOK, newFreezeBalanceResponse(b))
}

type purchasePackageRequest struct {
	PackageID uuid.UUID `json:"packageId" validate:"required"`
}

// PurchaseFreezePackage покупает пакет дней заморозки за счёт кошелька.
func (h *Handler) PurchaseFreezePackage(w http.ResponseWriter, r *http.Request) {
	cur, _, ok := h.subscriptionAccess(w, r)
	if !ok {
		return
	}

	var req purchasePackageRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.service.PurchaseFreezePackage(r.Context(), cur.Subscription.ID, req.PackageID)
	if err != nil {
		h.writeError(w, r, "purchase freeze package", err)
		return
	}
	writeJSON(w, http.StatusOK, newFreezeBalanceResponse(b))
}
