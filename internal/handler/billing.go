package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
)

type paymentWebhookRequest struct {
	InvoiceID uuid.UUID       `json:"invoiceId" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"decimal_gt0,money"`
	Reference string          `json:"reference" validate:"required,max=128"`
}

// PaymentWebhook принимает уведомление платёжного шлюза об оплате счёта.
// Повторное уведомление по оплаченному счёту возвращает 200 без изменений.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inv, err := h.service.HandlePaymentWebhook(r.Context(), model.PaymentWebhook{
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		h.writeError(w, r, "payment webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, newInvoiceResponse(inv))
}

// GetInvoice возвращает счёт.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "invoiceID")
	if !ok {
		return
	}

	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get invoice", err)
		return
	}
	if !p.CanAccess(inv.MemberID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, newInvoiceResponse(inv))
}

// ListInvoices возвращает счета участника.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, "list invoices", err)
		return
	}

	if len(invoices) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		resp = append(resp, newInvoiceResponse(inv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelInvoice отменяет неоплаченный счёт.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "invoiceID")
	if !ok {
		return
	}

	inv, err := h.service.CancelInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "cancel invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, newInvoiceResponse(inv))
}
