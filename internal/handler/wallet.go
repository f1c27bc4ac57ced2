package handler

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GetWallet возвращает кошелёк участника.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	wal, err := h.service.GetWallet(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wal))
}

// ListWalletTransactions возвращает журнал операций кошелька.
func (h *Handler) ListWalletTransactions(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	txs, err := h.service.ListWalletTransactions(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, "list wallet transactions", err)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]walletTransactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, walletTransactionResponse{
			Sequence:     t.Sequence,
			Kind:         string(t.Kind),
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
			Reference:    t.Reference,
			Description:  t.Description,
			InvoiceID:    t.InvoiceID,
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// WalletStatement отдаёт выписку по кошельку в формате XLSX.
func (h *Handler) WalletStatement(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.service.WalletStatement(r.Context(), memberID, &buf); err != nil {
		h.writeError(w, r, "wallet statement", err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="wallet-`+memberID.String()+`.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type walletCreditRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"decimal_gt0,money"`
	Reference string          `json:"reference" validate:"required,max=128"`
}

// CreditWallet пополняет кошелёк участника на кассе.
func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	var req walletCreditRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wal, err := h.service.CreditWallet(r.Context(), memberID, req.Amount, req.Reference)
	if err != nil {
		h.writeError(w, r, "credit wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wal))
}

type walletAdjustmentRequest struct {
	Delta  decimal.Decimal `json:"delta" validate:"decimal_ne0,money"`
	Reason string          `json:"reason" validate:"required,max=256"`
}

// AdjustWallet вносит ручную корректировку баланса.
func (h *Handler) AdjustWallet(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	var req walletAdjustmentRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wal, err := h.service.AdjustWallet(r.Context(), model.WalletAdjustment{
		MemberID: memberID,
		Delta:    req.Delta,
		Reason:   req.Reason,
	})
	if err != nil {
		h.writeError(w, r, "adjust wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wal))
}

type walletRefundRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"decimal_gt0,money"`
	Reference string          `json:"reference" validate:"required,max=128"`
	Reason    string          `json:"reason" validate:"max=256"`
}

// RefundToWallet возвращает средства на кошелёк.
func (h *Handler) RefundToWallet(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	var req walletRefundRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wal, err := h.service.RefundToWallet(r.Context(), memberID, req.Amount, req.Reference, req.Reason)
	if err != nil {
		h.writeError(w, r, "refund to wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wal))
}
