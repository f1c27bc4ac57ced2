package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/gym-billing/internal/model"
)

func programParam(w http.ResponseWriter, r *http.Request) (model.PointsProgram, bool) {
	p := model.PointsProgram(strings.ToUpper(chi.URLParam(r, "program")))
	switch p {
	case model.ProgramLoyalty, model.ProgramReferral:
		return p, true
	}
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	return "", false
}

// GetPoints возвращает баланс и историю баллов участника в программе.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	memberID, _, ok := memberAccess(w, r)
	if !ok {
		return
	}
	program, ok := programParam(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetPoints(r.Context(), memberID, program)
	if err != nil {
		h.writeError(w, r, "get points", err)
		return
	}
	writeJSON(w, http.StatusOK, newPointsResponse(view.Account, view.Transactions))
}

type pointsRequest struct {
	Points    int64  `json:"points" validate:"ne=0"`
	Reference string `json:"reference" validate:"required,max=128"`
}

type pointsOperation func(ctx context.Context, memberID uuid.UUID, program model.PointsProgram, pts int64, reference string) (model.PointsAccount, error)

func (h *Handler) postPoints(op string, fn pointsOperation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, _, ok := memberAccess(w, r)
		if !ok {
			return
		}
		program, ok := programParam(w, r)
		if !ok {
			return
		}

		var req pointsRequest
		if err := decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		acc, err := fn(r.Context(), memberID, program, req.Points, req.Reference)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, newPointsResponse(acc, nil))
	}
}

// EarnPoints начисляет баллы.
func (h *Handler) EarnPoints(w http.ResponseWriter, r *http.Request) {
	h.postPoints("earn points", h.service.EarnPoints)(w, r)
}

// RedeemPoints списывает баллы.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	h.postPoints("redeem points", h.service.RedeemPoints)(w, r)
}

// AdjustPoints корректирует баланс баллов.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	h.postPoints("adjust points", h.service.AdjustPoints)(w, r)
}
