package handler

import (
	"crypto/hmac"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/middleware"
	"github.com/mmeshcher/gym-billing/internal/model"
)

type createMemberRequest struct {
	Locale string `json:"locale" validate:"omitempty,oneof=en ar"`
}

// CreateMember регистрирует участника и выдаёт ему cookie аутентификации.
// Сотрудник регистрирует участника без смены собственного cookie.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := h.service.CreateMember(r.Context(), model.Locale(req.Locale))
	if err != nil {
		h.writeError(w, r, "create member", err)
		return
	}

	if p, ok := middleware.PrincipalFromContext(r.Context()); !ok || !p.IsStaff() {
		h.authMiddleware.SetAuthCookie(w, middleware.Principal{Role: middleware.RoleMember, ID: m.ID})
	}
	writeJSON(w, http.StatusCreated, newMemberResponse(m))
}

type staffLoginRequest struct {
	Key string `json:"key" validate:"required"`
}

// StaffLogin выдаёт cookie сотрудника при предъявлении ключа персонала.
func (h *Handler) StaffLogin(w http.ResponseWriter, r *http.Request) {
	var req staffLoginRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if h.staffKey == "" || !hmac.Equal([]byte(req.Key), []byte(h.staffKey)) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Principal{Role: middleware.RoleStaff, ID: uuid.New()})
	w.WriteHeader(http.StatusOK)
}

// GetMember возвращает участника.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, _, ok := memberAccess(w, r)
	if !ok {
		return
	}

	m, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get member", err)
		return
	}
	writeJSON(w, http.StatusOK, newMemberResponse(m))
}

type createPlanRequest struct {
	Name                  string          `json:"name" validate:"required,max=128"`
	Price                 decimal.Decimal `json:"price" validate:"decimal_gte0,money"`
	Currency              string          `json:"currency" validate:"omitempty,iso4217"`
	DurationDays          int             `json:"durationDays" validate:"gt=0"`
	FreezeDaysAllowed     int             `json:"freezeDaysAllowed" validate:"gte=0"`
	FreezeExtendsContract bool            `json:"freezeExtendsContract"`
	MaxClasses            *int            `json:"maxClasses" validate:"omitempty,gt=0"`
	JoinFee               decimal.Decimal `json:"joinFee" validate:"decimal_gte0,money"`
	VATRate               decimal.Decimal `json:"vatRate" validate:"decimal_gte0"`
}

// CreatePlan добавляет тарифный план.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.service.CreatePlan(r.Context(), model.Plan{
		Name:                  req.Name,
		Price:                 req.Price,
		Currency:              req.Currency,
		DurationDays:          req.DurationDays,
		FreezeDaysAllowed:     req.FreezeDaysAllowed,
		FreezeExtendsContract: req.FreezeExtendsContract,
		MaxClasses:            req.MaxClasses,
		JoinFee:               req.JoinFee,
		VATRate:               req.VATRate,
		Active:                true,
	})
	if err != nil {
		h.writeError(w, r, "create plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlanResponse(p))
}

// ListPlans возвращает тарифные планы.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, "list plans", err)
		return
	}

	resp := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, newPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createFreezePackageRequest struct {
	Name            string          `json:"name" validate:"required,max=128"`
	Days            int             `json:"days" validate:"gt=0"`
	Price           decimal.Decimal `json:"price" validate:"decimal_gte0,money"`
	Currency        string          `json:"currency" validate:"omitempty,iso4217"`
	ExtendsContract bool            `json:"extendsContract"`
}

// CreateFreezePackage добавляет пакет дней заморозки.
func (h *Handler) CreateFreezePackage(w http.ResponseWriter, r *http.Request) {
	var req createFreezePackageRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.service.CreateFreezePackage(r.Context(), model.FreezePackage{
		Name:            req.Name,
		Days:            req.Days,
		Price:           req.Price,
		Currency:        req.Currency,
		ExtendsContract: req.ExtendsContract,
		Active:          true,
	})
	if err != nil {
		h.writeError(w, r, "create freeze package", err)
		return
	}
	writeJSON(w, http.StatusCreated, newFreezePackageResponse(p))
}

// ListFreezePackages возвращает пакеты заморозки.
func (h *Handler) ListFreezePackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.service.ListFreezePackages(r.Context())
	if err != nil {
		h.writeError(w, r, "list freeze packages", err)
		return
	}

	resp := make([]freezePackageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		resp = append(resp, newFreezePackageResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

type referralRequest struct {
	ReferrerID uuid.UUID `json:"referrerId" validate:"required"`
	RefereeID  uuid.UUID `json:"refereeId" validate:"required"`
}

// RecordReferral фиксирует приглашение участника.
func (h *Handler) RecordReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ref, err := h.service.RecordReferral(r.Context(), req.ReferrerID, req.RefereeID)
	if err != nil {
		h.writeError(w, r, "record referral", err)
		return
	}
	writeJSON(w, http.StatusCreated, referralResponse{
		ID:         ref.ID,
		ReferrerID: ref.ReferrerID,
		RefereeID:  ref.RefereeID,
		CreatedAt:  ref.CreatedAt.Format(time.RFC3339),
	})
}
