// Package handler содержит HTTP-обработчики API сервиса биллинга абонементов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/billing"
	"github.com/mmeshcher/gym-billing/internal/freeze"
	"github.com/mmeshcher/gym-billing/internal/lifecycle"
	"github.com/mmeshcher/gym-billing/internal/middleware"
	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/points"
	"github.com/mmeshcher/gym-billing/internal/repository"
	"github.com/mmeshcher/gym-billing/internal/service"
	"github.com/mmeshcher/gym-billing/internal/validation"
	"github.com/mmeshcher/gym-billing/internal/wallet"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateMember(ctx context.Context, locale model.Locale) (model.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (model.Member, error)
	CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error)
	ListPlans(ctx context.Context) ([]model.Plan, error)
	CreateFreezePackage(ctx context.Context, p model.FreezePackage) (model.FreezePackage, error)
	ListFreezePackages(ctx context.Context) ([]model.FreezePackage, error)

	Enroll(ctx context.Context, req model.EnrollmentRequest) (service.Enrollment, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (service.SubscriptionView, error)
	ListSubscriptions(ctx context.Context, memberID uuid.UUID) ([]model.Subscription, error)
	Activate(ctx context.Context, id uuid.UUID) (service.SubscriptionView, error)
	Freeze(ctx context.Context, req model.FreezeRequest) (service.SubscriptionView, error)
	Unfreeze(ctx context.Context, id uuid.UUID) (service.SubscriptionView, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, byMember bool) (service.SubscriptionView, error)
	Renew(ctx context.Context, id uuid.UUID, endDate time.Time) (service.SubscriptionView, error)
	UseClass(ctx context.Context, id uuid.UUID) (model.Subscription, error)
	GrantFreezeDays(ctx context.Context, id uuid.UUID, days int) (model.FreezeBalance, error)
	PurchaseFreezePackage(ctx context.Context, subscriptionID, packageID uuid.UUID) (model.FreezeBalance, error)

	HandlePaymentWebhook(ctx context.Context, wh model.PaymentWebhook) (model.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error)
	ListInvoices(ctx context.Context, memberID uuid.UUID) ([]model.Invoice, error)
	CancelInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error)

	CreditWallet(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, reference string) (model.Wallet, error)
	AdjustWallet(ctx context.Context, adj model.WalletAdjustment) (model.Wallet, error)
	RefundToWallet(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, reference, reason string) (model.Wallet, error)
	GetWallet(ctx context.Context, memberID uuid.UUID) (model.Wallet, error)
	ListWalletTransactions(ctx context.Context, memberID uuid.UUID) ([]model.WalletTransaction, error)
	WalletStatement(ctx context.Context, memberID uuid.UUID, w io.Writer) error

	EarnPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram, pts int64, reference string) (model.PointsAccount, error)
	RedeemPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram, pts int64, reference string) (model.PointsAccount, error)
	AdjustPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram, delta int64, reference string) (model.PointsAccount, error)
	GetPoints(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) (service.PointsView, error)
	RecordReferral(ctx context.Context, referrerID, refereeID uuid.UUID) (model.Referral, error)
}

// Handler реализует HTTP-обработчики API сервиса биллинга.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	staffKey       string
	webhookSecret  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// staffKey открывает вход сотрудникам, webhookSecret проверяет подпись платёжного шлюза.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, staffKey, webhookSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		staffKey:       staffKey,
		webhookSecret:  webhookSecret,
	}
}

const dateLayout = time.DateOnly

// decode читает JSON-тело запроса и проверяет его теги validate.
// Пустое тело проверяется как нулевое значение.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(validation.ErrInvalid, err)
	}
	return validation.Struct(v)
}

// parseDate разбирает дату в формате YYYY-MM-DD. Пустая строка даёт нулевое время.
func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a YYYY-MM-DD date", validation.ErrInvalid, field)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor сопоставляет ошибку бизнес-логики HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, freeze.ErrInvalidDays),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, model.ErrAmountOutOfRange),
		errors.Is(err, points.ErrInvalidPoints),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSelfReferral),
		errors.Is(err, service.ErrPeriodElapsed),
		errors.Is(err, service.ErrPlanInactive),
		errors.Is(err, service.ErrPackageInactive):
		return http.StatusBadRequest

	case errors.Is(err, repository.ErrMemberNotFound),
		errors.Is(err, repository.ErrPlanNotFound),
		errors.Is(err, repository.ErrFreezePackageNotFound),
		errors.Is(err, repository.ErrSubscriptionNotFound),
		errors.Is(err, repository.ErrFreezeBalanceNotFound),
		errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, repository.ErrInvoiceNotFound):
		return http.StatusNotFound

	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, repository.ErrConcurrentModification),
		errors.Is(err, repository.ErrMemberExists),
		errors.Is(err, repository.ErrReferralExists),
		errors.Is(err, repository.ErrDuplicatePayment):
		return http.StatusConflict

	case errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, points.ErrInsufficientPoints):
		return http.StatusPaymentRequired

	case errors.Is(err, freeze.ErrInsufficientFreezeDays),
		errors.Is(err, lifecycle.ErrNoClassesRemaining),
		errors.Is(err, lifecycle.ErrInvalidEndDate),
		errors.Is(err, billing.ErrUnderpaid),
		errors.Is(err, billing.ErrNotPayable),
		errors.Is(err, billing.ErrNotCancellable),
		errors.Is(err, billing.ErrCurrencyMismatch),
		errors.Is(err, wallet.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError отвечает статусом, соответствующим ошибке. Внутренние ошибки
// логируются, клиенту возвращается только текст статуса.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("uri", r.RequestURI))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return p, ok
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return uuid.Nil, false
	}
	return id, true
}

// memberAccess проверяет, что пользователь вправе работать с данными участника из пути.
func memberAccess(w http.ResponseWriter, r *http.Request) (uuid.UUID, middleware.Principal, bool) {
	p, ok := principal(w, r)
	if !ok {
		return uuid.Nil, p, false
	}
	id, ok := uuidParam(w, r, "memberID")
	if !ok {
		return uuid.Nil, p, false
	}
	if !p.CanAccess(id) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return uuid.Nil, p, false
	}
	return id, p, true
}

// subscriptionAccess загружает абонемент из пути и проверяет права на него.
func (h *Handler) subscriptionAccess(w http.ResponseWriter, r *http.Request) (service.SubscriptionView, middleware.Principal, bool) {
	p, ok := principal(w, r)
	if !ok {
		return service.SubscriptionView{}, p, false
	}
	id, ok := uuidParam(w, r, "subscriptionID")
	if !ok {
		return service.SubscriptionView{}, p, false
	}
	view, err := h.service.GetSubscription(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get subscription", err)
		return service.SubscriptionView{}, p, false
	}
	if !p.CanAccess(view.Subscription.MemberID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return service.SubscriptionView{}, p, false
	}
	return view, p, true
}
