// Package service реализует бизнес-логику биллинга абонементов.
//
// Каждая изменяющая операция выполняется в одной транзакции хранилища,
// при конфликте версий повторяется один раз, а последующие действия
// публикуются только после фиксации.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/metrics"
	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/repository"
)

var (
	// ErrPlanInactive возвращается при оформлении абонемента по архивному плану.
	ErrPlanInactive = errors.New("plan is not active")
	// ErrPackageInactive возвращается при покупке архивного пакета заморозки.
	ErrPackageInactive = errors.New("freeze package is not active")
	// ErrSelfReferral возвращается, если участник приглашает сам себя.
	ErrSelfReferral = errors.New("member cannot refer themselves")
	// ErrInvalidAmount возвращается при неположительной сумме или количестве.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrPeriodElapsed возвращается, если весь период абонемента с указанной даты начала уже прошёл.
	ErrPeriodElapsed = errors.New("subscription period has already elapsed")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error

	CreateMember(ctx context.Context, m model.Member) (model.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (model.Member, error)
	CreatePlan(ctx context.Context, p model.Plan) error
	GetPlan(ctx context.Context, id uuid.UUID) (model.Plan, error)
	ListPlans(ctx context.Context) ([]model.Plan, error)
	CreateFreezePackage(ctx context.Context, p model.FreezePackage) error
	ListFreezePackages(ctx context.Context) ([]model.FreezePackage, error)

	GetSubscription(ctx context.Context, id uuid.UUID) (model.Subscription, error)
	ListSubscriptionsByMember(ctx context.Context, memberID uuid.UUID) ([]model.Subscription, error)
	GetFreezeBalance(ctx context.Context, subscriptionID uuid.UUID) (model.FreezeBalance, error)

	GetInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error)
	ListInvoicesByMember(ctx context.Context, memberID uuid.UUID) ([]model.Invoice, error)

	GetWallet(ctx context.Context, memberID uuid.UUID) (model.Wallet, error)
	ListWalletTransactions(ctx context.Context, memberID uuid.UUID) ([]model.WalletTransaction, error)

	GetPointsAccount(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) (model.PointsAccount, error)
	ListPointsTransactions(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) ([]model.PointsTransaction, error)

	SubscriptionsDueForExpiry(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error)
	FreezesElapsed(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error)
	InvoicesPastDue(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error)
}

// Publisher публикует последующие действия после фиксации транзакции.
type Publisher interface {
	Publish(ctx context.Context, effects ...model.Effect) error
}

// Options настройки бизнес-правил.
type Options struct {
	DefaultCurrency      string
	VATRate              decimal.Decimal
	InvoiceDueDays       int
	PointsPerUnit        decimal.Decimal
	ReferralRewardPoints int64
	// JobBatchSize ограничивает число элементов, обрабатываемых задачей за один запуск.
	JobBatchSize int
	Now          func() time.Time
}

// Service содержит бизнес-логику биллинга.
type Service struct {
	repo      Repository
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

// NewService создаёт сервис. publisher и m могут быть nil.
func NewService(repo Repository, publisher Publisher, m *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "SAR"
	}
	if opts.JobBatchSize <= 0 {
		opts.JobBatchSize = 500
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// mutate выполняет fn в транзакции. При ErrConcurrentModification транзакция
// повторяется один раз целиком. Эффекты публикуются после успешной фиксации.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) ([]model.Effect, error)) error {
	start := time.Now()
	var effects []model.Effect

	err := retry.Do(
		func() error {
			return s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				var err error
				effects, err = fn(ctx, tx)
				return err
			})
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(10*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, repository.ErrConcurrentModification)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.metrics.ConflictRetry(op)
			s.logger.Info("retrying after concurrent modification", zap.String("operation", op), zap.Error(err))
		}),
	)
	s.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		return err
	}

	for _, e := range effects {
		if c, ok := e.(model.SubscriptionStatusChanged); ok {
			s.metrics.Transition(string(c.From), string(c.To))
		}
	}
	s.publish(ctx, effects)
	return nil
}

// publish проставляет локаль участника в уведомления и отправляет эффекты.
// Ошибка публикации не откатывает уже зафиксированную операцию.
func (s *Service) publish(ctx context.Context, effects []model.Effect) {
	if s.publisher == nil || len(effects) == 0 {
		return
	}

	locales := make(map[uuid.UUID]model.Locale)
	out := make([]model.Effect, 0, len(effects))
	for _, e := range effects {
		if n, ok := e.(model.NotificationRequested); ok && n.Locale == "" {
			loc, seen := locales[n.MemberID]
			if !seen {
				loc = model.LocaleEN
				if m, err := s.repo.GetMember(ctx, n.MemberID); err == nil && m.Locale != "" {
					loc = m.Locale
				}
				locales[n.MemberID] = loc
			}
			e = model.WithLocale([]model.Effect{n}, loc)[0]
		}
		out = append(out, e)
	}

	if err := s.publisher.Publish(ctx, out...); err != nil {
		s.logger.Warn("publish effects", zap.Int("count", len(out)), zap.Error(err))
	}
}
