package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// CreateMember регистрирует участника.
func (s *Service) CreateMember(ctx context.Context, locale model.Locale) (model.Member, error) {
	if locale == "" {
		locale = model.LocaleEN
	}
	m, err := s.repo.CreateMember(ctx, model.Member{ID: uuid.New(), Locale: locale, CreatedAt: s.now()})
	if err != nil {
		return model.Member{}, err
	}
	s.logger.Info("member created", zap.Stringer("member", m.ID))
	return m, nil
}

// GetMember возвращает участника.
func (s *Service) GetMember(ctx context.Context, id uuid.UUID) (model.Member, error) {
	return s.repo.GetMember(ctx, id)
}

// CreatePlan добавляет тарифный план.
func (s *Service) CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error) {
	p.ID = uuid.New()
	if p.Currency == "" {
		p.Currency = s.opts.DefaultCurrency
	}
	if err := s.repo.CreatePlan(ctx, p); err != nil {
		return model.Plan{}, err
	}
	return p, nil
}

// ListPlans возвращает тарифные планы.
func (s *Service) ListPlans(ctx context.Context) ([]model.Plan, error) {
	return s.repo.ListPlans(ctx)
}

// CreateFreezePackage добавляет пакет дней заморозки.
func (s *Service) CreateFreezePackage(ctx context.Context, p model.FreezePackage) (model.FreezePackage, error) {
	p.ID = uuid.New()
	if p.Currency == "" {
		p.Currency = s.opts.DefaultCurrency
	}
	if err := s.repo.CreateFreezePackage(ctx, p); err != nil {
		return model.FreezePackage{}, err
	}
	return p, nil
}

// ListFreezePackages возвращает пакеты заморозки.
func (s *Service) ListFreezePackages(ctx context.Context) ([]model.FreezePackage, error) {
	return s.repo.ListFreezePackages(ctx)
}
