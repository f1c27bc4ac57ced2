package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// CreateMember создаёт участника.
func (r *PostgresRepository) CreateMember(ctx context.Context, m model.Member) (model.Member, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO members (id, locale) VALUES ($1, $2) RETURNING created_at`,
		m.ID, string(m.Locale),
	).Scan(&m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return m, fmt.Errorf("%w: %s", ErrMemberExists, m.ID)
		}
		return m, fmt.Errorf("create member: %w", err)
	}
	return m, nil
}

// GetMember возвращает участника.
func (r *PostgresRepository) GetMember(ctx context.Context, id uuid.UUID) (model.Member, error) {
	return getMember(ctx, r.pool, id)
}

func (t *pgTx) GetMember(ctx context.Context, id uuid.UUID) (model.Member, error) {
	return getMember(ctx, t.q, id)
}

func getMember(ctx context.Context, q querier, id uuid.UUID) (model.Member, error) {
	var (
		m      model.Member
		locale string
	)
	err := q.QueryRow(ctx,
		`SELECT id, locale, created_at FROM members WHERE id = $1`,
		id,
	).Scan(&m.ID, &locale, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m, ErrMemberNotFound
		}
		return m, fmt.Errorf("get member: %w", err)
	}
	m.Locale = model.Locale(locale)
	return m, nil
}

const planColumns = `id, name, price_minor, currency, duration_days, freeze_days_allowed,
	freeze_extends_contract, max_classes, join_fee_minor, vat_rate_bp, active`

// CreatePlan сохраняет тарифный план.
func (r *PostgresRepository) CreatePlan(ctx context.Context, p model.Plan) error {
	var mu minorUnits
	args := []any{
		p.ID, p.Name, mu.of(p.Price), p.Currency, p.DurationDays, p.FreezeDaysAllowed,
		p.FreezeExtendsContract, p.MaxClasses, mu.of(p.JoinFee), rateToBasisPoints(p.VATRate), p.Active,
	}
	if mu.err != nil {
		return fmt.Errorf("create plan: %w", mu.err)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// GetPlan возвращает тарифный план.
func (r *PostgresRepository) GetPlan(ctx context.Context, id uuid.UUID) (model.Plan, error) {
	return getPlan(ctx, r.pool, id)
}

func (t *pgTx) GetPlan(ctx context.Context, id uuid.UUID) (model.Plan, error) {
	return getPlan(ctx, t.q, id)
}

// ListPlans возвращает все тарифные планы.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]model.Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select plans: %w", err)
	}
	defer rows.Close()

	var res []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func getPlan(ctx context.Context, q querier, id uuid.UUID) (model.Plan, error) {
	p, err := scanPlan(q.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, ErrPlanNotFound
		}
		return p, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func scanPlan(row pgx.Row) (model.Plan, error) {
	var (
		p                     model.Plan
		priceMinor, joinMinor int64
		vatBP                 int64
	)
	err := row.Scan(&p.ID, &p.Name, &priceMinor, &p.Currency, &p.DurationDays, &p.FreezeDaysAllowed,
		&p.FreezeExtendsContract, &p.MaxClasses, &joinMinor, &vatBP, &p.Active)
	if err != nil {
		return p, err
	}
	p.Price = model.FromMinor(priceMinor)
	p.JoinFee = model.FromMinor(joinMinor)
	p.VATRate = basisPointsToRate(vatBP)
	return p, nil
}

const freezePackageColumns = `id, name, days, price_minor, currency, extends_contract, active`

// CreateFreezePackage сохраняет пакет дней заморозки.
func (r *PostgresRepository) CreateFreezePackage(ctx context.Context, p model.FreezePackage) error {
	priceMinor, err := model.ToMinor(p.Price)
	if err != nil {
		return fmt.Errorf("create freeze package: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO freeze_packages (`+freezePackageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Days, priceMinor, p.Currency, p.ExtendsContract, p.Active,
	)
	if err != nil {
		return fmt.Errorf("create freeze package: %w", err)
	}
	return nil
}

// ListFreezePackages возвращает все пакеты заморозки.
func (r *PostgresRepository) ListFreezePackages(ctx context.Context) ([]model.FreezePackage, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+freezePackageColumns+` FROM freeze_packages ORDER BY days`)
	if err != nil {
		return nil, fmt.Errorf("select freeze packages: %w", err)
	}
	defer rows.Close()

	var res []model.FreezePackage
	for rows.Next() {
		p, err := scanFreezePackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan freeze package: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) GetFreezePackage(ctx context.Context, id uuid.UUID) (model.FreezePackage, error) {
	p, err := scanFreezePackage(t.q.QueryRow(ctx,
		`SELECT `+freezePackageColumns+` FROM freeze_packages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, ErrFreezePackageNotFound
		}
		return p, fmt.Errorf("get freeze package: %w", err)
	}
	return p, nil
}

func scanFreezePackage(row pgx.Row) (model.FreezePackage, error) {
	var (
		p          model.FreezePackage
		priceMinor int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Days, &priceMinor, &p.Currency, &p.ExtendsContract, &p.Active); err != nil {
		return p, err
	}
	p.Price = model.FromMinor(priceMinor)
	return p, nil
}

// minorUnits переводит суммы в минимальные единицы и запоминает первую ошибку,
// чтобы аргументы запроса можно было собрать одним выражением.
type minorUnits struct {
	err error
}

func (m *minorUnits) of(d decimal.Decimal) int64 {
	v, err := model.ToMinor(d)
	if err != nil && m.err == nil {
		m.err = err
	}
	return v
}

// Ставки налога хранятся в базисных пунктах: 0.15 -> 1500.
func rateToBasisPoints(rate decimal.Decimal) int64 {
	return rate.Shift(4).Round(0).IntPart()
}

func basisPointsToRate(bp int64) decimal.Decimal {
	return decimal.New(bp, -4)
}
