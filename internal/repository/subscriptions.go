package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/gym-billing/internal/model"
)

const subscriptionColumns = `id, member_id, plan_id, status, start_date, end_date, classes_remaining,
	frozen_at, freeze_end_date, freeze_days, freeze_extended_days, freeze_reason,
	cancelled_at, cancel_reason, version, created_at, updated_at`

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var (
		s      model.Subscription
		status string
	)
	err := row.Scan(&s.ID, &s.MemberID, &s.PlanID, &status, &s.StartDate, &s.EndDate, &s.ClassesRemaining,
		&s.FrozenAt, &s.FreezeEndDate, &s.FreezeDays, &s.FreezeExtendedDays, &s.FreezeReason,
		&s.CancelledAt, &s.CancelReason, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	s.Status = model.SubscriptionStatus(status)
	return s, err
}

func collectSubscriptions(rows pgx.Rows) ([]model.Subscription, error) {
	defer rows.Close()

	var res []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetSubscription возвращает абонемент.
func (r *PostgresRepository) GetSubscription(ctx context.Context, id uuid.UUID) (model.Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, ErrSubscriptionNotFound
		}
		return s, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

// ListSubscriptionsByMember возвращает абонементы участника, новые первыми.
func (r *PostgresRepository) ListSubscriptionsByMember(ctx context.Context, memberID uuid.UUID) ([]model.Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE member_id = $1 ORDER BY created_at DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// SubscriptionsDueForExpiry возвращает активные абонементы, дата окончания которых раньше today.
func (r *PostgresRepository) SubscriptionsDueForExpiry(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error) {
	return r.selectIDs(ctx,
		`SELECT id FROM subscriptions WHERE status = $1 AND end_date < $2 ORDER BY end_date LIMIT $3`,
		string(model.SubscriptionActive), today, limit,
	)
}

// FreezesElapsed возвращает замороженные абонементы, срок заморозки которых наступил.
func (r *PostgresRepository) FreezesElapsed(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error) {
	return r.selectIDs(ctx,
		`SELECT id FROM subscriptions WHERE status = $1 AND freeze_end_date <= $2 ORDER BY freeze_end_date LIMIT $3`,
		string(model.SubscriptionFrozen), today, limit,
	)
}

func (r *PostgresRepository) selectIDs(ctx context.Context, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

func (t *pgTx) CountSubscriptions(ctx context.Context, memberID uuid.UUID) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions WHERE member_id = $1`, memberID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func (t *pgTx) CreateSubscription(ctx context.Context, s model.Subscription) (model.Subscription, error) {
	s.Version = 1
	err := t.q.QueryRow(ctx,
		`INSERT INTO subscriptions (id, member_id, plan_id, status, start_date, end_date, classes_remaining, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		s.ID, s.MemberID, s.PlanID, string(s.Status), s.StartDate, s.EndDate, s.ClassesRemaining, s.Version,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, fmt.Errorf("insert subscription: %w", err)
	}
	return s, nil
}

func (t *pgTx) LockSubscription(ctx context.Context, id uuid.UUID) (model.Subscription, error) {
	s, err := scanSubscription(t.q.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, ErrSubscriptionNotFound
		}
		return s, fmt.Errorf("lock subscription: %w", err)
	}
	return s, nil
}

func (t *pgTx) LockPendingSubscriptions(ctx context.Context, memberID uuid.UUID) ([]model.Subscription, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE member_id = $1 AND status = $2
		 ORDER BY created_at
		 FOR UPDATE`,
		memberID, string(model.SubscriptionPending),
	)
	if err != nil {
		return nil, fmt.Errorf("lock pending subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (t *pgTx) UpdateSubscription(ctx context.Context, s model.Subscription) (model.Subscription, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE subscriptions SET
			status = $3, end_date = $4, classes_remaining = $5,
			frozen_at = $6, freeze_end_date = $7, freeze_days = $8, freeze_extended_days = $9, freeze_reason = $10,
			cancelled_at = $11, cancel_reason = $12,
			version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2`,
		s.ID, s.Version, string(s.Status), s.EndDate, s.ClassesRemaining,
		s.FrozenAt, s.FreezeEndDate, s.FreezeDays, s.FreezeExtendedDays, s.FreezeReason,
		s.CancelledAt, s.CancelReason,
	)
	if err != nil {
		return s, fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s, fmt.Errorf("%w: subscription %s version %d", ErrConcurrentModification, s.ID, s.Version)
	}
	s.Version++
	return s, nil
}

// GetFreezeBalance возвращает баланс заморозки абонемента.
func (r *PostgresRepository) GetFreezeBalance(ctx context.Context, subscriptionID uuid.UUID) (model.FreezeBalance, error) {
	return getFreezeBalance(ctx, r.pool, subscriptionID, "")
}

func (t *pgTx) LockFreezeBalance(ctx context.Context, subscriptionID uuid.UUID) (model.FreezeBalance, error) {
	return getFreezeBalance(ctx, t.q, subscriptionID, " FOR UPDATE")
}

func getFreezeBalance(ctx context.Context, q querier, subscriptionID uuid.UUID, lock string) (model.FreezeBalance, error) {
	var b model.FreezeBalance
	err := q.QueryRow(ctx,
		`SELECT subscription_id, total_freeze_days, used_freeze_days, extending_freeze_days, used_extending_days, version
		 FROM freeze_balances WHERE subscription_id = $1`+lock,
		subscriptionID,
	).Scan(&b.SubscriptionID, &b.TotalFreezeDays, &b.UsedFreezeDays, &b.ExtendingFreezeDays, &b.UsedExtendingDays, &b.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, ErrFreezeBalanceNotFound
		}
		return b, fmt.Errorf("get freeze balance: %w", err)
	}
	return b, nil
}

func (t *pgTx) CreateFreezeBalance(ctx context.Context, b model.FreezeBalance) (model.FreezeBalance, error) {
	b.Version = 1
	_, err := t.q.Exec(ctx,
		`INSERT INTO freeze_balances
			(subscription_id, total_freeze_days, used_freeze_days, extending_freeze_days, used_extending_days, version)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.SubscriptionID, b.TotalFreezeDays, b.UsedFreezeDays, b.ExtendingFreezeDays, b.UsedExtendingDays, b.Version,
	)
	if err != nil {
		return b, fmt.Errorf("insert freeze balance: %w", err)
	}
	return b, nil
}

func (t *pgTx) UpdateFreezeBalance(ctx context.Context, b model.FreezeBalance) (model.FreezeBalance, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE freeze_balances SET total_freeze_days = $3, used_freeze_days = $4,
			extending_freeze_days = $5, used_extending_days = $6, version = version + 1
		 WHERE subscription_id = $1 AND version = $2`,
		b.SubscriptionID, b.Version, b.TotalFreezeDays, b.UsedFreezeDays, b.ExtendingFreezeDays, b.UsedExtendingDays,
	)
	if err != nil {
		return b, fmt.Errorf("update freeze balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b, fmt.Errorf("%w: freeze balance %s version %d", ErrConcurrentModification, b.SubscriptionID, b.Version)
	}
	b.Version++
	return b, nil
}
