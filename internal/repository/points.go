package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// GetPointsAccount возвращает счёт баллов участника; отсутствующий счёт считается пустым.
func (r *PostgresRepository) GetPointsAccount(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) (model.PointsAccount, error) {
	a := model.PointsAccount{MemberID: memberID, Program: program}
	err := r.pool.QueryRow(ctx,
		`SELECT balance, last_sequence, version FROM points_accounts WHERE member_id = $1 AND program = $2`,
		memberID, string(program),
	).Scan(&a.Balance, &a.LastSequence, &a.Version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return a, fmt.Errorf("get points account: %w", err)
	}
	return a, nil
}

// ListPointsTransactions возвращает журнал баллов участника, новые записи первыми.
func (r *PostgresRepository) ListPointsTransactions(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) ([]model.PointsTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, program, sequence, kind, points, balance_after, reference, created_at
		 FROM points_transactions
		 WHERE member_id = $1 AND program = $2
		 ORDER BY sequence DESC`,
		memberID, string(program),
	)
	if err != nil {
		return nil, fmt.Errorf("select points transactions: %w", err)
	}
	defer rows.Close()

	var res []model.PointsTransaction
	for rows.Next() {
		var (
			tx            model.PointsTransaction
			program, kind string
		)
		if err := rows.Scan(&tx.ID, &tx.MemberID, &program, &tx.Sequence, &kind, &tx.Points,
			&tx.BalanceAfter, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan points transaction: %w", err)
		}
		tx.Program = model.PointsProgram(program)
		tx.Kind = model.PointsTransactionKind(kind)
		res = append(res, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) LockPointsAccount(ctx context.Context, memberID uuid.UUID, program model.PointsProgram) (model.PointsAccount, error) {
	_, err := t.q.Exec(ctx,
		`INSERT INTO points_accounts (member_id, program) VALUES ($1, $2) ON CONFLICT (member_id, program) DO NOTHING`,
		memberID, string(program),
	)
	if err != nil {
		return model.PointsAccount{}, fmt.Errorf("ensure points account: %w", err)
	}

	a := model.PointsAccount{MemberID: memberID, Program: program}
	err = t.q.QueryRow(ctx,
		`SELECT balance, last_sequence, version FROM points_accounts
		 WHERE member_id = $1 AND program = $2 FOR UPDATE`,
		memberID, string(program),
	).Scan(&a.Balance, &a.LastSequence, &a.Version)
	if err != nil {
		return a, fmt.Errorf("lock points account: %w", err)
	}
	return a, nil
}

func (t *pgTx) SavePointsAccount(ctx context.Context, a model.PointsAccount, txs ...model.PointsTransaction) (model.PointsAccount, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE points_accounts SET balance = $4, last_sequence = $5, version = version + 1
		 WHERE member_id = $1 AND program = $2 AND version = $3`,
		a.MemberID, string(a.Program), a.Version, a.Balance, a.LastSequence,
	)
	if err != nil {
		return a, fmt.Errorf("update points account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return a, fmt.Errorf("%w: points account %s/%s version %d", ErrConcurrentModification, a.MemberID, a.Program, a.Version)
	}

	for _, tx := range txs {
		_, err := t.q.Exec(ctx,
			`INSERT INTO points_transactions (id, member_id, program, sequence, kind, points, balance_after, reference, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			tx.ID, tx.MemberID, string(tx.Program), tx.Sequence, string(tx.Kind), tx.Points, tx.BalanceAfter,
			tx.Reference, tx.CreatedAt,
		)
		if err != nil {
			return a, fmt.Errorf("insert points transaction: %w", err)
		}
	}

	a.Version++
	return a, nil
}

func (t *pgTx) CreateReferral(ctx context.Context, ref model.Referral) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO referrals (id, referrer_id, referee_id, created_at) VALUES ($1, $2, $3, $4)`,
		ref.ID, ref.ReferrerID, ref.RefereeID, ref.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: referee %s", ErrReferralExists, ref.RefereeID)
		}
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (t *pgTx) LockReferralByReferee(ctx context.Context, refereeID uuid.UUID) (model.Referral, error) {
	var ref model.Referral
	err := t.q.QueryRow(ctx,
		`SELECT id, referrer_id, referee_id, created_at, rewarded_at FROM referrals WHERE referee_id = $1 FOR UPDATE`,
		refereeID,
	).Scan(&ref.ID, &ref.ReferrerID, &ref.RefereeID, &ref.CreatedAt, &ref.RewardedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ref, ErrReferralNotFound
		}
		return ref, fmt.Errorf("lock referral: %w", err)
	}
	return ref, nil
}

func (t *pgTx) UpdateReferral(ctx context.Context, ref model.Referral) error {
	_, err := t.q.Exec(ctx, `UPDATE referrals SET rewarded_at = $2 WHERE id = $1`, ref.ID, ref.RewardedAt)
	if err != nil {
		return fmt.Errorf("update referral: %w", err)
	}
	return nil
}
